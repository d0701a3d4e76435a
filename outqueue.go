package sendq

//
// Outbound queue aggregate state
//

import (
	"sync"
	"time"
)

// SocketState is the coarse connection state the core cares about.
type SocketState int

// SocketIdle means the connection has not started yet.
const SocketIdle = SocketState(0)

// SocketHandshaking means the handshake is in progress.
const SocketHandshaking = SocketState(1)

// SocketEstablished means the handshake has completed.
const SocketEstablished = SocketState(2)

// SocketClosed means the connection is terminally closed.
const SocketClosed = SocketState(3)

// packetReorderThreshold is how many packet numbers a packet may lag
// behind the largest acknowledged one before being declared lost
// regardless of timing.
const packetReorderThreshold = 6

// minLossTimeout is the floor for an armed loss timer deadline.
const minLossTimeout = time.Microsecond

// probeRaiseTimeoutFactor scales the probe timeout when the PMTU
// state machine wants to keep raising after a confirmed probe.
const probeRaiseTimeoutFactor = 30

// Config contains configuration for creating an [OutQueue]. Make sure
// you initialize all the fields marked as MANDATORY.
type Config struct {
	// Builder is the MANDATORY packet builder.
	Builder PacketBuilder

	// Congestion is the MANDATORY congestion controller.
	Congestion CongestionController

	// PacketNumbers contains the MANDATORY per-level packet
	// number maps.
	PacketNumbers [NumLevels]PacketNumberMap

	// Crypto is the MANDATORY crypto state.
	Crypto CryptoState

	// Path is the MANDATORY path manager.
	Path PathManager

	// Timers is the MANDATORY timer host.
	Timers TimerHost

	// Uplink is the MANDATORY event uplink to the application.
	Uplink EventUplink

	// Memory is the OPTIONAL memory accountant. A [SocketMemory]
	// with no limit is used when this field is nil.
	Memory MemoryAccountant

	// Logger is the OPTIONAL logger. [NullLogger] when nil.
	Logger Logger

	// MaxIdleTimeout is the OPTIONAL locally configured idle
	// timeout, reconciled with the peer's in [OutQueue.SetParam].
	MaxIdleTimeout time.Duration

	// Disable1RTTEncryption OPTIONALLY offers to drop 1-RTT
	// packet protection; it only takes effect when the peer
	// agrees through its transport parameters.
	Disable1RTTEncryption bool
}

// TransportParams are the peer-advertised limits merged into the
// queue through [OutQueue.SetParam].
type TransportParams struct {
	// MaxData is the connection-level send window.
	MaxData int64

	// MaxDatagramFrameSize is the largest datagram frame the
	// peer accepts; zero means datagrams are not accepted.
	MaxDatagramFrameSize int

	// MaxUDPPayloadSize caps the size of our datagrams.
	MaxUDPPayloadSize int

	// AckDelayExponent scales the peer's reported ack delays.
	AckDelayExponent uint8

	// MaxIdleTimeout is the peer's idle timeout; zero disables.
	MaxIdleTimeout time.Duration

	// MaxAckDelay is how long the peer may delay its acks.
	MaxAckDelay time.Duration

	// GreaseQUICBit permits greasing the fixed bit.
	GreaseQUICBit bool

	// Disable1RTTEncryption is the peer's offer to drop 1-RTT
	// packet protection.
	Disable1RTTEncryption bool
}

// Counters is a point-in-time snapshot of the queue accounting,
// taken with [OutQueue.Counters].
type Counters struct {
	// DataInflight is the payload bytes currently in flight.
	DataInflight int

	// Inflight is the wire bytes currently in flight.
	Inflight int

	// Window is the congestion window.
	Window int

	// Bytes is the payload bytes charged against the connection
	// send window.
	Bytes int64

	// MaxBytes is the connection send window.
	MaxBytes int64

	// StreamQueue is the number of queued stream frames.
	StreamQueue int

	// ControlQueue is the number of queued control frames.
	ControlQueue int

	// DatagramQueue is the number of queued datagram frames.
	DatagramQueue int

	// TransmittedQueue is the number of frames awaiting ack.
	TransmittedQueue int

	// RtxCount is the consecutive retransmission timeouts seen
	// without forward progress.
	RtxCount int

	// BytesAcked is the total payload bytes acknowledged.
	BytesAcked int64

	// FramesLost is the total frames marked lost.
	FramesLost int64

	// BlockedEmitted is the total BLOCKED frames produced.
	BlockedEmitted int64

	// ProbesSent is the total PMTU/PTO probes produced.
	ProbesSent int64

	// DatagramsExpired is the total datagram frames dropped
	// because their deadline passed before transmission.
	DatagramsExpired int64
}

// OutQueue is the aggregate state of the outbound transmission core.
// The zero value is invalid; use [New] to construct. All exported
// methods serialize on an internal lock, so an OutQueue is safe for
// use by multiple goroutines.
type OutQueue struct {
	// mu is the per-socket exclusion lock.
	mu sync.Mutex

	// everything below is protected by mu

	builder    PacketBuilder
	congestion CongestionController
	pnmaps     [NumLevels]PacketNumberMap
	crypto     CryptoState
	path       PathManager
	timers     TimerHost
	uplink     EventUplink
	memory     MemoryAccountant
	logger     Logger

	streamList      frameList
	controlList     frameList
	datagramList    frameList
	transmittedList frameList

	dataInflight int
	inflight     int
	window       int

	bytes        int64
	maxBytes     int64
	lastMaxBytes int64
	dataBlocked  bool

	rtxCount  int
	dataLevel Level
	mss       int

	maxDatagramFrameSize  int
	maxUDPPayloadSize     int
	ackDelayExponent      uint8
	maxIdleTimeout        time.Duration
	maxAckDelay           time.Duration
	greaseQUICBit         bool
	disable1RTTEncryption bool
	localDisable1RTT      bool
	localIdleTimeout      time.Duration

	closeErrCode   uint64
	closeFrameType uint64
	closePhrase    string

	state    SocketState
	ecnMark  bool
	ecnProbe int

	streams map[int64]*StreamSendState

	// activeStream is the stream the pump is currently draining;
	// [NoStream] when no stream is mid-send.
	activeStream int64

	// ctrlDirty asks for one extra control pass at the end of the
	// current transmit cycle, bounding the flow-control gate
	// re-entry instead of recursing.
	ctrlDirty bool

	// encrypted is the queue of datagrams handed back by the
	// asynchronous crypto worker.
	encrypted []*Datagram

	// workerPending provides single-flight for the async worker.
	workerPending bool

	closed bool

	totBytesAcked    int64
	totFramesLost    int64
	totBlocked       int64
	totProbes        int64
	totDgramsExpired int64

	// timeNow is replaced by tests that need a fake clock.
	timeNow func() time.Time
}

// New creates a new [OutQueue] with the given configuration.
func New(cfg *Config) *OutQueue {
	logger := cfg.Logger
	if logger == nil {
		logger = &NullLogger{}
	}
	memory := cfg.Memory
	if memory == nil {
		memory = &SocketMemory{}
	}
	oq := &OutQueue{
		builder:          cfg.Builder,
		congestion:       cfg.Congestion,
		pnmaps:           cfg.PacketNumbers,
		crypto:           cfg.Crypto,
		path:             cfg.Path,
		timers:           cfg.Timers,
		uplink:           cfg.Uplink,
		memory:           memory,
		logger:           logger,
		dataLevel:        LevelApplication,
		localIdleTimeout: cfg.MaxIdleTimeout,
		localDisable1RTT: cfg.Disable1RTTEncryption,
		state:            SocketIdle,
		streams:          make(map[int64]*StreamSendState),
		activeStream:     NoStream,
		timeNow:          time.Now,
	}
	oq.window = cfg.Congestion.Window()
	return oq
}

// pn returns the packet number map of the given level.
func (oq *OutQueue) pn(level Level) PacketNumberMap {
	return oq.pnmaps[level]
}

// SetState moves the connection to the given coarse state. Entering
// [SocketEstablished] switches fresh application data to the
// Application encryption level.
func (oq *OutQueue) SetState(state SocketState) {
	defer oq.mu.Unlock()
	oq.mu.Lock()
	oq.state = state
	if state == SocketEstablished {
		oq.dataLevel = LevelApplication
	}
}

// State returns the current coarse connection state.
func (oq *OutQueue) State() SocketState {
	defer oq.mu.Unlock()
	oq.mu.Lock()
	return oq.state
}

// SetDataLevel sets the encryption level at which fresh application
// data is sent, e.g. to send 0-RTT data at the Initial level.
func (oq *OutQueue) SetDataLevel(level Level) {
	defer oq.mu.Unlock()
	oq.mu.Lock()
	oq.dataLevel = level
}

// RegisterStream registers send-side accounting for a stream with the
// given peer-advertised send window and returns it. Registering an
// already known stream updates its window.
func (oq *OutQueue) RegisterStream(id int64, maxBytes int64) *StreamSendState {
	defer oq.mu.Unlock()
	oq.mu.Lock()
	return oq.registerStreamLocked(id, maxBytes)
}

func (oq *OutQueue) registerStreamLocked(id int64, maxBytes int64) *StreamSendState {
	s := oq.streams[id]
	if s == nil {
		s = &StreamSendState{
			ID:       id,
			State:    StreamReady,
			MaxBytes: maxBytes,
		}
		oq.streams[id] = s
		return s
	}
	s.MaxBytes = maxBytes
	return s
}

// Stream returns the send-side accounting of a stream.
func (oq *OutQueue) Stream(id int64) (*StreamSendState, error) {
	defer oq.mu.Unlock()
	oq.mu.Lock()
	s := oq.streams[id]
	if s == nil {
		return nil, ErrUnknownStream
	}
	return s, nil
}

// streamOf resolves the weak stream reference of a frame. A frame
// for an unknown stream auto-registers with the connection window,
// so a caller that skipped RegisterStream still gets accounting.
func (oq *OutQueue) streamOf(f *Frame) *StreamSendState {
	if f.StreamID == NoStream {
		return nil
	}
	s := oq.streams[f.StreamID]
	if s == nil {
		s = oq.registerStreamLocked(f.StreamID, oq.maxBytes)
	}
	return s
}

// SetMaxBytes raises the connection-level send window, e.g. after
// the peer sent MAX_DATA.
func (oq *OutQueue) SetMaxBytes(n int64) {
	defer oq.mu.Unlock()
	oq.mu.Lock()
	if n > oq.maxBytes {
		oq.maxBytes = n
	}
}

// SetParam merges the peer-advertised transport parameters into the
// queue: it adopts the peer limits, sizes the socket send buffer at
// twice the connection window, reconciles the idle timeout with the
// local value, and drops the AEAD tag length when both sides agreed
// to disable 1-RTT encryption.
func (oq *OutQueue) SetParam(p *TransportParams) {
	defer oq.mu.Unlock()
	oq.mu.Lock()
	oq.maxBytes = p.MaxData
	oq.memory.SetLimit(2 * p.MaxData)
	oq.maxDatagramFrameSize = p.MaxDatagramFrameSize
	oq.maxUDPPayloadSize = p.MaxUDPPayloadSize
	oq.ackDelayExponent = p.AckDelayExponent
	oq.maxAckDelay = p.MaxAckDelay
	oq.greaseQUICBit = p.GreaseQUICBit
	oq.maxIdleTimeout = p.MaxIdleTimeout
	if oq.localIdleTimeout > 0 && (oq.maxIdleTimeout == 0 || oq.localIdleTimeout < oq.maxIdleTimeout) {
		oq.maxIdleTimeout = oq.localIdleTimeout
	}
	oq.disable1RTTEncryption = p.Disable1RTTEncryption
	if oq.disable1RTTEncryption && oq.localDisable1RTT {
		oq.builder.SetTagLen(0)
	}
}

// Counters returns a snapshot of the queue accounting.
func (oq *OutQueue) Counters() Counters {
	defer oq.mu.Unlock()
	oq.mu.Lock()
	return Counters{
		DataInflight:     oq.dataInflight,
		Inflight:         oq.inflight,
		Window:           oq.window,
		Bytes:            oq.bytes,
		MaxBytes:         oq.maxBytes,
		StreamQueue:      oq.streamList.len(),
		ControlQueue:     oq.controlList.len(),
		DatagramQueue:    oq.datagramList.len(),
		TransmittedQueue: oq.transmittedList.len(),
		RtxCount:         oq.rtxCount,
		BytesAcked:       oq.totBytesAcked,
		FramesLost:       oq.totFramesLost,
		BlockedEmitted:   oq.totBlocked,
		ProbesSent:       oq.totProbes,
		DatagramsExpired: oq.totDgramsExpired,
	}
}

// freeFrame releases a frame and uncharges its memory.
func (oq *OutQueue) freeFrame(f *Frame) {
	oq.memory.Uncharge(f.Len)
}

// StreamPurge drops every frame belonging to the given stream from
// the transmitted and the stream queues, fixing up the inflight
// accounting for transmitted entries. Call it on stream reset.
func (oq *OutQueue) StreamPurge(id int64) {
	defer oq.mu.Unlock()
	oq.mu.Lock()
	for i := 0; i < oq.transmittedList.len(); {
		f := oq.transmittedList.at(i)
		if f.StreamID != id {
			i++
			continue
		}
		oq.transmittedList.removeAt(i)
		oq.pn(f.Level).SubInflight(f.Len)
		oq.inflight -= f.Len
		oq.dataInflight -= f.Bytes
		oq.freeFrame(f)
	}
	for i := 0; i < oq.streamList.len(); {
		f := oq.streamList.at(i)
		if f.StreamID != id {
			i++
			continue
		}
		oq.streamList.removeAt(i)
		oq.freeFrame(f)
	}
	delete(oq.streams, id)
	if oq.activeStream == id {
		oq.activeStream = NoStream
	}
}

// purgeListLocked drops every frame of a queue, uncharging memory.
func (oq *OutQueue) purgeListLocked(fl *frameList) {
	for _, f := range fl.drain() {
		oq.freeFrame(f)
	}
}

// Close purges every queue, drops the pending encrypted datagrams,
// stops the timers, and marks the queue as closed. Further enqueues
// are discarded. Close is idempotent.
func (oq *OutQueue) Close() error {
	defer oq.mu.Unlock()
	oq.mu.Lock()
	if oq.closed {
		return nil
	}
	oq.closed = true
	oq.state = SocketClosed
	for i := 0; i < oq.transmittedList.len(); i++ {
		f := oq.transmittedList.at(i)
		oq.pn(f.Level).SubInflight(f.Len)
	}
	oq.purgeListLocked(&oq.transmittedList)
	oq.purgeListLocked(&oq.streamList)
	oq.purgeListLocked(&oq.controlList)
	oq.purgeListLocked(&oq.datagramList)
	oq.dataInflight = 0
	oq.inflight = 0
	oq.encrypted = nil
	oq.timers.Stop(TimerLossInitial)
	oq.timers.Stop(TimerLossHandshake)
	oq.timers.Stop(TimerLossApplication)
	oq.timers.Stop(TimerPath)
	return nil
}
