package sendq

//
// Static collaborators for tests and simulations
//

import (
	"sync"
	"time"
)

// StaticPacketBuilder is a [PacketBuilder] that accumulates frames
// into fixed-capacity packets and collects the emitted datagrams. Use
// it to drive an [OutQueue] without a real wire underneath. The zero
// value is invalid; use [NewStaticPacketBuilder] to construct.
type StaticPacketBuilder struct {
	// mss is the packet capacity in wire bytes.
	mss int

	// oq is set by BindQueue and receives TransmittedTail calls.
	oq *OutQueue

	// clock assigns transmit timestamps.
	clock func() time.Time

	// next is the next packet number per level.
	next [NumLevels]int64

	// packet accumulates the frames of the packet being built.
	packet []*Frame

	// packetLen is the wire length of the packet being built.
	packetLen int

	// level is the level of the packet being built.
	level Level

	// filter, filterOn restrict packing to one level.
	filter   Level
	filterOn bool

	// taglen is the AEAD tag length.
	taglen int

	// flushed is how many datagrams the previous Flush had seen.
	flushed int

	// Datagrams collects everything handed to the transmitter.
	Datagrams []*Datagram

	// Sent collects every frame of every emitted packet, in
	// emission order.
	Sent []*Frame
}

var _ PacketBuilder = &StaticPacketBuilder{}

// NewStaticPacketBuilder creates a [StaticPacketBuilder] with the
// given packet capacity.
func NewStaticPacketBuilder(mss int) *StaticPacketBuilder {
	b := &StaticPacketBuilder{
		mss:    mss,
		clock:  time.Now,
		taglen: 16,
	}
	// Packet number zero is reserved: frames awaiting ack always
	// have a positive number.
	for i := range b.next {
		b.next[i] = 1
	}
	return b
}

// BindQueue connects the builder to the queue that will receive the
// transmitted frames. Call it right after [New].
func (b *StaticPacketBuilder) BindQueue(oq *OutQueue) {
	b.oq = oq
}

// SetClock replaces the transmit timestamp source.
func (b *StaticPacketBuilder) SetClock(clock func() time.Time) {
	b.clock = clock
}

// Config implements PacketBuilder
func (b *StaticPacketBuilder) Config(level Level, pathAlt PathAltFlags) ConfigVerdict {
	if b.filterOn && level != b.filter {
		return ConfigFiltered
	}
	if len(b.packet) > 0 && level != b.level {
		// Level switch: emit what we have and start over.
		b.Create()
	}
	b.level = level
	return ConfigProceed
}

// Tail implements PacketBuilder
func (b *StaticPacketBuilder) Tail(frame *Frame, dgram bool) bool {
	if b.packetLen+frame.Len > b.mss {
		return false
	}
	b.packet = append(b.packet, frame)
	b.packetLen += frame.Len
	return true
}

// Create implements PacketBuilder
func (b *StaticPacketBuilder) Create() {
	if len(b.packet) <= 0 {
		return
	}
	number := b.next[b.level]
	b.next[b.level]++
	now := b.clock()
	payloadLen := 0
	for _, f := range b.packet {
		f.Number = number
		f.TransmitTime = now
		payloadLen += f.Len
		b.Sent = append(b.Sent, f)
		b.oq.TransmittedTail(f)
	}
	b.Datagrams = append(b.Datagrams, &Datagram{
		Payload: make([]byte, payloadLen+b.taglen),
	})
	b.packet = nil
	b.packetLen = 0
}

// Flush implements PacketBuilder
func (b *StaticPacketBuilder) Flush() bool {
	b.Create()
	sent := len(b.Datagrams) > b.flushed
	b.flushed = len(b.Datagrams)
	return sent
}

// Xmit implements PacketBuilder
func (b *StaticPacketBuilder) Xmit(dg *Datagram) {
	b.Datagrams = append(b.Datagrams, dg)
}

// UpdateMSS implements PacketBuilder
func (b *StaticPacketBuilder) UpdateMSS(size int) {
	b.mss = size
}

// SetFilter implements PacketBuilder
func (b *StaticPacketBuilder) SetFilter(level Level, on bool) {
	b.filter = level
	b.filterOn = on
}

// TagLen implements PacketBuilder
func (b *StaticPacketBuilder) TagLen() int {
	return b.taglen
}

// SetTagLen implements PacketBuilder
func (b *StaticPacketBuilder) SetTagLen(n int) {
	b.taglen = n
}

// NextNumber returns the next packet number the builder will assign
// at the given level.
func (b *StaticPacketBuilder) NextNumber(level Level) int64 {
	return b.next[level]
}

// StaticCongestion is a [CongestionController] with fixed parameters
// that records the calls it received.
type StaticCongestion struct {
	// Cwnd is the congestion window returned by Window.
	Cwnd int

	// RTODuration is returned by RTO.
	RTODuration time.Duration

	// BaseDuration is returned by Duration; when zero, Duration
	// returns RTODuration instead.
	BaseDuration time.Duration

	// RTTUpdates records the UpdateRTT calls.
	RTTUpdates []time.Duration

	// AckedBytes sums the bytes reported through OnAck.
	AckedBytes int

	// LostPackets records the numbers reported lost.
	LostPackets []int64
}

var _ CongestionController = &StaticCongestion{}

// UpdateRTT implements CongestionController
func (cc *StaticCongestion) UpdateRTT(transmitTime time.Time, ackDelay time.Duration) {
	cc.RTTUpdates = append(cc.RTTUpdates, ackDelay)
}

// RTO implements CongestionController
func (cc *StaticCongestion) RTO() time.Duration {
	return cc.RTODuration
}

// Duration implements CongestionController
func (cc *StaticCongestion) Duration() time.Duration {
	if cc.BaseDuration > 0 {
		return cc.BaseDuration
	}
	return cc.RTODuration
}

// Window implements CongestionController
func (cc *StaticCongestion) Window() int {
	return cc.Cwnd
}

// OnAck implements CongestionController
func (cc *StaticCongestion) OnAck(number int64, transmitTime time.Time, ackedBytes int, inflight int) {
	cc.AckedBytes += ackedBytes
}

// OnPacketLost implements CongestionController
func (cc *StaticCongestion) OnPacketLost(number int64, transmitTime time.Time, last int64) {
	cc.LostPackets = append(cc.LostPackets, number)
}

// StaticPNMap is an in-memory [PacketNumberMap].
type StaticPNMap struct {
	next       int64
	inflight   int
	lossTime   time.Time
	lastSent   time.Time
	maxAcked   int64
	maxRecord  time.Time
	recordSets int
}

var _ PacketNumberMap = &StaticPNMap{}

// NextNumber implements PacketNumberMap
func (pm *StaticPNMap) NextNumber() int64 {
	return pm.next
}

// OnSent implements PacketNumberMap
func (pm *StaticPNMap) OnSent(number int64, wireLen int, transmitTime time.Time) {
	if number >= pm.next {
		pm.next = number + 1
	}
	pm.inflight += wireLen
	pm.lastSent = transmitTime
}

// Inflight implements PacketNumberMap
func (pm *StaticPNMap) Inflight() int {
	return pm.inflight
}

// SubInflight implements PacketNumberMap
func (pm *StaticPNMap) SubInflight(n int) {
	pm.inflight -= n
}

// LossTime implements PacketNumberMap
func (pm *StaticPNMap) LossTime() time.Time {
	return pm.lossTime
}

// SetLossTime implements PacketNumberMap
func (pm *StaticPNMap) SetLossTime(t time.Time) {
	pm.lossTime = t
}

// LastSentTime implements PacketNumberMap
func (pm *StaticPNMap) LastSentTime() time.Time {
	return pm.lastSent
}

// MaxNumberAcked implements PacketNumberMap
func (pm *StaticPNMap) MaxNumberAcked() int64 {
	return pm.maxAcked
}

// SetMaxNumberAcked implements PacketNumberMap
func (pm *StaticPNMap) SetMaxNumberAcked(n int64) {
	pm.maxAcked = n
}

// SetMaxRecordTime implements PacketNumberMap
func (pm *StaticPNMap) SetMaxRecordTime(t time.Time) {
	pm.maxRecord = t
	pm.recordSets++
}

// StaticCrypto is a [CryptoState] with per-level readiness flags.
type StaticCrypto struct {
	// Ready holds the per-level readiness.
	Ready [NumLevels]bool

	// KeyUpdates records the SetKeyUpdateTime calls.
	KeyUpdates []time.Duration
}

var _ CryptoState = &StaticCrypto{}

// NewStaticCrypto creates a [StaticCrypto] with every level ready.
func NewStaticCrypto() *StaticCrypto {
	return &StaticCrypto{Ready: [NumLevels]bool{true, true, true}}
}

// SendReady implements CryptoState
func (sc *StaticCrypto) SendReady(level Level) bool {
	return sc.Ready[level]
}

// SetKeyUpdateTime implements CryptoState
func (sc *StaticCrypto) SetKeyUpdateTime(d time.Duration) {
	sc.KeyUpdates = append(sc.KeyUpdates, d)
}

// StaticPath is a [PathManager] driven by preset answers.
type StaticPath struct {
	// ConfirmAnswer is returned by ConfirmProbe.
	ConfirmAnswer bool

	// Raise and Complete are returned by ProbeResult.
	Raise    bool
	Complete bool

	// PathMTU is returned by MTU.
	PathMTU int

	// ProbeSize is returned by NextProbeSize.
	ProbeSize int

	// UpdateOnSend is returned by ProbeSent.
	UpdateOnSend bool

	// Timeout is returned by ProbeTimeout.
	Timeout time.Duration

	// Swapped counts SwapActive calls.
	Swapped int

	// Freed counts FreeAltAddr calls.
	Freed int

	// SentCount records the last SetSentCount value.
	SentCount int

	// ProbesSent records the ProbeSent packet numbers.
	ProbesSent []int64
}

var _ PathManager = &StaticPath{}

// ConfirmProbe implements PathManager
func (sp *StaticPath) ConfirmProbe(largest, smallest int64) bool {
	return sp.ConfirmAnswer
}

// ProbeResult implements PathManager
func (sp *StaticPath) ProbeResult() (raise, complete bool) {
	return sp.Raise, sp.Complete
}

// MTU implements PathManager
func (sp *StaticPath) MTU() int {
	return sp.PathMTU
}

// NextProbeSize implements PathManager
func (sp *StaticPath) NextProbeSize() int {
	return sp.ProbeSize
}

// ProbeSent implements PathManager
func (sp *StaticPath) ProbeSent(number int64) bool {
	sp.ProbesSent = append(sp.ProbesSent, number)
	return sp.UpdateOnSend
}

// ProbeTimeout implements PathManager
func (sp *StaticPath) ProbeTimeout() time.Duration {
	return sp.Timeout
}

// SwapActive implements PathManager
func (sp *StaticPath) SwapActive() {
	sp.Swapped++
}

// FreeAltAddr implements PathManager
func (sp *StaticPath) FreeAltAddr() {
	sp.Freed++
}

// SetSentCount implements PathManager
func (sp *StaticPath) SetSentCount(n int) {
	sp.SentCount = n
}

// StaticTimerHost is a [TimerHost] recording the armed deadlines as
// durations from the arming instant.
type StaticTimerHost struct {
	// Armed maps each timer to its pending duration.
	Armed map[TimerKind]time.Duration

	// Reduces counts the Reduce calls per timer.
	Reduces map[TimerKind]int
}

var _ TimerHost = &StaticTimerHost{}

// NewStaticTimerHost creates a [StaticTimerHost].
func NewStaticTimerHost() *StaticTimerHost {
	return &StaticTimerHost{
		Armed:   make(map[TimerKind]time.Duration),
		Reduces: make(map[TimerKind]int),
	}
}

// Reset implements TimerHost
func (th *StaticTimerHost) Reset(kind TimerKind, d time.Duration) {
	th.Armed[kind] = d
}

// Reduce implements TimerHost
func (th *StaticTimerHost) Reduce(kind TimerKind, d time.Duration) {
	th.Reduces[kind]++
	current, ok := th.Armed[kind]
	if !ok || d < current {
		th.Armed[kind] = d
	}
}

// Stop implements TimerHost
func (th *StaticTimerHost) Stop(kind TimerKind) {
	delete(th.Armed, kind)
}

// IsArmed returns whether the timer is armed.
func (th *StaticTimerHost) IsArmed(kind TimerKind) bool {
	_, ok := th.Armed[kind]
	return ok
}

// StaticUplink is an [EventUplink] collecting delivered events. Set
// Refuse to make it reject deliveries.
type StaticUplink struct {
	// mu protects the fields below: the async worker path may
	// deliver from another goroutine.
	mu sync.Mutex

	// Refuse makes Deliver return false without recording.
	Refuse bool

	// Events collects the accepted events.
	Events []*Event
}

var _ EventUplink = &StaticUplink{}

// Deliver implements EventUplink
func (su *StaticUplink) Deliver(ev *Event) bool {
	defer su.mu.Unlock()
	su.mu.Lock()
	if su.Refuse {
		return false
	}
	su.Events = append(su.Events, ev)
	return true
}

// SetRefuse flips whether deliveries are refused.
func (su *StaticUplink) SetRefuse(refuse bool) {
	defer su.mu.Unlock()
	su.mu.Lock()
	su.Refuse = refuse
}

// Delivered returns a snapshot of the accepted events.
func (su *StaticUplink) Delivered() []*Event {
	defer su.mu.Unlock()
	su.mu.Lock()
	out := make([]*Event, len(su.Events))
	copy(out, su.Events)
	return out
}
