package sendq

//
// Data model
//

import (
	"errors"
	"time"
)

// Level is a QUIC encryption level. Each level has its own packet
// number space, crypto keys, loss timer, and [PacketNumberMap].
type Level uint8

// LevelInitial is the Initial encryption level.
const LevelInitial = Level(0)

// LevelHandshake is the Handshake encryption level.
const LevelHandshake = Level(1)

// LevelApplication is the Application (1-RTT) encryption level.
const LevelApplication = Level(2)

// NumLevels is the number of encryption levels.
const NumLevels = 3

// String implements fmt.Stringer.
func (lv Level) String() string {
	switch lv {
	case LevelInitial:
		return "initial"
	case LevelHandshake:
		return "handshake"
	case LevelApplication:
		return "application"
	default:
		return "invalid"
	}
}

// Datagram is an assembled UDP datagram handed to the transmitter. The
// [PacketBuilder] produces these; the async crypto tail carries them
// back through [OutQueue.EncryptedTail] once encrypted.
type Datagram struct {
	// Payload contains the datagram payload.
	Payload []byte

	// Encrypted indicates whether Payload is already encrypted.
	Encrypted bool
}

// ConfigVerdict is the verdict of [PacketBuilder.Config] about
// whether a frame may enter the packet currently being built.
type ConfigVerdict int

// ConfigProceed means the frame may be appended.
const ConfigProceed = ConfigVerdict(0)

// ConfigFiltered means the frame is filtered out and the caller
// should skip it and continue with the next frame.
const ConfigFiltered = ConfigVerdict(1)

// ConfigStop means the caller should stop the current pass.
const ConfigStop = ConfigVerdict(-1)

// PacketBuilder assembles frames into packets and datagrams. The
// [OutQueue] treats it as an opaque builder: it never sees the wire
// layout. All methods are invoked with the queue lock held.
//
// The builder calls [OutQueue.TransmittedTail] for each frame of a
// packet it emits, after filling in the frame's Number and
// TransmitTime.
type PacketBuilder interface {
	// Config prepares the builder for a frame at the given level
	// directed at the given alternate path.
	Config(level Level, pathAlt PathAltFlags) ConfigVerdict

	// Tail appends a frame to the packet being built. It returns
	// false when the current packet is full, in which case the
	// caller should emit the packet with Create and retry.
	Tail(frame *Frame, dgram bool) bool

	// Create emits the packet being built and starts a fresh one.
	Create()

	// Flush emits any pending packet and datagram. It returns true
	// if at least one datagram was handed to the transmitter.
	Flush() bool

	// Xmit transmits a single datagram.
	Xmit(dg *Datagram)

	// UpdateMSS updates the maximum segment size.
	UpdateMSS(size int)

	// SetFilter restricts (on=true) or unrestricts (on=false) the
	// builder to packets of the given level.
	SetFilter(level Level, on bool)

	// TagLen returns the AEAD tag length in bytes.
	TagLen() int

	// SetTagLen sets the AEAD tag length in bytes.
	SetTagLen(n int)
}

// CongestionController abstracts the congestion control algorithm.
type CongestionController interface {
	// UpdateRTT feeds a new RTT observation taken from a packet
	// transmitted at transmitTime and acknowledged with the given
	// peer-reported delay.
	UpdateRTT(transmitTime time.Time, ackDelay time.Duration)

	// RTO returns the current retransmission timeout.
	RTO() time.Duration

	// Duration returns the base loss-timer duration.
	Duration() time.Duration

	// Window returns the current congestion window in bytes.
	Window() int

	// OnAck updates the congestion window after an acknowledgment
	// covering ackedBytes, observed at the given packet number and
	// transmit time, with inflight bytes still outstanding.
	OnAck(number int64, transmitTime time.Time, ackedBytes int, inflight int)

	// OnPacketLost updates the congestion window after the packet
	// with the given number, transmitted at transmitTime, was
	// declared lost. The last argument is the highest number sent
	// so far in the packet's number space.
	OnPacketLost(number int64, transmitTime time.Time, last int64)
}

// PacketNumberMap tracks inflight wire bytes and per-packet-number
// metadata for one encryption level.
type PacketNumberMap interface {
	// NextNumber returns the next packet number to be assigned.
	NextNumber() int64

	// OnSent records that a packet with the given number and wire
	// length was transmitted at the given time.
	OnSent(number int64, wireLen int, transmitTime time.Time)

	// Inflight returns the inflight wire bytes.
	Inflight() int

	// SubInflight subtracts wire bytes from the inflight count.
	SubInflight(n int)

	// LossTime returns the recorded loss timestamp, or the zero
	// time when none is recorded.
	LossTime() time.Time

	// SetLossTime records the loss timestamp.
	SetLossTime(t time.Time)

	// LastSentTime returns when the most recent packet was sent.
	LastSentTime() time.Time

	// MaxNumberAcked returns the largest packet number acked.
	MaxNumberAcked() int64

	// SetMaxNumberAcked records the largest packet number acked.
	SetMaxNumberAcked(n int64)

	// SetMaxRecordTime arms the point in time after which old
	// per-number records may be recycled.
	SetMaxRecordTime(t time.Time)
}

// CryptoState exposes the per-level crypto readiness and key
// update scheduling of the connection.
type CryptoState interface {
	// SendReady returns true when keys for the given level are
	// installed and packets at that level may be sent.
	SendReady(level Level) bool

	// SetKeyUpdateTime schedules the next key update to happen
	// no earlier than the given interval from now.
	SetKeyUpdateTime(d time.Duration)
}

// PathManager owns the path address table and the path-MTU discovery
// state machine.
type PathManager interface {
	// ConfirmProbe tells the PMTU state machine that the inclusive
	// packet number range [smallest, largest] was acknowledged. It
	// returns true when the acknowledgment confirmed a probe.
	ConfirmProbe(largest, smallest int64) bool

	// ProbeResult reports whether the state machine wants to raise
	// the PMTU further and whether probing is complete. Only
	// meaningful after ConfirmProbe returned true.
	ProbeResult() (raise bool, complete bool)

	// MTU returns the currently validated path MTU.
	MTU() int

	// NextProbeSize returns the size of the next PMTU probe.
	NextProbeSize() int

	// ProbeSent records that a probe was sent as the given packet
	// number and returns true when the MSS should be updated now.
	ProbeSent(number int64) bool

	// ProbeTimeout returns how long to wait for a probe ack.
	ProbeTimeout() time.Duration

	// SwapActive swaps the active and alternate path addresses.
	SwapActive()

	// FreeAltAddr releases the superseded path address.
	FreeAltAddr()

	// SetSentCount resets the per-path send counter.
	SetSentCount(n int)
}

// TimerKind identifies one of the timers the core maintains.
type TimerKind int

// TimerLossInitial is the Initial-level loss timer.
const TimerLossInitial = TimerKind(0)

// TimerLossHandshake is the Handshake-level loss timer.
const TimerLossHandshake = TimerKind(1)

// TimerLossApplication is the Application-level loss timer.
const TimerLossApplication = TimerKind(2)

// TimerPath is the path probing timer.
const TimerPath = TimerKind(3)

// lossTimerKind maps an encryption level to its loss timer.
func lossTimerKind(level Level) TimerKind {
	return TimerKind(level)
}

// TimerHost arms and disarms timers on behalf of the core. When a
// loss timer fires the host must call [OutQueue.OnLossTimer]; when
// the path timer fires it must call [OutQueue.OnPathTimer].
type TimerHost interface {
	// Reset (re)arms the timer to fire after d.
	Reset(kind TimerKind, d time.Duration)

	// Reduce arms the timer to fire after d, unless it is already
	// armed to fire sooner. Arming through Reduce never pushes the
	// deadline later.
	Reduce(kind TimerKind, d time.Duration)

	// Stop disarms the timer.
	Stop(kind TimerKind)
}

// EventKind is the kind of an [Event] delivered to the application.
type EventKind int

// EventStreamUpdate reports a stream send-state change.
const EventStreamUpdate = EventKind(0)

// EventConnectionMigration reports a path migration about to happen.
const EventConnectionMigration = EventKind(1)

// EventConnectionClose reports that the connection is closing.
const EventConnectionClose = EventKind(2)

// Event is a notification delivered to the application.
type Event struct {
	// Kind is the event kind.
	Kind EventKind

	// StreamID is the subject stream for EventStreamUpdate.
	StreamID int64

	// State is the new send state for EventStreamUpdate.
	State StreamState

	// ErrCode is the application or transport error code.
	ErrCode uint64

	// FrameType is the frame type that caused a close.
	FrameType uint64

	// Local is true when a migration was locally initiated.
	Local bool
}

// EventUplink delivers events to the application. Deliver returns
// false when the application cannot accept the event right now. For a
// stream update the core then leaves the affected state untouched and
// retries on a later ack; a refused migration is abandoned; a refused
// close event makes the core send the close frame on the wire.
type EventUplink interface {
	Deliver(ev *Event) bool
}

// MemoryAccountant charges and uncharges the socket send buffer as
// frames enter and leave the core.
type MemoryAccountant interface {
	// Charge unconditionally accounts n bytes.
	Charge(n int)

	// TryCharge accounts n bytes and returns false when the send
	// buffer budget is exhausted.
	TryCharge(n int) bool

	// Uncharge releases n bytes.
	Uncharge(n int)

	// SetLimit resizes the send buffer budget.
	SetLimit(n int64)
}

// Logger is the logger we're using.
type Logger interface {
	// Debugf formats and emits a debug message.
	Debugf(format string, v ...any)

	// Debug emits a debug message.
	Debug(message string)

	// Infof formats and emits an informational message.
	Infof(format string, v ...any)

	// Info emits an informational message.
	Info(message string)

	// Warnf formats and emits a warning message.
	Warnf(format string, v ...any)

	// Warn emits a warning message.
	Warn(message string)
}

// NullLogger is a [Logger] that does not emit any message.
type NullLogger struct{}

var _ Logger = &NullLogger{}

// Debug implements Logger
func (nl *NullLogger) Debug(message string) {
	// nothing
}

// Debugf implements Logger
func (nl *NullLogger) Debugf(format string, v ...any) {
	// nothing
}

// Info implements Logger
func (nl *NullLogger) Info(message string) {
	// nothing
}

// Infof implements Logger
func (nl *NullLogger) Infof(format string, v ...any) {
	// nothing
}

// Warn implements Logger
func (nl *NullLogger) Warn(message string) {
	// nothing
}

// Warnf implements Logger
func (nl *NullLogger) Warnf(format string, v ...any) {
	// nothing
}

// ErrQueueClosed indicates that the [OutQueue] has been closed.
var ErrQueueClosed = errors.New("sendq: queue closed")

// ErrUnknownStream indicates that a stream ID is not registered.
var ErrUnknownStream = errors.New("sendq: unknown stream")
