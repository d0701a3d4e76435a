package sendq

//
// Outbound frames
//

import "time"

// FrameKind is the kind of an outbound [Frame].
type FrameKind int

// FrameStream carries stream payload bytes.
const FrameStream = FrameKind(0)

// FrameDatagram carries an unreliable datagram payload.
const FrameDatagram = FrameKind(1)

// FrameCrypto carries handshake payload at Initial or Handshake level.
const FrameCrypto = FrameKind(2)

// FramePing elicits an acknowledgment; sized-up PINGs probe the PMTU.
const FramePing = FrameKind(3)

// FrameResetStream abruptly terminates the sending part of a stream.
const FrameResetStream = FrameKind(4)

// FrameStreamDataBlocked reports a stream-level flow control stall.
const FrameStreamDataBlocked = FrameKind(5)

// FrameDataBlocked reports a connection-level flow control stall.
const FrameDataBlocked = FrameKind(6)

// FrameConnectionClose closes the connection with a transport error.
const FrameConnectionClose = FrameKind(7)

// FrameConnectionCloseApp closes the connection with an application
// error.
const FrameConnectionCloseApp = FrameKind(8)

// FrameMaxStreamData raises the peer's stream send window.
const FrameMaxStreamData = FrameKind(9)

// String implements fmt.Stringer.
func (k FrameKind) String() string {
	switch k {
	case FrameStream:
		return "stream"
	case FrameDatagram:
		return "datagram"
	case FrameCrypto:
		return "crypto"
	case FramePing:
		return "ping"
	case FrameResetStream:
		return "reset_stream"
	case FrameStreamDataBlocked:
		return "stream_data_blocked"
	case FrameDataBlocked:
		return "data_blocked"
	case FrameConnectionClose:
		return "connection_close"
	case FrameConnectionCloseApp:
		return "connection_close_app"
	case FrameMaxStreamData:
		return "max_stream_data"
	default:
		return "invalid"
	}
}

// PathAltFlags marks which alternate path a frame targets while a
// new path is being validated.
type PathAltFlags uint8

// PathAltSrc marks frames using the alternate source address.
const PathAltSrc = PathAltFlags(1 << 0)

// PathAltDst marks frames using the alternate destination address.
const PathAltDst = PathAltFlags(1 << 1)

// NoStream is the StreamID of frames not owned by any stream.
const NoStream = int64(-1)

// Frame is the unit of work of the outbound core. A frame is created
// by the frame builder elsewhere in the stack, is owned by exactly one
// queue at a time, and is released by the core when acknowledged,
// purged, or expired.
type Frame struct {
	// Kind is the frame kind.
	Kind FrameKind

	// Level is the encryption level at which the frame is sent.
	Level Level

	// Bytes is the payload byte count charged against flow control
	// and the congestion window. Zero for pure control frames.
	Bytes int

	// Len is the wire length charged against the per-level
	// packet number map.
	Len int

	// Offset is the stream offset, used as a tie break when
	// re-inserting retransmitted frames.
	Offset int64

	// StreamID identifies the owning stream, or [NoStream].
	StreamID int64

	// Fin is set on the final frame of a stream.
	Fin bool

	// PathAlt marks which alternate path the frame targets.
	PathAlt PathAltFlags

	// ECN records whether the packet carrying the frame was
	// ECN-marked when sent.
	ECN bool

	// Number is the packet number, filled in by the packet builder
	// once the frame has been transmitted.
	Number int64

	// TransmitTime is when the frame was transmitted, filled in by
	// the packet builder.
	TransmitTime time.Time

	// Expiry is the optional deadline after which a datagram frame
	// is dropped rather than sent.
	Expiry time.Time

	// ErrCode is the error code carried by RESET_STREAM and
	// CONNECTION_CLOSE frames.
	ErrCode uint64

	// CloseFrameType is the offending frame type carried by a
	// CONNECTION_CLOSE frame.
	CloseFrameType uint64

	// Phrase is the reason phrase of a CONNECTION_CLOSE frame.
	Phrase string
}

// expired returns whether a datagram frame's deadline has passed.
func (f *Frame) expired(now time.Time) bool {
	return f.Kind == FrameDatagram && !f.Expiry.IsZero() && now.After(f.Expiry)
}
