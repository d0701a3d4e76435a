package sendq

//
// Per-stream send state
//

// StreamState is the send-side state of a stream, following the
// RFC 9000 section 3.1 state machine.
type StreamState int

// StreamReady means the stream has not sent anything yet.
const StreamReady = StreamState(0)

// StreamSend means the stream is sending data.
const StreamSend = StreamState(1)

// StreamSent means the stream has sent its final frame and is
// waiting for everything to be acknowledged.
const StreamSent = StreamState(2)

// StreamDataRecvd means the peer acknowledged all stream data.
const StreamDataRecvd = StreamState(3)

// StreamResetSent means a RESET_STREAM frame has been sent.
const StreamResetSent = StreamState(4)

// StreamResetRecvd means the peer acknowledged the RESET_STREAM.
const StreamResetRecvd = StreamState(5)

// String implements fmt.Stringer.
func (st StreamState) String() string {
	switch st {
	case StreamReady:
		return "ready"
	case StreamSend:
		return "send"
	case StreamSent:
		return "sent"
	case StreamDataRecvd:
		return "data_recvd"
	case StreamResetSent:
		return "reset_sent"
	case StreamResetRecvd:
		return "reset_recvd"
	default:
		return "invalid"
	}
}

// StreamSendState is the send-side accounting of a single stream. The
// core references streams weakly, by ID, so a stream outlives the
// frames pointing at it.
type StreamSendState struct {
	// ID is the stream ID.
	ID int64

	// State is the current send state.
	State StreamState

	// Bytes counts the payload bytes charged against the stream
	// send window.
	Bytes int64

	// MaxBytes is the stream send window advertised by the peer.
	MaxBytes int64

	// LastMaxBytes is the value of MaxBytes when the last
	// STREAM_DATA_BLOCKED frame was produced. A new BLOCKED frame
	// is produced at most once per MaxBytes epoch.
	LastMaxBytes int64

	// Frags counts the stream's payload-bearing frames currently
	// awaiting acknowledgment.
	Frags int

	// DataBlocked is set while a STREAM_DATA_BLOCKED frame for
	// this stream is outstanding.
	DataBlocked bool
}
