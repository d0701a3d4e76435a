package sendq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTransmitCoalescesCorkedWrites(t *testing.T) {
	// Three corked writes on one stream must ship together in a
	// single transmit cycle once the last write uncorks.
	env := newTestEnv(1200, 12000)
	env.oq.SetParam(&TransportParams{MaxData: 10000})
	env.oq.RegisterStream(4, 1000)

	env.oq.StreamTail(streamFrame(4, LevelApplication, 400, 0), true)
	env.oq.StreamTail(streamFrame(4, LevelApplication, 400, 400), true)
	assert.Empty(t, env.builder.Datagrams, "corked writes must not transmit")

	env.oq.StreamTail(streamFrame(4, LevelApplication, 400, 800), false)

	s := Must1(env.oq.Stream(4))
	assert.Equal(t, 1200, env.oq.Counters().DataInflight)
	assert.Equal(t, int64(1200), s.Bytes)
	assert.Equal(t, 3, s.Frags)
	assert.Equal(t, 3, env.oq.Counters().TransmittedQueue)
	assert.NotEmpty(t, env.builder.Datagrams)
}

func TestTransmitConnectionStallEmitsDataBlocked(t *testing.T) {
	// A connection-level stall produces one DATA_BLOCKED frame and
	// keeps the stream frame queued.
	env := newTestEnv(1200, 12000)
	env.oq.SetParam(&TransportParams{MaxData: 1000})
	env.oq.RegisterStream(4, 10000)
	env.oq.mu.Lock()
	env.oq.bytes = 800
	env.oq.mu.Unlock()

	env.oq.StreamTail(streamFrame(4, LevelApplication, 300, 0), false)

	counters := env.oq.Counters()
	assert.Equal(t, 1, counters.StreamQueue, "stream frame must stay queued")
	assert.True(t, env.oq.dataBlocked)
	assert.Equal(t, int64(1000), env.oq.lastMaxBytes)
	assert.Equal(t, int64(1), counters.BlockedEmitted)

	// The DATA_BLOCKED frame itself must have shipped in the same
	// flush cycle.
	var kinds []FrameKind
	for _, f := range env.builder.Sent {
		kinds = append(kinds, f.Kind)
	}
	assert.Contains(t, kinds, FrameDataBlocked)

	// A second stall within the same window epoch stays silent.
	env.oq.Transmit()
	assert.Equal(t, int64(1), env.oq.Counters().BlockedEmitted)
}

func TestTransmitStreamStallEmitsStreamDataBlocked(t *testing.T) {
	env := newTestEnv(1200, 12000)
	env.oq.SetParam(&TransportParams{MaxData: 100000})
	env.oq.RegisterStream(4, 200)

	env.oq.StreamTail(streamFrame(4, LevelApplication, 300, 0), false)

	s := Must1(env.oq.Stream(4))
	assert.True(t, s.DataBlocked)
	assert.Equal(t, int64(200), s.LastMaxBytes)
	assert.Equal(t, 1, env.oq.Counters().StreamQueue)

	// Raising the stream window unblocks the frame; the blocked
	// marker stays up until the peer acks the BLOCKED frame.
	env.oq.RegisterStream(4, 1000)
	env.oq.Transmit()
	assert.Equal(t, 0, env.oq.Counters().StreamQueue)
	assert.Equal(t, 300, env.oq.Counters().DataInflight)
}

func TestTransmitPureCongestionStallStaysSilent(t *testing.T) {
	// Congestion stalls produce no BLOCKED frame.
	env := newTestEnv(1200, 200)
	env.oq.RegisterStream(4, 10000)
	env.oq.StreamTail(streamFrame(4, LevelApplication, 300, 0), false)

	counters := env.oq.Counters()
	assert.Equal(t, 1, counters.StreamQueue)
	assert.Zero(t, counters.BlockedEmitted)
	assert.False(t, env.oq.dataBlocked)
}

func TestTransmitDatagramPassRespectsWindow(t *testing.T) {
	env := newTestEnv(1200, 500)
	env.oq.DgramTail(dgramFrame(300), true)
	env.oq.DgramTail(dgramFrame(300), false)

	counters := env.oq.Counters()
	assert.Equal(t, 300, counters.DataInflight, "second datagram exceeds the window")
	assert.Equal(t, 1, counters.DatagramQueue)
}

func TestTransmitDropsExpiredDatagrams(t *testing.T) {
	env := newTestEnv(1200, 12000)
	expired := dgramFrame(300)
	expired.Expiry = env.clock.Now().Add(-time.Second)
	env.oq.DgramTail(expired, true)
	env.oq.DgramTail(dgramFrame(200), false)

	counters := env.oq.Counters()
	assert.Equal(t, int64(1), counters.DatagramsExpired)
	assert.Equal(t, 200, counters.DataInflight)
	assert.Zero(t, counters.DatagramQueue)
}

func TestTransmitStopsWhenCryptoNotReady(t *testing.T) {
	env := newTestEnv(1200, 12000)
	env.crypto.Ready[LevelApplication] = false
	env.oq.RegisterStream(4, 10000)
	env.oq.StreamTail(streamFrame(4, LevelApplication, 300, 0), false)
	env.oq.DgramTail(dgramFrame(100), false)

	counters := env.oq.Counters()
	assert.Equal(t, 1, counters.StreamQueue)
	assert.Equal(t, 1, counters.DatagramQueue)
	assert.Zero(t, counters.DataInflight)
}

func TestTransmitCtrlPassStopsAtUnreadyLevel(t *testing.T) {
	// Control frames whose level has no keys stall the whole pass:
	// later frames may depend on the stalled one.
	env := newTestEnv(1200, 12000)
	env.crypto.Ready[LevelHandshake] = false
	env.oq.CtrlTail(ctrlFrame(FramePing, LevelApplication, 1), true)
	env.oq.CtrlTail(ctrlFrame(FrameCrypto, LevelHandshake, 50), false)

	assert.Equal(t, 2, env.oq.Counters().ControlQueue)
	assert.Empty(t, env.builder.Sent)
}

func TestTransmitPacketFullEmitsAndRetries(t *testing.T) {
	// Two 700-byte frames exceed a 1200-byte packet: the first
	// packet is emitted and the second frame retried into a fresh
	// one, producing two datagrams in one cycle.
	env := newTestEnv(1200, 12000)
	env.oq.RegisterStream(4, 10000)
	env.oq.StreamTail(streamFrame(4, LevelApplication, 700, 0), true)
	env.oq.StreamTail(streamFrame(4, LevelApplication, 700, 700), false)

	assert.Equal(t, 2, len(env.builder.Datagrams))
	assert.Equal(t, 2, env.oq.Counters().TransmittedQueue)
	if assert.Equal(t, 2, len(env.builder.Sent)) {
		assert.NotEqual(t, env.builder.Sent[0].Number, env.builder.Sent[1].Number)
	}
}

func TestTransmitHandshakeDataBeforeApplicationData(t *testing.T) {
	env := newTestEnv(1200, 12000)
	env.oq.RegisterStream(4, 10000)
	env.oq.StreamTail(streamFrame(4, LevelApplication, 100, 0), true)
	env.oq.CtrlTail(ctrlFrame(FrameCrypto, LevelHandshake, 200), false)

	if assert.Equal(t, 2, len(env.builder.Sent)) {
		assert.Equal(t, LevelHandshake, env.builder.Sent[0].Level)
		assert.Equal(t, LevelApplication, env.builder.Sent[1].Level)
	}
}
