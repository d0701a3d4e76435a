package sendq

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransmitCloseZeroErrcodeIsNoop(t *testing.T) {
	env := newTestEnv(1200, 1<<20)
	env.oq.TransmitClose(0x1c, 0, LevelApplication)
	assert.Empty(t, env.builder.Sent)
	assert.Empty(t, env.uplink.Delivered())
	assert.Equal(t, SocketEstablished, env.oq.State())
}

func TestTransmitCloseAbsorbedByUplink(t *testing.T) {
	// When the application takes the close event no wire frame
	// goes out.
	env := newTestEnv(1200, 1<<20)
	env.oq.TransmitClose(0x1c, 7, LevelApplication)

	events := env.uplink.Delivered()
	if assert.Len(t, events, 1) {
		assert.Equal(t, EventConnectionClose, events[0].Kind)
		assert.Equal(t, uint64(7), events[0].ErrCode)
		assert.Equal(t, uint64(0x1c), events[0].FrameType)
	}
	assert.Empty(t, env.builder.Sent)
	assert.Equal(t, SocketEstablished, env.oq.State())
}

func TestTransmitCloseEmitsFrameOnRefusal(t *testing.T) {
	env := newTestEnv(1200, 1<<20)
	env.uplink.SetRefuse(true)

	env.oq.TransmitClose(0x1c, 7, LevelApplication)

	if assert.Equal(t, 1, len(env.builder.Sent)) {
		frame := env.builder.Sent[0]
		assert.Equal(t, FrameConnectionClose, frame.Kind)
		assert.Equal(t, uint64(7), frame.ErrCode)
		assert.Equal(t, uint64(0x1c), frame.CloseFrameType)
		assert.Equal(t, LevelApplication, frame.Level)
	}
	assert.Equal(t, SocketClosed, env.oq.State())
}

func TestTransmitAppCloseWhileEstablished(t *testing.T) {
	env := newTestEnv(1200, 1<<20)

	env.oq.TransmitAppClose(3, "done")

	if assert.Equal(t, 1, len(env.builder.Sent)) {
		frame := env.builder.Sent[0]
		assert.Equal(t, FrameConnectionCloseApp, frame.Kind)
		assert.Equal(t, LevelApplication, frame.Level)
		assert.Equal(t, uint64(3), frame.ErrCode)
		assert.Equal(t, "done", frame.Phrase)
	}
	assert.Equal(t, SocketClosed, env.oq.State())
}

func TestTransmitAppCloseWhileHandshaking(t *testing.T) {
	// During the handshake the application close turns into a
	// transport-level close at the Initial level.
	env := newTestEnv(1200, 1<<20)
	env.oq.SetState(SocketHandshaking)

	env.oq.TransmitAppClose(3, "")

	if assert.Equal(t, 1, len(env.builder.Sent)) {
		frame := env.builder.Sent[0]
		assert.Equal(t, FrameConnectionClose, frame.Kind)
		assert.Equal(t, LevelInitial, frame.Level)
	}
	assert.Equal(t, SocketClosed, env.oq.State())
}

func TestTransmitAppCloseWhileIdleOrClosed(t *testing.T) {
	for _, state := range []SocketState{SocketIdle, SocketClosed} {
		env := newTestEnv(1200, 1<<20)
		env.oq.SetState(state)
		env.oq.TransmitAppClose(3, "")
		assert.Empty(t, env.builder.Sent)
		assert.Equal(t, state, env.oq.State())
	}
}
