package sendq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTransmitProbeSendsSizedPing(t *testing.T) {
	env := newTestEnv(1500, 1<<20)
	env.path.ProbeSize = 1400
	env.path.Timeout = 2 * time.Second

	env.oq.TransmitProbe()

	if assert.Equal(t, 1, len(env.builder.Sent)) {
		probe := env.builder.Sent[0]
		assert.Equal(t, FramePing, probe.Kind)
		assert.Equal(t, 1400, probe.Len)
	}
	assert.Equal(t, 2*time.Second, env.timers.Armed[TimerPath])
	assert.NotEmpty(t, env.path.ProbesSent)
}

func TestTransmitProbeOnlyWhileEstablished(t *testing.T) {
	env := newTestEnv(1500, 1<<20)
	env.oq.SetState(SocketHandshaking)

	env.oq.TransmitProbe()

	assert.Empty(t, env.builder.Sent)
	assert.False(t, env.timers.IsArmed(TimerPath))
}

func TestTransmitProbeUpdatesMSSWhenAsked(t *testing.T) {
	env := newTestEnv(1500, 1<<20)
	env.path.ProbeSize = 1300
	env.path.PathMTU = 1300
	env.path.UpdateOnSend = true

	env.oq.TransmitProbe()

	assert.Equal(t, 1300, env.builder.mss)
}

func TestOnPathTimerSendsNextProbe(t *testing.T) {
	env := newTestEnv(1500, 1<<20)
	env.path.ProbeSize = 1400

	env.oq.OnPathTimer()

	assert.Equal(t, 1, len(env.builder.Sent))
}

func TestValidatePathLocalMigration(t *testing.T) {
	// A locally initiated migration swaps the active path and
	// clears the alternate-source bit everywhere.
	env := newTestEnv(1200, 1<<20)

	first := ctrlFrame(FramePing, LevelApplication, 1)
	first.PathAlt = PathAltDst
	second := ctrlFrame(FramePing, LevelApplication, 1)
	second.PathAlt = PathAltSrc | PathAltDst
	env.crypto.Ready = [NumLevels]bool{}
	env.oq.CtrlTail(first, true)
	env.oq.CtrlTail(second, true)
	env.crypto.Ready = [NumLevels]bool{true, true, true}

	sent := streamFrame(4, LevelApplication, 100, 0)
	sent.PathAlt = PathAltSrc
	env.seedTransmitted(sent, 5, env.clock.Now())

	trigger := ctrlFrame(FramePing, LevelApplication, 1)
	trigger.PathAlt = PathAltSrc

	env.oq.ValidatePath(trigger, true)

	assert.Equal(t, 1, env.path.Swapped)
	assert.Equal(t, 1, env.path.Freed)
	assert.Zero(t, env.path.SentCount)
	assert.True(t, env.timers.IsArmed(TimerPath))
	assert.Equal(t, PathAltDst, first.PathAlt, "unrelated bit untouched")
	assert.Equal(t, PathAltDst, second.PathAlt, "source bit cleared")
	assert.Zero(t, sent.PathAlt)
	assert.Zero(t, trigger.PathAlt)
	events := env.uplink.Delivered()
	if assert.Len(t, events, 1) {
		assert.Equal(t, EventConnectionMigration, events[0].Kind)
		assert.True(t, events[0].Local)
	}
}

func TestValidatePathPeerMigration(t *testing.T) {
	// A peer initiated migration clears the alternate-destination
	// bit and does not swap addresses.
	env := newTestEnv(1200, 1<<20)

	queued := ctrlFrame(FramePing, LevelApplication, 1)
	queued.PathAlt = PathAltDst
	env.crypto.Ready = [NumLevels]bool{}
	env.oq.CtrlTail(queued, true)
	env.crypto.Ready = [NumLevels]bool{true, true, true}

	sent := ctrlFrame(FramePing, LevelApplication, 1)
	sent.PathAlt = PathAltDst
	env.seedTransmitted(sent, 5, env.clock.Now())

	trigger := ctrlFrame(FramePing, LevelApplication, 1)
	trigger.PathAlt = PathAltDst

	env.oq.ValidatePath(trigger, false)

	assert.Zero(t, env.path.Swapped)
	assert.Zero(t, queued.PathAlt)
	assert.Zero(t, sent.PathAlt)
	assert.Zero(t, trigger.PathAlt)
}

func TestValidatePathVetoAbortsMigration(t *testing.T) {
	env := newTestEnv(1200, 1<<20)
	env.uplink.SetRefuse(true)

	trigger := ctrlFrame(FramePing, LevelApplication, 1)
	trigger.PathAlt = PathAltSrc

	env.oq.ValidatePath(trigger, true)

	assert.Zero(t, env.path.Swapped)
	assert.Equal(t, PathAltSrc, trigger.PathAlt)
	assert.False(t, env.timers.IsArmed(TimerPath))
}
