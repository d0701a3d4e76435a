package sendq

//
// Shared test harness
//

import (
	"time"
)

// testClock is a settable fake clock.
type testClock struct {
	now time.Time
}

// newTestClock creates a [testClock] starting at a fixed instant.
func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

// Now returns the current fake instant.
func (tc *testClock) Now() time.Time {
	return tc.now
}

// Advance moves the fake clock forward.
func (tc *testClock) Advance(d time.Duration) {
	tc.now = tc.now.Add(d)
}

// testEnv bundles an [OutQueue] with static collaborators and a fake
// clock, so scenarios control time and observe every side effect.
type testEnv struct {
	oq      *OutQueue
	builder *StaticPacketBuilder
	cong    *StaticCongestion
	pns     [NumLevels]*StaticPNMap
	crypto  *StaticCrypto
	path    *StaticPath
	timers  *StaticTimerHost
	uplink  *StaticUplink
	memory  *SocketMemory
	clock   *testClock
}

// newTestEnv creates a [testEnv] with the given packet capacity and
// congestion window. The connection starts established with a large
// connection-level send window.
func newTestEnv(mss, cwnd int) *testEnv {
	env := &testEnv{
		builder: NewStaticPacketBuilder(mss),
		cong: &StaticCongestion{
			Cwnd:        cwnd,
			RTODuration: 100 * time.Millisecond,
		},
		crypto: NewStaticCrypto(),
		path: &StaticPath{
			PathMTU:   mss,
			ProbeSize: mss,
			Timeout:   time.Second,
		},
		timers: NewStaticTimerHost(),
		uplink: &StaticUplink{},
		memory: &SocketMemory{},
		clock:  newTestClock(),
	}
	var pns [NumLevels]PacketNumberMap
	for i := range env.pns {
		env.pns[i] = &StaticPNMap{}
		pns[i] = env.pns[i]
	}
	env.oq = New(&Config{
		Builder:       env.builder,
		Congestion:    env.cong,
		PacketNumbers: pns,
		Crypto:        env.crypto,
		Path:          env.path,
		Timers:        env.timers,
		Uplink:        env.uplink,
		Memory:        env.memory,
		Logger:        &NullLogger{},
	})
	env.oq.timeNow = env.clock.Now
	env.builder.BindQueue(env.oq)
	env.builder.SetClock(env.clock.Now)
	env.oq.SetState(SocketEstablished)
	env.oq.SetParam(&TransportParams{MaxData: 1 << 20})
	return env
}

// streamFrame builds a stream frame whose wire length equals its
// payload length.
func streamFrame(streamID int64, level Level, bytes int, offset int64) *Frame {
	return &Frame{
		Kind:     FrameStream,
		Level:    level,
		Bytes:    bytes,
		Len:      bytes,
		Offset:   offset,
		StreamID: streamID,
	}
}

// ctrlFrame builds a zero-byte control frame.
func ctrlFrame(kind FrameKind, level Level, wireLen int) *Frame {
	return &Frame{
		Kind:     kind,
		Level:    level,
		Len:      wireLen,
		StreamID: NoStream,
	}
}

// dgramFrame builds a datagram frame.
func dgramFrame(bytes int) *Frame {
	return &Frame{
		Kind:     FrameDatagram,
		Level:    LevelApplication,
		Bytes:    bytes,
		Len:      bytes,
		StreamID: NoStream,
	}
}

// seedTransmitted places a frame directly on the transmitted queue
// as if it had been enqueued and emitted, bypassing the pump.
func (env *testEnv) seedTransmitted(f *Frame, number int64, transmitTime time.Time) {
	env.memory.Charge(f.Len)
	f.Number = number
	f.TransmitTime = transmitTime
	if number >= env.builder.next[f.Level] {
		env.builder.next[f.Level] = number + 1
	}
	env.oq.TransmittedTail(f)
	env.oq.dataInflight += f.Bytes
	if f.Bytes > 0 && f.StreamID != NoStream {
		s := env.oq.registerStreamLocked(f.StreamID, env.oq.maxBytes)
		s.Frags++
		s.Bytes += int64(f.Bytes)
		env.oq.bytes += int64(f.Bytes)
		if s.State == StreamReady {
			s.State = StreamSend
		}
	}
}

// transmittedNumbers lists the packet numbers currently awaiting
// acknowledgment, in queue order.
func (env *testEnv) transmittedNumbers() []int64 {
	var numbers []int64
	for i := 0; i < env.oq.transmittedList.len(); i++ {
		numbers = append(numbers, env.oq.transmittedList.at(i).Number)
	}
	return numbers
}
