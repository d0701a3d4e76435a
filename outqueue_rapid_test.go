package sendq

import (
	"testing"
	"time"

	"pgregory.net/rapid"
)

// checkQueueInvariants asserts the accounting identities that must
// hold between any two operations on the queue.
func checkQueueInvariants(t *rapid.T, env *testEnv) {
	oq := env.oq

	// payload bytes awaiting ack add up to the inflight counter
	sum := 0
	wire := 0
	for i := 0; i < oq.transmittedList.len(); i++ {
		f := oq.transmittedList.at(i)
		if f.Bytes > 0 {
			sum += f.Bytes
		}
		wire += f.Len
	}
	if sum != oq.dataInflight {
		t.Fatalf("data inflight mismatch: frames hold %d, counter says %d", sum, oq.dataInflight)
	}
	if wire != oq.inflight {
		t.Fatalf("wire inflight mismatch: frames hold %d, counter says %d", wire, oq.inflight)
	}

	// no Application frame ahead of a handshake-time frame
	for _, fl := range []*frameList{&oq.controlList, &oq.transmittedList} {
		seenApp := false
		for i := 0; i < fl.len(); i++ {
			if fl.at(i).Level == LevelApplication {
				seenApp = true
				continue
			}
			if seenApp {
				t.Fatalf("handshake-time frame after an application frame at index %d", i)
			}
		}
	}

	// every frame awaiting ack has a number and per-stream frags
	// count exactly the payload-bearing frames awaiting ack
	frags := make(map[int64]int)
	for i := 0; i < oq.transmittedList.len(); i++ {
		f := oq.transmittedList.at(i)
		if f.Number <= 0 {
			t.Fatalf("transmitted frame without a number: %v", f.Kind)
		}
		if f.Bytes > 0 && f.StreamID != NoStream {
			frags[f.StreamID]++
		}
	}
	for id, s := range oq.streams {
		if s.Frags != frags[id] {
			t.Fatalf("stream %d frags=%d but %d frames await ack", id, s.Frags, frags[id])
		}
	}

	// the loss timer is armed exactly when the level has inflight
	for level := Level(0); level < NumLevels; level++ {
		armed := env.timers.IsArmed(lossTimerKind(level))
		busy := env.pns[level].Inflight() > 0
		if armed != busy {
			t.Fatalf("%s loss timer armed=%v with inflight=%d", level, armed, env.pns[level].Inflight())
		}
	}

	// memory charges equal the wire bytes the core currently owns
	owned := 0
	for _, fl := range []*frameList{&oq.streamList, &oq.controlList, &oq.datagramList, &oq.transmittedList} {
		for i := 0; i < fl.len(); i++ {
			owned += fl.at(i).Len
		}
	}
	if got := env.memory.Allocated(); got != int64(owned) {
		t.Fatalf("memory accountant holds %d but queues own %d", got, owned)
	}
}

func TestOutQueueStateMachineProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		env := newTestEnv(1200, 12000)
		env.oq.SetParam(&TransportParams{MaxData: 64 * 1024})

		offsets := make(map[int64]int64)
		lastMaxBytes := env.oq.lastMaxBytes

		t.Repeat(map[string]func(*rapid.T){
			"enqueue": func(t *rapid.T) {
				streamID := rapid.Int64Range(0, 3).Draw(t, "stream")
				size := rapid.IntRange(1, 800).Draw(t, "size")
				cork := rapid.Bool().Draw(t, "cork")
				f := streamFrame(streamID, LevelApplication, size, offsets[streamID])
				offsets[streamID] += int64(size)
				env.oq.StreamTail(f, cork)
			},
			"dgram": func(t *rapid.T) {
				size := rapid.IntRange(1, 800).Draw(t, "size")
				env.oq.DgramTail(dgramFrame(size), rapid.Bool().Draw(t, "cork"))
			},
			"transmit": func(t *rapid.T) {
				env.oq.Transmit()
			},
			"ack": func(t *rapid.T) {
				n := env.oq.transmittedList.len()
				if n == 0 {
					return
				}
				var numbers []int64
				for i := 0; i < n; i++ {
					numbers = append(numbers, env.oq.transmittedList.at(i).Number)
				}
				pick := numbers[rapid.IntRange(0, n-1).Draw(t, "pick")]
				span := rapid.Int64Range(0, 4).Draw(t, "span")
				smallest := pick - span
				if smallest < 1 {
					smallest = 1
				}
				env.oq.TransmittedSack(LevelApplication, smallest, pick, pick, 0)
			},
			"lose": func(t *rapid.T) {
				env.oq.RetransmitMark(LevelApplication, rapid.Bool().Draw(t, "immediate"))
			},
			"timer": func(t *rapid.T) {
				env.oq.OnLossTimer(LevelApplication)
			},
			"advance": func(t *rapid.T) {
				nanos := rapid.Int64Range(0, int64(200*time.Millisecond)).Draw(t, "nanos")
				env.clock.Advance(time.Duration(nanos))
			},
			"": func(t *rapid.T) {
				checkQueueInvariants(t, env)

				// BLOCKED frames at most once per window epoch
				if env.oq.lastMaxBytes < lastMaxBytes {
					t.Fatalf("lastMaxBytes moved backwards: %d -> %d", lastMaxBytes, env.oq.lastMaxBytes)
				}
				lastMaxBytes = env.oq.lastMaxBytes
			},
		})
	})
}
