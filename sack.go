package sendq

//
// Acknowledgment processing
//

import "time"

// TransmittedSack processes an acknowledgment for the inclusive
// packet number range [smallest, largest] at the given encryption
// level. ackLargest is the largest number reported by the ack frame
// itself and ackDelay the peer-reported delay for it: the RTT sample
// is taken from the single frame carrying that number.
//
// Acked frames are retired from the transmitted queue, stream state
// machines advance (gated on the application accepting the matching
// event), BLOCKED bookkeeping is cleared, and the congestion
// controller is fed. It returns the total payload bytes acked.
func (oq *OutQueue) TransmittedSack(level Level, smallest, largest int64, ackLargest int64, ackDelay time.Duration) int {
	defer oq.mu.Unlock()
	oq.mu.Lock()

	pn := oq.pn(level)
	if largest > pn.MaxNumberAcked() {
		pn.SetMaxNumberAcked(largest)
	}

	oq.probeFeedbackLocked(largest, smallest)

	acked := 0
	firstNumber := int64(-1)
	var firstTransmit time.Time

	// Walk the transmitted queue most-recent first.
	for i := oq.transmittedList.len() - 1; i >= 0; i-- {
		f := oq.transmittedList.at(i)
		if f.Level != level {
			continue
		}
		if f.Number > largest {
			continue
		}
		if f.Number < smallest {
			break
		}
		if f.Number == ackLargest {
			oq.congestion.UpdateRTT(f.TransmitTime, ackDelay)
			rto := oq.congestion.RTO()
			pn.SetMaxRecordTime(oq.timeNow().Add(2 * rto))
			oq.crypto.SetKeyUpdateTime(2 * rto)
		}
		if firstNumber < 0 {
			// Most recent acked frame: the congestion RTT
			// observation point.
			firstNumber = f.Number
			firstTransmit = f.TransmitTime
		}
		if f.ECN {
			oq.ecnMark = true
		}
		if !oq.retireFrameLocked(f) {
			// The application could not take the matching
			// event; leave the frame linked and retry on a
			// later ack.
			continue
		}
		oq.transmittedList.removeAt(i)
		pn.SubInflight(f.Len)
		oq.dataInflight -= f.Bytes
		oq.inflight -= f.Len
		acked += f.Bytes
		oq.freeFrame(f)
	}

	oq.rtxCount = 0
	if acked > 0 {
		oq.totBytesAcked += int64(acked)
		oq.congestion.OnAck(firstNumber, firstTransmit, acked, oq.dataInflight)
		oq.window = oq.congestion.Window()
	}
	oq.updateLossTimerLocked(level)
	return acked
}

// retireFrameLocked advances the per-frame state machines for an
// acked frame. It returns false when the application refused the
// event and the frame must stay linked.
func (oq *OutQueue) retireFrameLocked(f *Frame) bool {
	if f.Bytes > 0 && f.StreamID != NoStream {
		s := oq.streamOf(f)
		s.Frags--
		if s.Frags == 0 && s.State == StreamSent {
			ev := &Event{
				Kind:     EventStreamUpdate,
				StreamID: s.ID,
				State:    StreamDataRecvd,
			}
			if !oq.uplink.Deliver(ev) {
				s.Frags++
				return false
			}
			s.State = StreamDataRecvd
		}
		return true
	}
	switch f.Kind {
	case FrameResetStream:
		s := oq.streamOf(f)
		ev := &Event{
			Kind:     EventStreamUpdate,
			StreamID: f.StreamID,
			State:    StreamResetRecvd,
			ErrCode:  f.ErrCode,
		}
		if !oq.uplink.Deliver(ev) {
			return false
		}
		if s != nil {
			s.State = StreamResetRecvd
		}
	case FrameStreamDataBlocked:
		if s := oq.streamOf(f); s != nil {
			s.DataBlocked = false
		}
	case FrameDataBlocked:
		oq.dataBlocked = false
	}
	return true
}

// probeFeedbackLocked feeds an acked range to the PMTU state machine
// and applies whatever it decided: adopt a bigger MSS, send another
// probe, or slow down to a long raise timer.
func (oq *OutQueue) probeFeedbackLocked(largest, smallest int64) {
	if !oq.path.ConfirmProbe(largest, smallest) {
		return
	}
	raise, complete := oq.path.ProbeResult()
	if mtu := oq.path.MTU(); mtu != oq.mss {
		oq.mss = mtu
		oq.builder.UpdateMSS(mtu)
	}
	if !complete {
		oq.transmitProbeLocked()
	}
	if raise {
		oq.timers.Reset(TimerPath, probeRaiseTimeoutFactor*oq.path.ProbeTimeout())
	}
}
