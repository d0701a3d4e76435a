package sendq

//
// Loss detection and retransmission
//

import "time"

// RetransmitMark scans the transmitted queue at the given level and
// declares frames lost. With immediate=false a frame survives while
// its retransmission timeout has not elapsed and it trails the
// largest acked number by less than the reordering threshold; the
// first surviving frame records the level's loss timestamp and stops
// the scan. With immediate=true every frame at the level is marked.
//
// Lost stream and control frames move back to their outbound queues
// in retransmission order; lost datagrams are dropped, because
// datagrams are never retransmitted. It returns how many frames were
// marked for retransmission.
func (oq *OutQueue) RetransmitMark(level Level, immediate bool) int {
	defer oq.mu.Unlock()
	oq.mu.Lock()
	return oq.retransmitMarkLocked(level, immediate)
}

func (oq *OutQueue) retransmitMarkLocked(level Level, immediate bool) int {
	pn := oq.pn(level)
	last := pn.NextNumber() - 1
	now := oq.timeNow()
	rto := oq.congestion.RTO()
	pn.SetLossTime(time.Time{})

	marked := 0
	freedBytes := 0
	i := 0
	for i < oq.transmittedList.len() {
		f := oq.transmittedList.at(i)
		if f.Level != level {
			i++
			continue
		}
		if !immediate && f.TransmitTime.Add(rto).After(now) &&
			f.Number+packetReorderThreshold > pn.MaxNumberAcked() {
			// Not yet lost: remember when it will be and
			// leave the rest of the queue alone.
			pn.SetLossTime(f.TransmitTime.Add(rto))
			break
		}
		oq.transmittedList.removeAt(i)
		pn.SubInflight(f.Len)
		oq.inflight -= f.Len
		oq.dataInflight -= f.Bytes
		if f.Bytes > 0 {
			oq.congestion.OnPacketLost(f.Number, f.TransmitTime, last)
			oq.window = oq.congestion.Window()
		}
		if f.Kind == FrameDatagram {
			freedBytes += f.Len
			continue
		}
		oq.retransmitOneLocked(f)
		marked++
		oq.totFramesLost++
	}
	if freedBytes > 0 {
		oq.memory.Uncharge(freedBytes)
	}
	oq.updateLossTimerLocked(level)
	if marked > 0 {
		oq.logger.Debugf("sendq: %d %s frames marked lost", marked, level)
	}
	return marked
}

// retransmitOneLocked re-inserts a lost frame into the proper
// outbound queue, preserving the (level, offset) ordering. The bytes
// of a payload-bearing frame are uncounted here and counted again
// when the frame is resent.
func (oq *OutQueue) retransmitOneLocked(f *Frame) {
	f.Number = 0
	f.TransmitTime = time.Time{}
	f.ECN = false
	if f.Bytes > 0 {
		if s := oq.streamOf(f); s != nil {
			s.Frags--
			s.Bytes -= int64(f.Bytes)
		}
		oq.bytes -= int64(f.Bytes)
		oq.streamList.insertRetransmit(f)
		return
	}
	oq.controlList.insertRetransmit(f)
}

// updateLossTimerLocked rearms the loss timer of a level: an empty
// level stops the timer; otherwise a recorded loss timestamp wins,
// and failing that the deadline is the last send plus the congestion
// duration scaled by the consecutive timeouts seen. Arming goes
// through the timer host's reduce semantics, so it never pushes an
// armed deadline later.
func (oq *OutQueue) updateLossTimerLocked(level Level) {
	pn := oq.pn(level)
	kind := lossTimerKind(level)
	if pn.Inflight() == 0 {
		pn.SetLossTime(time.Time{})
		oq.timers.Stop(kind)
		return
	}
	var deadline time.Time
	if lt := pn.LossTime(); !lt.IsZero() {
		deadline = lt
	} else {
		deadline = pn.LastSentTime().Add(oq.congestion.Duration() * time.Duration(1+oq.rtxCount))
	}
	now := oq.timeNow()
	if !deadline.After(now) {
		deadline = now.Add(minLossTimeout)
	}
	oq.timers.Reduce(kind, deadline.Sub(now))
}

// OnLossTimer is the loss timer fire handler for one level. It tries
// to transmit pending frames at that level alone; failing that, it
// marks losses and tries again; failing that, it emits a PING probe
// so the peer has something to acknowledge. Every fire counts one
// retransmission timeout and rearms the timer.
func (oq *OutQueue) OnLossTimer(level Level) {
	defer oq.mu.Unlock()
	oq.mu.Lock()
	if oq.closed {
		return
	}
	oq.builder.SetFilter(level, true)
	sent := oq.transmitLocked()
	if !sent {
		oq.retransmitMarkLocked(level, false)
		sent = oq.transmitLocked()
	}
	if !sent {
		oq.emitPingLocked(level, pingFrameLen)
		oq.transmitLocked()
	}
	oq.builder.SetFilter(level, false)
	oq.rtxCount++
	oq.updateLossTimerLocked(level)
}

// pingFrameLen is the nominal wire length of a bare PING frame.
const pingFrameLen = 1

// emitPingLocked creates and control-enqueues a PING frame of the
// given wire length. Oversized PINGs probe the path MTU. Returns
// false when the send buffer budget has no room.
func (oq *OutQueue) emitPingLocked(level Level, wireLen int) bool {
	if !oq.memory.TryCharge(wireLen) {
		return false
	}
	f := &Frame{
		Kind:     FramePing,
		Level:    level,
		Len:      wireLen,
		StreamID: NoStream,
	}
	oq.ctrlTailLocked(f)
	oq.totProbes++
	oq.logger.Debugf("sendq: ping probe of %d bytes at %s level", wireLen, level)
	return true
}
