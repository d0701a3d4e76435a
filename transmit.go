package sendq

//
// Transmit pump
//

// Transmit pulls frames off the control, datagram, and stream queues,
// applies crypto readiness, congestion, and flow-control gating, and
// drives the packet builder. It returns true when at least one
// datagram was handed to the transmitter.
//
// Use cork=true on the enqueue operations to batch several writes
// into a single Transmit cycle.
func (oq *OutQueue) Transmit() bool {
	defer oq.mu.Unlock()
	oq.mu.Lock()
	return oq.transmitLocked()
}

// transmitLocked runs the three transmit passes and then flushes the
// packet builder. The flow-control gate may request one extra control
// pass (through ctrlDirty) so that BLOCKED frames produced while
// gating ship in the same flush cycle.
func (oq *OutQueue) transmitLocked() bool {
	oq.transmitCtrlLocked()
	oq.transmitDgramLocked()
	oq.transmitStreamLocked()
	if oq.ctrlDirty {
		oq.ctrlDirty = false
		oq.transmitCtrlLocked()
	}
	return oq.builder.Flush()
}

// packFrame offers a frame to the builder, emitting the current
// packet and retrying once when the packet is full. It returns false
// when the frame does not fit even in a fresh packet.
func (oq *OutQueue) packFrame(f *Frame, dgram bool) bool {
	if oq.builder.Tail(f, dgram) {
		return true
	}
	// Current packet is full: emit it and retry the same frame in
	// the next one.
	oq.builder.Create()
	if oq.builder.Tail(f, dgram) {
		return true
	}
	oq.logger.Warnf("sendq: %s frame of %d bytes does not fit an empty packet", f.Kind, f.Len)
	return false
}

// transmitCtrlLocked runs the control pass. The pass stops at the
// first frame whose level has no send-ready keys, because later
// frames may depend on it.
func (oq *OutQueue) transmitCtrlLocked() {
	i := 0
	for i < oq.controlList.len() {
		f := oq.controlList.at(i)
		if !oq.crypto.SendReady(f.Level) {
			return
		}
		switch verdict := oq.builder.Config(f.Level, f.PathAlt); {
		case verdict > 0:
			i++
			continue
		case verdict < 0:
			return
		}
		if !oq.packFrame(f, false) {
			return
		}
		oq.controlList.removeAt(i)
	}
}

// transmitDgramLocked runs the datagram pass. Expired datagrams are
// dropped; the pass stops when the congestion window is exhausted.
func (oq *OutQueue) transmitDgramLocked() {
	if !oq.crypto.SendReady(oq.dataLevel) {
		return
	}
	now := oq.timeNow()
	i := 0
	for i < oq.datagramList.len() {
		f := oq.datagramList.at(i)
		if f.expired(now) {
			oq.datagramList.removeAt(i)
			oq.totDgramsExpired++
			oq.freeFrame(f)
			continue
		}
		if oq.dataInflight+f.Len > oq.window {
			return
		}
		switch verdict := oq.builder.Config(f.Level, f.PathAlt); {
		case verdict > 0:
			i++
			continue
		case verdict < 0:
			return
		}
		if !oq.packFrame(f, true) {
			return
		}
		oq.datagramList.removeAt(i)
		oq.dataInflight += f.Bytes
	}
}

// transmitStreamLocked runs the stream pass.
func (oq *OutQueue) transmitStreamLocked() {
	if !oq.crypto.SendReady(oq.dataLevel) {
		return
	}
	i := 0
	for i < oq.streamList.len() {
		f := oq.streamList.at(i)
		if f.Level == LevelApplication && oq.flowBlockedLocked(f) {
			return
		}
		switch verdict := oq.builder.Config(f.Level, f.PathAlt); {
		case verdict > 0:
			i++
			continue
		case verdict < 0:
			return
		}
		if !oq.packFrame(f, false) {
			return
		}
		oq.streamList.removeAt(i)
		if s := oq.streamOf(f); s != nil {
			s.Frags++
			s.Bytes += int64(f.Bytes)
			// This stream is now the one the pump is
			// draining, until its final frame is enqueued.
			if s.State == StreamSend {
				oq.activeStream = s.ID
			}
		}
		oq.bytes += int64(f.Bytes)
		oq.dataInflight += f.Bytes
	}
}

//
// Flow-control gate
//

// flowBlockedLocked reports whether a stream frame is blocked by the
// congestion window, the stream send window, or the connection send
// window. A window stall produces the corresponding BLOCKED frame at
// most once per window epoch and schedules an extra control pass so
// the BLOCKED frame ships in the same flush cycle. A pure congestion
// stall produces nothing.
func (oq *OutQueue) flowBlockedLocked(f *Frame) bool {
	if oq.dataInflight+f.Len > oq.window {
		return true
	}
	blocked := false
	if s := oq.streamOf(f); s != nil && s.Bytes+int64(f.Bytes) > s.MaxBytes {
		blocked = true
		if !s.DataBlocked && s.LastMaxBytes < s.MaxBytes {
			if oq.emitBlockedLocked(FrameStreamDataBlocked, s.ID) {
				s.DataBlocked = true
				s.LastMaxBytes = s.MaxBytes
			}
		}
	}
	if oq.bytes+int64(f.Bytes) > oq.maxBytes {
		blocked = true
		if !oq.dataBlocked && oq.lastMaxBytes < oq.maxBytes {
			if oq.emitBlockedLocked(FrameDataBlocked, NoStream) {
				oq.dataBlocked = true
				oq.lastMaxBytes = oq.maxBytes
			}
		}
	}
	return blocked
}

// blockedFrameLen is the nominal wire length we account for a
// BLOCKED signaling frame.
const blockedFrameLen = 8

// emitBlockedLocked creates and control-enqueues a BLOCKED frame. It
// returns false when the send buffer budget has no room: the stall
// will be signaled on a later transmit instead.
func (oq *OutQueue) emitBlockedLocked(kind FrameKind, streamID int64) bool {
	if !oq.memory.TryCharge(blockedFrameLen) {
		return false
	}
	f := &Frame{
		Kind:     kind,
		Level:    oq.dataLevel,
		Len:      blockedFrameLen,
		StreamID: streamID,
	}
	oq.ctrlTailLocked(f)
	oq.ctrlDirty = true
	oq.totBlocked++
	oq.logger.Debugf("sendq: %s enqueued for stream %d", kind, streamID)
	return true
}
