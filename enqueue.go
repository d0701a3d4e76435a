package sendq

//
// Enqueue router
//

// StreamTail places a freshly built stream frame on the stream queue
// and updates the stream send state: a Ready stream moves to Send,
// and a frame carrying the FIN bit moves a Send stream to Sent. When
// cork is false the transmit pump runs before returning.
//
// Don't make any further references to the frame after giving it to
// StreamTail: the core now owns it.
func (oq *OutQueue) StreamTail(f *Frame, cork bool) {
	defer oq.mu.Unlock()
	oq.mu.Lock()
	if oq.closed {
		return
	}
	oq.memory.Charge(f.Len)
	s := oq.streamOf(f)
	if s != nil {
		if s.State == StreamReady {
			s.State = StreamSend
		}
		if f.Fin && s.State == StreamSend {
			s.State = StreamSent
			if oq.activeStream == s.ID {
				oq.activeStream = NoStream
			}
		}
	}
	oq.streamList.pushBack(f)
	if !cork {
		oq.transmitLocked()
	}
}

// DgramTail places a datagram frame on the datagram queue. When cork
// is false the transmit pump runs before returning.
func (oq *OutQueue) DgramTail(f *Frame, cork bool) {
	defer oq.mu.Unlock()
	oq.mu.Lock()
	if oq.closed {
		return
	}
	oq.memory.Charge(f.Len)
	oq.datagramList.pushBack(f)
	if !cork {
		oq.transmitLocked()
	}
}

// CtrlTail places a control frame on the control queue. Frames below
// the Application level are inserted ahead of any Application-level
// frame, keeping handshake control traffic strictly in front. When
// cork is false the transmit pump runs before returning.
func (oq *OutQueue) CtrlTail(f *Frame, cork bool) {
	defer oq.mu.Unlock()
	oq.mu.Lock()
	if oq.closed {
		return
	}
	oq.memory.Charge(f.Len)
	oq.controlList.insertByLevel(f)
	if !cork {
		oq.transmitLocked()
	}
}

// ctrlTailLocked enqueues a control frame the core itself produced.
func (oq *OutQueue) ctrlTailLocked(f *Frame) {
	oq.controlList.insertByLevel(f)
}

// TransmittedTail is called by the packet builder, with the queue
// lock already held, for each frame of a packet it has emitted. The
// builder must have filled in the frame's Number and TransmitTime.
// The frame joins the transmitted queue with the same level-priority
// ordering as the control queue, starts counting toward the inflight
// totals, and arms the level's loss timer.
func (oq *OutQueue) TransmittedTail(f *Frame) {
	oq.transmittedList.insertByLevel(f)
	oq.inflight += f.Len
	oq.pn(f.Level).OnSent(f.Number, f.Len, f.TransmitTime)
	oq.updateLossTimerLocked(f.Level)
}
