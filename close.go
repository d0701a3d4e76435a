package sendq

//
// Connection close
//

// closeFrameLen is the nominal wire length we account for a
// CONNECTION_CLOSE frame, excluding the reason phrase.
const closeFrameLen = 16

// TransmitClose reacts to a transport error: the application is
// notified first and, when it absorbs the event, no wire frame goes
// out. Otherwise a CONNECTION_CLOSE frame carrying the error code and
// the offending frame type is sent uncorked at the given level and
// the connection becomes terminally closed. An errcode of zero is a
// no-op.
func (oq *OutQueue) TransmitClose(frameType uint64, errcode uint64, level Level) {
	defer oq.mu.Unlock()
	oq.mu.Lock()
	if errcode == 0 {
		return
	}
	ev := &Event{
		Kind:      EventConnectionClose,
		ErrCode:   errcode,
		FrameType: frameType,
	}
	if oq.uplink.Deliver(ev) {
		return
	}
	oq.closeErrCode = errcode
	oq.closeFrameType = frameType
	oq.sendCloseLocked(FrameConnectionClose, level)
	oq.state = SocketClosed
}

// TransmitAppClose closes the connection on behalf of the
// application. On an established connection an application-level
// CONNECTION_CLOSE goes out at the Application level; while
// handshaking, a transport-level one goes out at the Initial level.
// An idle or already closed connection is left alone.
func (oq *OutQueue) TransmitAppClose(errcode uint64, phrase string) {
	defer oq.mu.Unlock()
	oq.mu.Lock()
	switch oq.state {
	case SocketEstablished:
		oq.closeErrCode = errcode
		oq.closePhrase = phrase
		oq.sendCloseLocked(FrameConnectionCloseApp, LevelApplication)
		oq.state = SocketClosed
	case SocketHandshaking:
		oq.closeErrCode = errcode
		oq.closePhrase = phrase
		oq.sendCloseLocked(FrameConnectionClose, LevelInitial)
		oq.state = SocketClosed
	default:
		// idle or already closed
	}
}

// sendCloseLocked creates and sends a close frame uncorked. On memory
// pressure the frame is skipped: the peer will idle out.
func (oq *OutQueue) sendCloseLocked(kind FrameKind, level Level) {
	wireLen := closeFrameLen + len(oq.closePhrase)
	if !oq.memory.TryCharge(wireLen) {
		return
	}
	f := &Frame{
		Kind:           kind,
		Level:          level,
		Len:            wireLen,
		StreamID:       NoStream,
		ErrCode:        oq.closeErrCode,
		CloseFrameType: oq.closeFrameType,
		Phrase:         oq.closePhrase,
	}
	oq.ctrlTailLocked(f)
	oq.transmitLocked()
	oq.logger.Infof("sendq: %s errcode=%d at %s level", kind, oq.closeErrCode, level)
}
