package sendq

//
// Path probing and migration
//

// TransmitProbe emits a PMTU probe: a PING frame sized to the next
// step of the path MTU search, sent uncorked. It is a no-op unless
// the connection is established.
func (oq *OutQueue) TransmitProbe() {
	defer oq.mu.Unlock()
	oq.mu.Lock()
	oq.transmitProbeLocked()
}

func (oq *OutQueue) transmitProbeLocked() {
	if oq.state != SocketEstablished {
		return
	}
	size := oq.path.NextProbeSize()
	if !oq.emitPingLocked(oq.dataLevel, size) {
		return
	}
	if oq.path.ProbeSent(oq.pn(oq.dataLevel).NextNumber()) {
		if mtu := oq.path.MTU(); mtu != oq.mss {
			oq.mss = mtu
			oq.builder.UpdateMSS(mtu)
		}
	}
	oq.transmitLocked()
	oq.timers.Reset(TimerPath, oq.path.ProbeTimeout())
}

// OnPathTimer is the path timer fire handler: it sends the next
// PMTU probe.
func (oq *OutQueue) OnPathTimer() {
	defer oq.mu.Unlock()
	oq.mu.Lock()
	if oq.closed {
		return
	}
	oq.transmitProbeLocked()
}

// ValidatePath completes a path validation: the peer proved it is
// reachable on the alternate path that frame f was probing. The
// application is notified first and may veto the migration. On a
// locally initiated migration the active and alternate addresses
// swap. Frames still marked for the alternate path stop being
// alternate: the path they target is now the active one.
func (oq *OutQueue) ValidatePath(f *Frame, local bool) {
	defer oq.mu.Unlock()
	oq.mu.Lock()
	ev := &Event{Kind: EventConnectionMigration, Local: local}
	if !oq.uplink.Deliver(ev) {
		return
	}
	mask := PathAltDst
	if local {
		oq.path.SwapActive()
		mask = PathAltSrc
	}
	oq.path.FreeAltAddr()
	oq.path.SetSentCount(0)
	oq.timers.Reset(TimerPath, oq.path.ProbeTimeout())
	for i := 0; i < oq.controlList.len(); i++ {
		g := oq.controlList.at(i)
		g.PathAlt &^= mask
	}
	for i := 0; i < oq.transmittedList.len(); i++ {
		g := oq.transmittedList.at(i)
		g.PathAlt &^= mask
	}
	f.PathAlt &^= mask
	oq.ecnProbe = 0
	if local {
		oq.logger.Info("sendq: migrated to locally selected path")
	} else {
		oq.logger.Info("sendq: migrated to peer selected path")
	}
}
