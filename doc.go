// Package sendq implements the outbound transmission core of a QUIC
// endpoint: the subsystem that takes stream data, datagrams, and
// control frames produced elsewhere in the stack, schedules them into
// packets under flow, congestion, and encryption-level constraints,
// tracks what is in flight, recognizes acknowledgments, retransmits
// lost frames, probes the path MTU, and drives connection close and
// path migration.
//
// The entry point is [OutQueue], which you create with [New] and a
// [Config] that wires in the collaborators this core depends on: a
// [PacketBuilder] that turns frames into datagrams, a
// [CongestionController], one [PacketNumberMap] per encryption level,
// the [CryptoState], a [PathManager], a [TimerHost], an
// [EventUplink] to the application, and a [MemoryAccountant] for the
// socket send buffer.
//
// Frames enter through [OutQueue.StreamTail], [OutQueue.DgramTail],
// and [OutQueue.CtrlTail]. Acknowledgments enter through
// [OutQueue.TransmittedSack]. Timer fires enter through
// [OutQueue.OnLossTimer] and [OutQueue.OnPathTimer]. Datagrams
// encrypted off the socket lock come back through
// [OutQueue.EncryptedTail].
//
// Every operation on an [OutQueue] is serialized by a per-queue lock,
// so collaborators never observe a partially updated queue. The core
// itself never blocks: backpressure is expressed by frames staying on
// their queues, not by errors or waiting.
//
// For observability, [MetricsCollector] exposes the queue counters as
// Prometheus metrics and [PCAPDumper] records the emitted datagrams
// into a PCAP file that standard tools can read. [AsyncSealer] is a
// ready-made encrypt-then-send worker built on ChaCha20-Poly1305.
package sendq
