package sendq

//
// PCAP trace capture
//

import (
	"context"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// PCAPDumper records the datagrams the core hands to the transmitter
// into a PCAP file that standard capture tools can read. Since this
// core never defines a wire format below the datagram, each payload
// is wrapped in a synthetic IPv4/UDP envelope carrying the configured
// addresses. The zero value is invalid; use [NewPCAPDumper] to
// instantiate, then feed it through [PCAPDumper.Record] (for example
// from your [PacketBuilder] transmit hook) and call
// [PCAPDumper.Close] when done.
type PCAPDumper struct {
	// cancel stops the background writer.
	cancel context.CancelFunc

	// closeOnce provides "once" semantics for Close.
	closeOnce sync.Once

	// joined is closed when the background writer has terminated.
	joined chan any

	// logger is the logger to use.
	logger Logger

	// pich is the channel where we post datagrams to capture.
	pich chan *pcapDumperPacketInfo

	// src and dst are the synthetic envelope addresses.
	src net.IP
	dst net.IP

	// srcPort and dstPort are the synthetic envelope ports.
	srcPort uint16
	dstPort uint16
}

// pcapDumperPacketInfo contains info about a captured datagram.
type pcapDumperPacketInfo struct {
	originalLength int
	snapshot       []byte
}

// NewPCAPDumper creates a [PCAPDumper] writing into filename. The
// four-tuple parameterizes the synthetic IPv4/UDP envelope. This
// function spawns a background goroutine that owns the file; use
// [PCAPDumper.Close] to join it.
func NewPCAPDumper(filename string, src, dst string, srcPort, dstPort uint16, logger Logger) *PCAPDumper {
	const manyDatagrams = 4096
	ctx, cancel := context.WithCancel(context.Background())
	pd := &PCAPDumper{
		cancel:  cancel,
		joined:  make(chan any),
		logger:  logger,
		pich:    make(chan *pcapDumperPacketInfo, manyDatagrams),
		src:     net.ParseIP(src),
		dst:     net.ParseIP(dst),
		srcPort: srcPort,
		dstPort: dstPort,
	}
	go pd.loop(ctx, filename)
	return pd
}

// Record captures a single outbound datagram. Records are dropped,
// not blocked on, when the background writer cannot keep up.
func (pd *PCAPDumper) Record(dg *Datagram) {
	packetLength := len(dg.Payload)
	captureLength := 256
	if packetLength < captureLength {
		captureLength = packetLength
	}
	pinfo := &pcapDumperPacketInfo{
		originalLength: packetLength,
		snapshot:       append([]byte{}, dg.Payload[:captureLength]...), // duplicate
	}
	select {
	case pd.pich <- pinfo:
	default:
		// just drop from the capture
	}
}

// loop is the loop that writes pcaps.
func (pd *PCAPDumper) loop(ctx context.Context, filename string) {
	// synchronize with Close
	defer close(pd.joined)

	// open the file where to create the pcap
	filep, err := os.Create(filename)
	if err != nil {
		pd.logger.Warnf("sendq: PCAPDumper: os.Create: %s", err.Error())
		return
	}
	defer func() {
		if err := filep.Close(); err != nil {
			pd.logger.Warnf("sendq: PCAPDumper: filep.Close: %s", err.Error())
			// fallthrough
		}
	}()

	// write the PCAP header
	w := pcapgo.NewWriter(filep)
	const largeSnapLen = 262144
	if err := w.WriteFileHeader(largeSnapLen, layers.LinkTypeIPv4); err != nil {
		pd.logger.Warnf("sendq: PCAPDumper: WriteFileHeader: %s", err.Error())
		return
	}

	// loop until we're done and write each entry
	for {
		select {
		case <-ctx.Done():
			return
		case pinfo := <-pd.pich:
			pd.doWritePCAPEntry(pinfo, w)
		}
	}
}

// doWritePCAPEntry writes the given datagram entry into the PCAP
// file, wrapping it into the synthetic IPv4/UDP envelope.
func (pd *PCAPDumper) doWritePCAPEntry(pinfo *pcapDumperPacketInfo, w *pcapgo.Writer) {
	ipv4 := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    pd.src,
		DstIP:    pd.dst,
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(pd.srcPort),
		DstPort: layers.UDPPort(pd.dstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ipv4); err != nil {
		pd.logger.Warnf("sendq: PCAPDumper: SetNetworkLayerForChecksum: %s", err.Error())
		return
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}
	err := gopacket.SerializeLayers(buf, opts, ipv4, udp, gopacket.Payload(pinfo.snapshot))
	if err != nil {
		pd.logger.Warnf("sendq: PCAPDumper: SerializeLayers: %s", err.Error())
		return
	}
	packet := buf.Bytes()
	envelope := len(packet) - len(pinfo.snapshot)
	ci := gopacket.CaptureInfo{
		Timestamp:      time.Now(),
		CaptureLength:  len(packet),
		Length:         pinfo.originalLength + envelope,
		InterfaceIndex: 0,
		AncillaryData:  []interface{}{},
	}
	if err := w.WritePacket(ci, packet); err != nil {
		pd.logger.Warnf("sendq: PCAPDumper: w.WritePacket: %s", err.Error())
		// fallthrough
	}
}

// Close terminates the background writer and flushes the file. Close
// is idempotent.
func (pd *PCAPDumper) Close() error {
	pd.closeOnce.Do(func() {
		pd.cancel()
		<-pd.joined
	})
	return nil
}
