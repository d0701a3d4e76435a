// Command sendsim drives an outbound queue against a simulated path
// with configurable RTT and ack loss, and reports what the sender
// experienced: goodput, retransmissions, and the round trip time
// summary.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/apex/log"
	"github.com/bassosimone/sendq"
	"github.com/montanaflynn/stats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"
)

// simulation bundles the queue with its static collaborators.
type simulation struct {
	builder  *sendq.StaticPacketBuilder
	cong     *sendq.StaticCongestion
	crypto   *sendq.StaticCrypto
	oq       *sendq.OutQueue
	path     *sendq.StaticPath
	pns      [sendq.NumLevels]*sendq.StaticPNMap
	scenario *Scenario
	timers   *sendq.StaticTimerHost
	uplink   *sendq.StaticUplink

	// sent tracks how much of builder.Sent we already acked.
	sent int

	// rng drives the ack losses.
	rng *rand.Rand

	// samples collects the simulated round trip times (path RTT
	// plus ack delay) in milliseconds.
	samples []float64
}

// newSimulation assembles a simulation from a scenario.
func newSimulation(scenario *Scenario) *simulation {
	sim := &simulation{
		builder: sendq.NewStaticPacketBuilder(scenario.MSS),
		cong: &sendq.StaticCongestion{
			Cwnd:        scenario.Window,
			RTODuration: scenario.RTO(),
		},
		crypto: sendq.NewStaticCrypto(),
		path: &sendq.StaticPath{
			PathMTU:   scenario.MSS,
			ProbeSize: scenario.MSS,
			Timeout:   time.Second,
		},
		scenario: scenario,
		timers:   sendq.NewStaticTimerHost(),
		uplink:   &sendq.StaticUplink{},
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	var pns [sendq.NumLevels]sendq.PacketNumberMap
	for i := range sim.pns {
		sim.pns[i] = &sendq.StaticPNMap{}
		pns[i] = sim.pns[i]
	}
	sim.oq = sendq.New(&sendq.Config{
		Builder:       sim.builder,
		Congestion:    sim.cong,
		PacketNumbers: pns,
		Crypto:        sim.crypto,
		Path:          sim.path,
		Timers:        sim.timers,
		Uplink:        sim.uplink,
		Logger:        log.Log,
	})
	sim.builder.BindQueue(sim.oq)
	sim.oq.SetState(sendq.SocketEstablished)
	sim.oq.SetParam(&sendq.TransportParams{MaxData: scenario.MaxData})
	for _, stream := range scenario.Streams {
		sim.oq.RegisterStream(stream.ID, stream.Window)
	}
	return sim
}

// runRound enqueues one chunk per stream and then simulates the path:
// most sends come back acked one RTT later, some acks are lost and
// the loss timer fire recovers them.
func (sim *simulation) runRound(offsets map[int64]int64) {
	scenario := sim.scenario
	for i, stream := range scenario.Streams {
		frame := &sendq.Frame{
			Kind:     sendq.FrameStream,
			Level:    sendq.LevelApplication,
			Bytes:    stream.Chunk,
			Len:      stream.Chunk,
			Offset:   offsets[stream.ID],
			StreamID: stream.ID,
		}
		offsets[stream.ID] += int64(stream.Chunk)
		cork := i < len(scenario.Streams)-1
		sim.oq.StreamTail(frame, cork)
	}

	// frames the pump emitted during this round
	emitted := sim.builder.Sent[sim.sent:]
	sim.sent = len(sim.builder.Sent)
	if len(emitted) <= 0 {
		return
	}

	if sim.rng.Float64() < scenario.PLR {
		// the whole ack is lost: wait out the timeout and let
		// the loss engine recover
		time.Sleep(scenario.RTO() + time.Millisecond)
		sim.oq.OnLossTimer(sendq.LevelApplication)
		sim.sent = len(sim.builder.Sent)
		return
	}

	// ack everything emitted this round after one RTT
	time.Sleep(scenario.RTT())
	smallest, largest := emitted[0].Number, emitted[0].Number
	for _, frame := range emitted {
		if frame.Number < smallest {
			smallest = frame.Number
		}
		if frame.Number > largest {
			largest = frame.Number
		}
	}
	delay := time.Duration(sim.rng.Int63n(int64(5 * time.Millisecond)))
	sim.oq.TransmittedSack(sendq.LevelApplication, smallest, largest, largest, delay)
	sim.samples = append(sim.samples, float64(scenario.RTT()+delay)/float64(time.Millisecond))
}

func main() {
	scenarioFile := flag.String("scenario", "", "YAML scenario file")
	pcapFile := flag.String("pcap", "", "optional PCAP trace output")
	metricsAddr := flag.String("metrics", "", "optional address for Prometheus metrics")
	flag.Parse()
	log.SetLevel(log.DebugLevel)

	scenario := defaultScenario()
	if *scenarioFile != "" {
		var err error
		scenario, err = loadScenario(*scenarioFile)
		if err != nil {
			log.WithError(err).Fatal("loadScenario")
		}
	}

	conn := xid.New().String()
	log.Infof("sendsim: connection %s: %d rounds over a %s path", conn, scenario.Rounds, scenario.RTT())

	sim := newSimulation(scenario)

	var dumper *sendq.PCAPDumper
	if *pcapFile != "" {
		dumper = sendq.NewPCAPDumper(*pcapFile, "10.0.0.2", "10.0.0.1", 54321, 443, log.Log)
		defer dumper.Close()
	}

	if *metricsAddr != "" {
		collector := sendq.NewMetricsCollector("sendq", prometheus.Labels{"run": conn})
		collector.Add(conn, sim.oq)
		registry := prometheus.NewRegistry()
		sendq.Must0(registry.Register(collector))
		go func() {
			http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			log.Infof("sendsim: metrics at http://%s/metrics", *metricsAddr)
			sendq.Must0(http.ListenAndServe(*metricsAddr, nil))
		}()
	}

	offsets := make(map[int64]int64)
	t0 := time.Now()
	recorded := 0
	for round := 0; round < scenario.Rounds; round++ {
		sim.runRound(offsets)
		if dumper != nil {
			for _, dg := range sim.builder.Datagrams[recorded:] {
				dumper.Record(dg)
			}
			recorded = len(sim.builder.Datagrams)
		}
	}
	elapsed := time.Since(t0)

	counters := sim.oq.Counters()
	goodput := float64(counters.BytesAcked*8) / elapsed.Seconds() / (1000 * 1000)
	fmt.Printf("acked (byte),lost (frame),probes,elapsed (s),goodput (Mbit/s)\n")
	fmt.Printf("%d,%d,%d,%f,%f\n",
		counters.BytesAcked, counters.FramesLost, counters.ProbesSent,
		elapsed.Seconds(), goodput)

	if len(sim.samples) > 0 {
		min := sendq.Must1(stats.Min(sim.samples))
		mean := sendq.Must1(stats.Mean(sim.samples))
		p95 := sendq.Must1(stats.Percentile(sim.samples, 95))
		log.Infof("sendsim: rtt ms: min=%.2f avg=%.2f p95=%.2f", min, mean, p95)
	}

	sendq.Must0(sim.oq.Close())
}
