package main

//
// Scenario file loading
//

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// StreamScenario describes one stream driven by the simulation.
type StreamScenario struct {
	// ID is the stream ID.
	ID int64 `yaml:"id"`

	// Window is the stream send window in bytes.
	Window int64 `yaml:"window"`

	// Chunk is the bytes enqueued on each round.
	Chunk int `yaml:"chunk"`
}

// Scenario describes a whole simulation run.
type Scenario struct {
	// Rounds is how many enqueue-ack rounds to run.
	Rounds int `yaml:"rounds"`

	// MSS is the packet capacity in bytes.
	MSS int `yaml:"mss"`

	// Window is the congestion window in bytes.
	Window int `yaml:"window"`

	// MaxData is the connection send window in bytes.
	MaxData int64 `yaml:"max_data"`

	// RTTMillis is the simulated round trip time in milliseconds.
	RTTMillis int `yaml:"rtt_ms"`

	// PLR is the simulated ack loss rate.
	PLR float64 `yaml:"plr"`

	// RTOMillis is the retransmission timeout in milliseconds.
	RTOMillis int `yaml:"rto_ms"`

	// Streams describes the simulated streams.
	Streams []StreamScenario `yaml:"streams"`
}

// RTT returns the simulated round trip time.
func (sc *Scenario) RTT() time.Duration {
	return time.Duration(sc.RTTMillis) * time.Millisecond
}

// RTO returns the retransmission timeout.
func (sc *Scenario) RTO() time.Duration {
	return time.Duration(sc.RTOMillis) * time.Millisecond
}

// defaultScenario is the scenario we run without a file.
func defaultScenario() *Scenario {
	return &Scenario{
		Rounds:    50,
		MSS:       1200,
		Window:    24000,
		MaxData:   1 << 20,
		RTTMillis: 30,
		PLR:       0.05,
		RTOMillis: 90,
		Streams: []StreamScenario{
			{ID: 0, Window: 1 << 18, Chunk: 900},
			{ID: 4, Window: 1 << 18, Chunk: 400},
		},
	}
}

// loadScenario reads a [Scenario] from a YAML file.
func loadScenario(filename string) (*Scenario, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	scenario := defaultScenario()
	if err := yaml.Unmarshal(data, scenario); err != nil {
		return nil, err
	}
	return scenario, nil
}
