package sendq

//
// Prometheus metrics
//

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// metricInfo pairs a metric description with the counter field it
// exposes.
type metricInfo struct {
	description *prometheus.Desc
	valueType   prometheus.ValueType
	supplier    func(c *Counters) float64
}

// MetricsCollector exposes the accounting of one or more [OutQueue]
// as Prometheus metrics. The zero value is invalid; use
// [NewMetricsCollector] to instantiate, then register it with a
// [prometheus.Registerer] and attach queues with
// [MetricsCollector.Add].
type MetricsCollector struct {
	// infos describes the exported metrics.
	infos []metricInfo

	// mu protects queues: the registry scrapes Collect from its
	// own goroutine while the application calls Add and Remove.
	mu sync.Mutex

	// queues maps a label value to its queue.
	queues map[string]*OutQueue
}

var _ prometheus.Collector = &MetricsCollector{}

// NewMetricsCollector creates a [MetricsCollector]. The prefix is
// prepended to every metric name; constLabels apply to the whole
// process.
func NewMetricsCollector(prefix string, constLabels prometheus.Labels) *MetricsCollector {
	if prefix == "" {
		prefix = "sendq"
	}
	variableLabels := []string{"conn"}
	gauge := func(name, help string, supplier func(c *Counters) float64) metricInfo {
		return metricInfo{
			description: prometheus.NewDesc(
				prefix+"_"+name, help, variableLabels, constLabels),
			valueType: prometheus.GaugeValue,
			supplier:  supplier,
		}
	}
	counter := func(name, help string, supplier func(c *Counters) float64) metricInfo {
		return metricInfo{
			description: prometheus.NewDesc(
				prefix+"_"+name, help, variableLabels, constLabels),
			valueType: prometheus.CounterValue,
			supplier:  supplier,
		}
	}
	return &MetricsCollector{
		infos: []metricInfo{
			gauge("data_inflight_bytes", "Payload bytes currently in flight.",
				func(c *Counters) float64 { return float64(c.DataInflight) }),
			gauge("inflight_bytes", "Wire bytes currently in flight.",
				func(c *Counters) float64 { return float64(c.Inflight) }),
			gauge("congestion_window_bytes", "Current congestion window.",
				func(c *Counters) float64 { return float64(c.Window) }),
			gauge("flow_control_bytes", "Payload bytes charged against the connection send window.",
				func(c *Counters) float64 { return float64(c.Bytes) }),
			gauge("flow_control_limit_bytes", "Connection send window.",
				func(c *Counters) float64 { return float64(c.MaxBytes) }),
			gauge("stream_queue_frames", "Stream frames awaiting transmission.",
				func(c *Counters) float64 { return float64(c.StreamQueue) }),
			gauge("control_queue_frames", "Control frames awaiting transmission.",
				func(c *Counters) float64 { return float64(c.ControlQueue) }),
			gauge("datagram_queue_frames", "Datagram frames awaiting transmission.",
				func(c *Counters) float64 { return float64(c.DatagramQueue) }),
			gauge("transmitted_queue_frames", "Frames awaiting acknowledgment.",
				func(c *Counters) float64 { return float64(c.TransmittedQueue) }),
			gauge("rtx_count", "Consecutive retransmission timeouts without progress.",
				func(c *Counters) float64 { return float64(c.RtxCount) }),
			counter("acked_bytes_total", "Total payload bytes acknowledged.",
				func(c *Counters) float64 { return float64(c.BytesAcked) }),
			counter("lost_frames_total", "Total frames marked lost.",
				func(c *Counters) float64 { return float64(c.FramesLost) }),
			counter("blocked_frames_total", "Total BLOCKED frames produced.",
				func(c *Counters) float64 { return float64(c.BlockedEmitted) }),
			counter("probes_total", "Total PING probes produced.",
				func(c *Counters) float64 { return float64(c.ProbesSent) }),
			counter("expired_datagrams_total", "Total datagram frames dropped at their deadline.",
				func(c *Counters) float64 { return float64(c.DatagramsExpired) }),
		},
		queues: make(map[string]*OutQueue),
	}
}

// Add attaches a queue under the given connection label.
func (mc *MetricsCollector) Add(conn string, oq *OutQueue) {
	defer mc.mu.Unlock()
	mc.mu.Lock()
	mc.queues[conn] = oq
}

// Remove detaches a queue.
func (mc *MetricsCollector) Remove(conn string) {
	defer mc.mu.Unlock()
	mc.mu.Lock()
	delete(mc.queues, conn)
}

// Describe implements prometheus.Collector
func (mc *MetricsCollector) Describe(descs chan<- *prometheus.Desc) {
	for _, info := range mc.infos {
		descs <- info.description
	}
}

// Collect implements prometheus.Collector
func (mc *MetricsCollector) Collect(metrics chan<- prometheus.Metric) {
	defer mc.mu.Unlock()
	mc.mu.Lock()
	for conn, oq := range mc.queues {
		counters := oq.Counters()
		for _, info := range mc.infos {
			metrics <- prometheus.MustNewConstMetric(
				info.description,
				info.valueType,
				info.supplier(&counters),
				conn,
			)
		}
	}
}
