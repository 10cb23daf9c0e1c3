package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// HistogramBuckets are latency buckets in milliseconds. Gateway calls sit in
// the hundreds of milliseconds; lock waits and sweeps can run into seconds.
var HistogramBuckets = []float64{
	5, 10, 25, 50, 100, 200, 300, 500,
	750, 1000, 1500, 2000,
	3000, 5000, 10000, 15000, 30000,
}

// Metric is a declarative collector definition.
type Metric struct {
	ID          string
	Name        string
	Description string
	// Type is one of counter_vec, gauge_vec, histogram_vec or summary_vec.
	Type string
	Args []string
}

// NewMetric builds the collector described by m. Unknown types panic since
// they are programming errors.
func NewMetric(m *Metric, subsystem string) prometheus.Collector {
	switch m.Type {
	case "counter_vec":
		return prometheus.NewCounterVec(prometheus.CounterOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description}, m.Args)
	case "gauge_vec":
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description}, m.Args)
	case "histogram_vec":
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: subsystem, Name: m.Name, Help: m.Description, Buckets: HistogramBuckets,
		}, m.Args)
	case "summary_vec":
		return prometheus.NewSummaryVec(prometheus.SummaryOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description}, m.Args)
	default:
		panic("metrics: unknown metric type " + m.Type)
	}
}

// MetricsBusinessProcess times named steps such as gateway calls and sweeps.
var MetricsBusinessProcess = &Metric{
	ID:          "bpDur",
	Name:        "bp_dur",
	Description: "process latency in milliseconds",
	Type:        "histogram_vec",
	Args:        []string{"type", "subtype"},
}
