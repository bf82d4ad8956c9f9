// Package metrics is the optional Prometheus exporter: gauges for
// child count and queue/fragment-table depth, counters for dropped and
// invalid frames — the same shapes aistore's own `stats` package
// exports via `github.com/prometheus/client_golang` for its xaction
// and I/O counters.
package metrics

import (
	"github.com/derkalaender/meshnow-go/fragment"
	"github.com/derkalaender/meshnow-go/topology"
	"github.com/prometheus/client_golang/prometheus"
)

// depther is satisfied by *queue.Queue[T] for any T without needing
// metrics to import a concrete instantiation.
type depther interface{ Len() int64 }

type Metrics struct {
	ChildCount        prometheus.Gauge
	SendQueueDepth    prometheus.Gauge
	RecvQueueDepth    prometheus.Gauge
	FragmentTableSize prometheus.Gauge
	DroppedFrames     prometheus.Counter
	InvalidFrames     prometheus.Counter
}

func New(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		ChildCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "child_count", Help: "Number of direct children currently attached.",
		}),
		SendQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "send_queue_depth", Help: "Pending items in the send queue.",
		}),
		RecvQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "recv_queue_depth", Help: "Pending items in the receive queue.",
		}),
		FragmentTableSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "fragment_table_size", Help: "In-flight datagram reassemblies.",
		}),
		DroppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "dropped_frames_total", Help: "Frames discarded (capacity, duplicate, unresolved route).",
		}),
		InvalidFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "invalid_frames_total", Help: "Frames rejected by the wire codec.",
		}),
	}
	reg.MustRegister(m.ChildCount, m.SendQueueDepth, m.RecvQueueDepth, m.FragmentTableSize, m.DroppedFrames, m.InvalidFrames)
	return m
}

// Sample refreshes the gauges from current runtime state; call it
// periodically (e.g. from cmd/meshnowd) since none of these values are
// pushed incrementally.
func (m *Metrics) Sample(topo *topology.Store, sq, rq depther, frags *fragment.Table) {
	m.ChildCount.Set(float64(topo.NumChildren()))
	m.SendQueueDepth.Set(float64(sq.Len()))
	m.RecvQueueDepth.Set(float64(rq.Len()))
	m.FragmentTableSize.Set(float64(frags.Len()))
}
