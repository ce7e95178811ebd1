// ABOUTME: Prometheus metrics for Falcon endpoints
// ABOUTME: Exposes Input and Output counters as collectors read on scrape
package metrics

import (
	"github.com/open-ephys-plugins/falcon-output/pkg/falcon"
	"github.com/open-ephys-plugins/falcon-output/pkg/protocol"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "falcon"

// InputSource is the part of falcon.Input read by the collectors
type InputSource interface {
	Stats() falcon.InputStats
	IsConnected() bool
	IsRunning() bool
}

// OutputSource is the part of falcon.Output read by the collectors
type OutputSource interface {
	Stats() falcon.OutputStats
}

func counter(subsystem, name, help string, read func() uint64) prometheus.Collector {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(read()) })
}

func gauge(subsystem, name, help string, read func() float64) prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, read)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func register(reg prometheus.Registerer, collectors ...prometheus.Collector) error {
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RegisterInput registers receive-side collectors for in
func RegisterInput(reg prometheus.Registerer, in InputSource) error {
	const sub = "input"
	return register(reg,
		counter(sub, "messages_received_total", "Messages taken from the subscriber",
			func() uint64 { return in.Stats().Received }),
		counter(sub, "messages_decoded_total", "Messages decoded into blocks",
			func() uint64 { return in.Stats().Decoded }),
		counter(sub, "messages_malformed_total", "Messages skipped as malformed",
			func() uint64 { return in.Stats().Malformed }),
		counter(sub, "messages_empty_total", "Messages carrying no samples",
			func() uint64 { return in.Stats().Empty }),
		counter(sub, "shape_mismatch_total", "Blocks zero-filled after a channel or payload mismatch",
			func() uint64 { return in.Stats().ShapeMismatch }),
		counter(sub, "samples_total", "Samples delivered to the host buffer",
			func() uint64 { return in.Stats().Samples }),
		gauge(sub, "connected", "1 when the subscriber is connected",
			func() float64 { return boolGauge(in.IsConnected()) }),
		gauge(sub, "running", "1 while acquisition runs",
			func() float64 { return boolGauge(in.IsRunning()) }),
		gauge(sub, "last_latency_seconds", "Encode to decode delay of the last block",
			func() float64 { return in.Stats().LastLatency }),
	)
}

// RegisterOutput registers producer-side collectors for out
func RegisterOutput(reg prometheus.Registerer, out OutputSource) error {
	const sub = "output"
	return register(reg,
		counter(sub, "messages_published_total", "Messages handed to the publisher",
			func() uint64 { return out.Stats().Published }),
		counter(sub, "publish_errors_total", "Publish calls that failed",
			func() uint64 { return out.Stats().PublishErrors }),
		counter(sub, "encode_errors_total", "Blocks that could not be encoded",
			func() uint64 { return out.Stats().EncodeErrors }),
		counter(sub, "events_rejected_total", "TTL events rejected for line or offset",
			func() uint64 { return out.Stats().RejectedEvents }),
		counter(sub, "blocks_unbound_total", "Blocks dropped while no publisher was bound",
			func() uint64 { return out.Stats().Unbound }),
		counter(sub, "samples_total", "Samples published",
			func() uint64 { return out.Stats().Samples }),
		gauge(sub, "sequence", "Message id of the last published block",
			func() float64 { return float64(out.Stats().Sequence) }),
	)
}

// LatencySink observes the delivery latency of every block before
// passing it on
type LatencySink struct {
	next      falcon.Sink
	histogram prometheus.Histogram
	now       func() float64
}

// NewLatencySink wraps next and registers the latency histogram
func NewLatencySink(reg prometheus.Registerer, next falcon.Sink) (*LatencySink, error) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "input",
		Name:      "latency_seconds",
		Help:      "Delay between producer encode and receiver decode",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
	})
	if err := reg.Register(h); err != nil {
		return nil, err
	}
	return &LatencySink{next: next, histogram: h, now: protocol.Now}, nil
}

// AddToBuffer records the latency and forwards the block
func (s *LatencySink) AddToBuffer(block protocol.Block) {
	if block.SentAt > 0 {
		if latency := block.Latency(s.now()); latency >= 0 {
			s.histogram.Observe(latency)
		}
	}
	s.next.AddToBuffer(block)
}

// Clear forwards to the wrapped sink when it supports clearing
func (s *LatencySink) Clear() {
	if c, ok := s.next.(falcon.Clearer); ok {
		c.Clear()
	}
}
