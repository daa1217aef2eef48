package metrics

import (
	"errors"
	"strings"
	"sync"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
)

// Unit qualifies a metric value.
type Unit string

const (
	Count        Unit = "Count"
	Seconds      Unit = "Seconds"
	Milliseconds Unit = "Milliseconds"
	None         Unit = "None"
)

// Recorder accepts named measurements. The poller and notifier only talk to
// this interface.
type Recorder interface {
	Put(name string, value float64, unit Unit)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Put(string, float64, Unit) {}

var durationBuckets = []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600, 1800}

// PromRecorder maps measurements onto Prometheus collectors, created on
// first use: Count becomes a counter, Seconds and Milliseconds a histogram
// in seconds, anything else a gauge.
type PromRecorder struct {
	reg       prometheus.Registerer
	namespace string

	mu         sync.Mutex
	counters   map[string]prometheus.Counter
	histograms map[string]prometheus.Histogram
	gauges     map[string]prometheus.Gauge
}

func NewPromRecorder(reg prometheus.Registerer, namespace string) *PromRecorder {
	return &PromRecorder{
		reg:        reg,
		namespace:  namespace,
		counters:   make(map[string]prometheus.Counter),
		histograms: make(map[string]prometheus.Histogram),
		gauges:     make(map[string]prometheus.Gauge),
	}
}

func (r *PromRecorder) Put(name string, value float64, unit Unit) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch unit {
	case Count:
		if value < 0 {
			return
		}
		c, ok := r.counters[name]
		if !ok {
			c = register(r.reg, prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: r.namespace,
				Name:      metricName(name, unit),
				Help:      name,
			}))
			r.counters[name] = c
		}
		c.Add(value)

	case Seconds, Milliseconds:
		if unit == Milliseconds {
			value /= 1000
		}
		h, ok := r.histograms[name]
		if !ok {
			h = register(r.reg, prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: r.namespace,
				Name:      metricName(name, unit),
				Help:      name,
				Buckets:   durationBuckets,
			}))
			r.histograms[name] = h
		}
		h.Observe(value)

	default:
		g, ok := r.gauges[name]
		if !ok {
			g = register(r.reg, prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: r.namespace,
				Name:      metricName(name, unit),
				Help:      name,
			}))
			r.gauges[name] = g
		}
		g.Set(value)
	}
}

// register adds c to reg, reusing an identical collector that is already
// registered.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

// metricName converts a CamelCase measurement name into a Prometheus name
// with a unit suffix: EmailSentCount -> email_sent_total,
// NotifyLatencyMs -> notify_latency_seconds.
func metricName(name string, unit Unit) string {
	snake := toSnake(name)

	switch unit {
	case Count:
		return strings.TrimSuffix(snake, "_count") + "_total"
	case Seconds:
		if strings.HasSuffix(snake, "_seconds") {
			return snake
		}
		return snake + "_seconds"
	case Milliseconds:
		snake = strings.TrimSuffix(strings.TrimSuffix(snake, "_ms"), "_milliseconds")
		return snake + "_seconds"
	default:
		return snake
	}
}

func toSnake(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) && i > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
