// Package metrics provides a lightweight, Prometheus-compatible metrics
// collector for the gateway. It renders text/plain in Prometheus exposition
// format without pulling in the heavy prometheus/client_golang dependency.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the global metrics collector.
var Collector = NewCollector()

// MetricsCollector aggregates counters, gauges, and histograms.
type MetricsCollector struct {
	counters   sync.Map // key -> *Counter
	gauges     sync.Map // key -> *Gauge
	histograms sync.Map // key -> *Histogram
	startTime  time.Time
}

// NewCollector creates a new collector.
func NewCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of observed values.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// Counter returns or creates a counter with the given name and label set.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	if v, ok := c.counters.Load(key); ok {
		return v.(*Counter)
	}
	ctr := &Counter{name: name, help: help, labels: labels}
	actual, _ := c.counters.LoadOrStore(key, ctr)
	return actual.(*Counter)
}

// Gauge returns or creates a gauge with the given name and label set.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	key := name + "{" + labels + "}"
	if v, ok := c.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	g := &Gauge{name: name, help: help, labels: labels}
	actual, _ := c.gauges.LoadOrStore(key, g)
	return actual.(*Gauge)
}

// Histogram returns or creates a histogram with the given name and buckets.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := name + "{" + labels + "}"
	if v, ok := c.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	sort.Float64s(buckets)
	hb := make([]histBucket, len(buckets))
	for i, b := range buckets {
		hb[i] = histBucket{le: b}
	}
	h := &Histogram{name: name, help: help, labels: labels, buckets: hb}
	actual, _ := c.histograms.LoadOrStore(key, h)
	return actual.(*Histogram)
}

// Handler returns an http.HandlerFunc rendering Prometheus text format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder

		fmt.Fprintf(&sb, "# HELP wagate_uptime_seconds Time since start in seconds\n")
		fmt.Fprintf(&sb, "# TYPE wagate_uptime_seconds gauge\n")
		fmt.Fprintf(&sb, "wagate_uptime_seconds %d\n\n", int64(c.Uptime().Seconds()))

		helpWritten := make(map[string]bool)
		c.counters.Range(func(key, value any) bool {
			ctr := value.(*Counter)
			if !helpWritten[ctr.name] {
				fmt.Fprintf(&sb, "# HELP %s %s\n", ctr.name, ctr.help)
				fmt.Fprintf(&sb, "# TYPE %s counter\n", ctr.name)
				helpWritten[ctr.name] = true
			}
			writeSample(&sb, ctr.name, ctr.labels, ctr.Value())
			return true
		})

		helpWritten = make(map[string]bool)
		c.gauges.Range(func(key, value any) bool {
			g := value.(*Gauge)
			if !helpWritten[g.name] {
				fmt.Fprintf(&sb, "# HELP %s %s\n", g.name, g.help)
				fmt.Fprintf(&sb, "# TYPE %s gauge\n", g.name)
				helpWritten[g.name] = true
			}
			writeSample(&sb, g.name, g.labels, g.Value())
			return true
		})

		c.histograms.Range(func(key, value any) bool {
			h := value.(*Histogram)
			h.mu.Lock()
			defer h.mu.Unlock()

			fmt.Fprintf(&sb, "# HELP %s %s\n", h.name, h.help)
			fmt.Fprintf(&sb, "# TYPE %s histogram\n", h.name)
			for _, b := range h.buckets {
				if h.labels != "" {
					fmt.Fprintf(&sb, "%s_bucket{%s,le=\"%g\"} %d\n", h.name, h.labels, b.le, b.count)
				} else {
					fmt.Fprintf(&sb, "%s_bucket{le=\"%g\"} %d\n", h.name, b.le, b.count)
				}
			}
			if h.labels != "" {
				fmt.Fprintf(&sb, "%s_count{%s} %d\n", h.name, h.labels, h.count)
				fmt.Fprintf(&sb, "%s_sum{%s} %f\n", h.name, h.labels, h.sum)
			} else {
				fmt.Fprintf(&sb, "%s_count %d\n", h.name, h.count)
				fmt.Fprintf(&sb, "%s_sum %f\n", h.name, h.sum)
			}
			return true
		})

		fmt.Fprint(w, sb.String())
	}
}

func writeSample(sb *strings.Builder, name, labels string, v int64) {
	if labels != "" {
		fmt.Fprintf(sb, "%s{%s} %d\n", name, labels, v)
	} else {
		fmt.Fprintf(sb, "%s %d\n", name, v)
	}
}

// --- Pre-defined metrics used across the gateway ---

var (
	ActiveSessions    = Collector.Gauge("wagate_active_sessions", "Sessions with a live driver handle", "")
	ConnectedSessions = Collector.Gauge("wagate_connected_sessions", "Sessions currently in CONNECTED state", "")
	Subscriptions     = Collector.Gauge("wagate_event_subscriptions", "Live tenant event subscriptions", "")

	EventsPublished   = Collector.Counter("wagate_events_published_total", "Events delivered to subscribers", "")
	EventsDropped     = Collector.Counter("wagate_events_dropped_total", "Events dropped on full subscriber buffers", "")
	MessagesIn        = Collector.Counter("wagate_messages_received_total", "Inbound messages across all sessions", "")
	MessagesOut       = Collector.Counter("wagate_messages_sent_total", "Outbound messages across all sessions", "")
	AdmissionDenials  = Collector.Counter("wagate_admission_denials_total", "Quota checks that denied an action", "")
	ReconnectAttempts = Collector.Counter("wagate_reconnect_attempts_total", "Reconnect operations started", "")
	ProbeFailures     = Collector.Counter("wagate_probe_failures_total", "Liveness probes that failed", "")
	WebhookDeliveries = Collector.Counter("wagate_webhook_deliveries_total", "Outbound webhook POSTs attempted", "")
	WebhookFailures   = Collector.Counter("wagate_webhook_failures_total", "Outbound webhook POSTs that failed", "")

	ReconnectDuration = Collector.Histogram("wagate_reconnect_duration_seconds", "Reconnect wall time in seconds", "",
		[]float64{1, 5, 10, 30, 60, 120})
	ProbeLatency = Collector.Histogram("wagate_probe_latency_seconds", "Driver liveness probe latency in seconds", "",
		[]float64{0.1, 0.5, 1, 5, 10})
)
