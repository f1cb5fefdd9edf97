// Package metrics provides Prometheus-compatible metrics collection for
// fluxpipe pipelines: an atomic-counter-plus-sync.Map collector with
// hand-rolled Prometheus text exposition (no
// github.com/prometheus/client_golang dependency) tracking per-operator
// emitted/error counts, buffer occupancy gauges, and flatten-operator
// concurrency-gate utilization.
package metrics

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Collector collects and exposes Prometheus-compatible metrics for a
// running set of fluxpipe pipelines.
type Collector struct {
	operatorEmitted sync.Map // map[string]*int64, keyed by operator name
	operatorErrors  sync.Map // map[string]*int64, keyed by operator name

	bufferOccupancy sync.Map // map[string]*int64, keyed by stream ID

	gateAcquired int64
	gateWaited   int64

	sinkCompletions int64
	sinkErrors      int64

	startTime time.Time
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

var defaultCollector atomic.Pointer[Collector]

func init() {
	defaultCollector.Store(NewCollector())
}

// Default returns the process-wide Collector that internal/operator records
// against when no collector is threaded explicitly, matching
// internal/observability's package-level tracer.
func Default() *Collector {
	return defaultCollector.Load()
}

// SetDefault replaces the process-wide Collector, e.g. with one wired to a
// specific /metrics listener address from internal/config.
func SetDefault(c *Collector) {
	defaultCollector.Store(c)
}

// RecordEmit increments the emitted-value counter for the named operator
// (e.g. "map", "mergeMap", "debounceTime").
func (c *Collector) RecordEmit(operator string) {
	c.counter(&c.operatorEmitted, operator).Add(1)
}

// RecordOperatorError increments the error counter for the named operator.
func (c *Collector) RecordOperatorError(operator string) {
	c.counter(&c.operatorErrors, operator).Add(1)
}

// SetBufferOccupancy records streamID's current buffered item count, for
// watching backpressure against a configured highWaterMark.
func (c *Collector) SetBufferOccupancy(streamID string, occupancy int) {
	c.counter(&c.bufferOccupancy, streamID).Store(int64(occupancy))
}

// RecordGateAcquire records one Gate.Wait call, and whether the caller had
// to actually wait for a slot (as opposed to acquiring immediately).
func (c *Collector) RecordGateAcquire(waited bool) {
	atomic.AddInt64(&c.gateAcquired, 1)
	if waited {
		atomic.AddInt64(&c.gateWaited, 1)
	}
}

// RecordSinkCompletion records one terminal drain (ToSlice/ToFuture/
// ToString) completing, successfully or not.
func (c *Collector) RecordSinkCompletion(err error) {
	atomic.AddInt64(&c.sinkCompletions, 1)
	if err != nil {
		atomic.AddInt64(&c.sinkErrors, 1)
	}
}

func (c *Collector) counter(m *sync.Map, key string) *atomicCounter {
	v, _ := m.LoadOrStore(key, &atomicCounter{})
	return v.(*atomicCounter)
}

type atomicCounter struct{ v int64 }

func (a *atomicCounter) Add(delta int64)   { atomic.AddInt64(&a.v, delta) }
func (a *atomicCounter) Store(v int64)     { atomic.StoreInt64(&a.v, v) }
func (a *atomicCounter) Load() int64       { return atomic.LoadInt64(&a.v) }

// PrometheusFormat returns metrics in Prometheus exposition format.
func (c *Collector) PrometheusFormat() string {
	var output string

	c.operatorEmitted.Range(func(key, value any) bool {
		name := key.(string)
		output += c.formatCounter("fluxpipe_operator_emitted_total", fmt.Sprintf(`operator="%s"`, name), value.(*atomicCounter).Load())
		return true
	})
	c.operatorErrors.Range(func(key, value any) bool {
		name := key.(string)
		output += c.formatCounter("fluxpipe_operator_errors_total", fmt.Sprintf(`operator="%s"`, name), value.(*atomicCounter).Load())
		return true
	})
	c.bufferOccupancy.Range(func(key, value any) bool {
		id := key.(string)
		output += c.formatGauge("fluxpipe_buffer_occupancy", fmt.Sprintf(`stream="%s"`, id), float64(value.(*atomicCounter).Load()))
		return true
	})

	output += c.formatCounter("fluxpipe_gate_acquires_total", "", atomic.LoadInt64(&c.gateAcquired))
	output += c.formatCounter("fluxpipe_gate_waits_total", "", atomic.LoadInt64(&c.gateWaited))

	output += c.formatCounter("fluxpipe_sink_completions_total", "", atomic.LoadInt64(&c.sinkCompletions))
	output += c.formatCounter("fluxpipe_sink_errors_total", "", atomic.LoadInt64(&c.sinkErrors))

	uptime := time.Since(c.startTime).Seconds()
	output += c.formatGauge("fluxpipe_uptime_seconds", "", uptime)

	return output
}

func (c *Collector) formatCounter(name, labels string, value int64) string {
	if labels != "" {
		return fmt.Sprintf("%s{%s} %d\n", name, labels, value)
	}
	return fmt.Sprintf("%s %d\n", name, value)
}

func (c *Collector) formatGauge(name, labels string, value float64) string {
	if labels != "" {
		return fmt.Sprintf("%s{%s} %.2f\n", name, labels, value)
	}
	return fmt.Sprintf("%s %.2f\n", name, value)
}

// Handler returns an HTTP handler exposing PrometheusFormat at /metrics.
func (c *Collector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(c.PrometheusFormat()))
	}
}
