package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewCollector(t *testing.T) {
	c := NewCollector()
	if c == nil {
		t.Fatal("NewCollector() returned nil")
	}
}

func TestCollector_RecordEmit(t *testing.T) {
	c := NewCollector()

	c.RecordEmit("map")
	c.RecordEmit("map")
	c.RecordOperatorError("map")

	output := c.PrometheusFormat()

	if !strings.Contains(output, `fluxpipe_operator_emitted_total{operator="map"} 2`) {
		t.Error("expected map emitted count of 2")
	}
	if !strings.Contains(output, `fluxpipe_operator_errors_total{operator="map"} 1`) {
		t.Error("expected map error count of 1")
	}
}

func TestCollector_SetBufferOccupancy(t *testing.T) {
	c := NewCollector()

	c.SetBufferOccupancy("stream-1", 3)
	c.SetBufferOccupancy("stream-1", 5)

	output := c.PrometheusFormat()
	if !strings.Contains(output, `fluxpipe_buffer_occupancy{stream="stream-1"} 5.00`) {
		t.Errorf("expected latest occupancy of 5, got: %s", output)
	}
}

func TestCollector_RecordGateAcquire(t *testing.T) {
	c := NewCollector()

	c.RecordGateAcquire(false)
	c.RecordGateAcquire(true)
	c.RecordGateAcquire(true)

	output := c.PrometheusFormat()
	if !strings.Contains(output, "fluxpipe_gate_acquires_total 3") {
		t.Error("expected 3 gate acquires")
	}
	if !strings.Contains(output, "fluxpipe_gate_waits_total 2") {
		t.Error("expected 2 gate waits")
	}
}

func TestCollector_RecordSinkCompletion(t *testing.T) {
	c := NewCollector()

	c.RecordSinkCompletion(nil)
	c.RecordSinkCompletion(errors.New("boom"))

	output := c.PrometheusFormat()
	if !strings.Contains(output, "fluxpipe_sink_completions_total 2") {
		t.Error("expected 2 sink completions")
	}
	if !strings.Contains(output, "fluxpipe_sink_errors_total 1") {
		t.Error("expected 1 sink error")
	}
}

func TestCollector_PrometheusFormat(t *testing.T) {
	c := NewCollector()

	c.RecordEmit("filter")
	c.RecordGateAcquire(false)
	c.RecordSinkCompletion(nil)

	output := c.PrometheusFormat()

	expectedMetrics := []string{
		"fluxpipe_operator_emitted_total",
		"fluxpipe_gate_acquires_total",
		"fluxpipe_sink_completions_total",
		"fluxpipe_uptime_seconds",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(output, metric) {
			t.Errorf("expected output to contain %s", metric)
		}
	}
}

func TestDefaultReturnsANonNilCollector(t *testing.T) {
	if Default() == nil {
		t.Fatal("Default() returned nil")
	}
}

func TestSetDefaultReplacesTheProcessWideCollector(t *testing.T) {
	original := Default()
	defer SetDefault(original)

	replacement := NewCollector()
	SetDefault(replacement)

	if Default() != replacement {
		t.Error("Default() did not return the collector passed to SetDefault")
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.RecordEmit("map")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	handler := c.Handler()
	handler(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	contentType := rr.Header().Get("Content-Type")
	if !strings.Contains(contentType, "text/plain") {
		t.Errorf("expected text/plain content type, got %s", contentType)
	}

	if !strings.Contains(rr.Body.String(), "fluxpipe_operator_emitted_total") {
		t.Error("expected metrics in response")
	}
}
