package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestMetrics_RecordAndExpose(t *testing.T) {
	m := NewMetrics("test")

	m.RecordCallStart()
	m.RecordToolCall("save_lead_data", "ok", 120*time.Millisecond)
	m.RecordToolCall("save_lead_data", "failed", 0)
	m.RecordDroppedFrame("not_ready")
	m.RecordAudio("in", 8192)

	body := scrape(t, m)
	for _, want := range []string{
		"test_calls_active 1",
		`test_tool_calls_total{status="failed",tool="save_lead_data"} 1`,
		`test_audio_frames_dropped_total{reason="not_ready"} 1`,
		`test_audio_bytes_total{direction="in"} 8192`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}

	m.RecordCallEnd("disconnect", 30*time.Second)
	body = scrape(t, m)
	if !strings.Contains(body, "test_calls_active 0") {
		t.Fatalf("calls_active not decremented:\n%s", body)
	}
	if !strings.Contains(body, `test_calls_total{reason="disconnect"} 1`) {
		t.Fatalf("calls_total missing:\n%s", body)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordCallStart()
	m.RecordToolCall("x", "ok", time.Second)
	m.RecordDroppedFrame("x")
	m.RecordInterruption()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
}
