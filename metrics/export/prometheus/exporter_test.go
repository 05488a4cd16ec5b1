package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/storeauth"
)

type fakeSource struct {
	snapshot storeauth.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() storeauth.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                       { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := New(fakeSource{
		snapshot: storeauth.MetricsSnapshot{
			Counters:   map[storeauth.MetricID]uint64{},
			Histograms: map[storeauth.MetricID][]uint64{},
		},
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderIncludesCounterAndHistogram(t *testing.T) {
	exp := New(fakeSource{
		snapshot: storeauth.MetricsSnapshot{
			Counters: map[storeauth.MetricID]uint64{
				storeauth.MetricLoginSuccess:   7,
				storeauth.MetricSessionRenewed: 3,
			},
			Histograms: map[storeauth.MetricID][]uint64{
				storeauth.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	for _, want := range []string{
		"storeauth_login_success_total 7",
		"storeauth_session_renewed_total 3",
		"storeauth_signup_success_total 0",
		"storeauth_validate_latency_seconds_bucket{le=\"0.005\"} 1",
		"storeauth_validate_latency_seconds_bucket{le=\"+Inf\"} 36",
		"storeauth_validate_latency_seconds_count 36",
		"storeauth_audit_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
}

func TestServeHTTPWritesPrometheusContentType(t *testing.T) {
	exp := New(fakeSource{
		snapshot: storeauth.MetricsSnapshot{
			Counters:   map[storeauth.MetricID]uint64{storeauth.MetricLoginSuccess: 1},
			Histograms: map[storeauth.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := New(fakeSource{
		snapshot: storeauth.MetricsSnapshot{
			Counters: map[storeauth.MetricID]uint64{
				storeauth.MetricLoginSuccess:       1000,
				storeauth.MetricLoginFailure:       40,
				storeauth.MetricSessionCreated:     800,
				storeauth.MetricSessionInvalidated: 20,
				storeauth.MetricTOTPFailure:        3,
			},
			Histograms: map[storeauth.MetricID][]uint64{
				storeauth.MetricValidateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
