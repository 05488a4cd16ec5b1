package storeauth

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricLoginSuccess)

	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestMetricsEnabledIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)

	if got := m.Value(MetricLoginSuccess); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricSessionRenewed)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricSessionRenewed); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
		700 * time.Millisecond,
	}

	for _, d := range observations {
		m.Observe(MetricValidateLatency, d)
	}

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricValidateLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}

	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
}

func TestMetricsSnapshotConsistency(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginFailure)
	m.Inc(MetricLoginFailure)
	m.Observe(MetricValidateLatency, 2*time.Millisecond)

	snap := m.Snapshot()

	if snap.Counters[MetricLoginSuccess] != 1 {
		t.Fatalf("expected MetricLoginSuccess=1 got %d", snap.Counters[MetricLoginSuccess])
	}
	if snap.Counters[MetricLoginFailure] != 2 {
		t.Fatalf("expected MetricLoginFailure=2 got %d", snap.Counters[MetricLoginFailure])
	}
	if len(snap.Histograms[MetricValidateLatency]) != 8 {
		t.Fatalf("expected histogram length 8")
	}
	if snap.Histograms[MetricValidateLatency][0] != 1 {
		t.Fatalf("expected first histogram bucket=1 got %d", snap.Histograms[MetricValidateLatency][0])
	}
}

func TestEngineRecordsActionMetrics(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.EnableLatencyHistograms = true
	env := newTestEnv(t, cfg, false)
	env.fullUser(t, "alice@example.com", "alice")

	res, err := env.engine.Login(env.ctx, "alice@example.com", testPassword, false)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if _, err := env.engine.Login(env.ctx, "alice@example.com", "wrong-password-1", false); err == nil {
		t.Fatal("expected the wrong password to fail")
	}
	if _, err := env.engine.ValidateSession(env.ctx, res.SessionToken); err != nil {
		t.Fatalf("ValidateSession failed: %v", err)
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricLoginSuccess] != 1 || snap.Counters[MetricLoginFailure] != 1 {
		t.Fatalf("unexpected login counters: %d/%d", snap.Counters[MetricLoginSuccess], snap.Counters[MetricLoginFailure])
	}
	if snap.Counters[MetricSignupSuccess] != 1 || snap.Counters[MetricTOTPSetupSuccess] != 1 {
		t.Fatal("signup and authenticator setup not counted")
	}
	var observed uint64
	for _, n := range snap.Histograms[MetricValidateLatency] {
		observed += n
	}
	if observed != 1 {
		t.Fatalf("expected one latency observation, got %d", observed)
	}
}
