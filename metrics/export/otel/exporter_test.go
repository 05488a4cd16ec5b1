package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/MrEthical07/storeauth"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot storeauth.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() storeauth.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := storeauth.MetricsSnapshot{
		Counters:   make(map[storeauth.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[storeauth.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("storeauth-test")

	src := &fakeSource{
		snapshot: storeauth.MetricsSnapshot{
			Counters: map[storeauth.MetricID]uint64{
				storeauth.MetricLoginSuccess: 3,
			},
			Histograms: map[storeauth.MetricID][]uint64{
				storeauth.MetricValidateLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := New(meter, src)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(rm.ScopeMetrics) == 0 {
		t.Fatal("expected collected metrics, got none")
	}

	values := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok && len(sum.DataPoints) > 0 {
				values[m.Name] = sum.DataPoints[0].Value
			}
			if gauge, ok := m.Data.(metricdata.Gauge[int64]); ok && len(gauge.DataPoints) > 0 {
				values[m.Name] = gauge.DataPoints[0].Value
			}
		}
	}
	if values["storeauth_login_success_total"] != 3 {
		t.Fatalf("expected login counter 3, got %d", values["storeauth_login_success_total"])
	}
	if values["storeauth_validate_latency_seconds_count"] != 8 {
		t.Fatalf("expected 8 latency samples, got %d", values["storeauth_validate_latency_seconds_count"])
	}
	if values["storeauth_audit_dropped_total"] != 1 {
		t.Fatalf("expected 1 dropped audit event, got %d", values["storeauth_audit_dropped_total"])
	}
}

func TestExporterRejectsNilMeter(t *testing.T) {
	if _, err := New(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterRejectsNilSource(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("storeauth-test")

	if _, err := New(meter, nil); err == nil {
		t.Fatal("expected error for nil source")
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("storeauth-test")

	src := &fakeSource{
		snapshot: storeauth.MetricsSnapshot{
			Counters: map[storeauth.MetricID]uint64{
				storeauth.MetricLoginSuccess: 1,
			},
			Histograms: map[storeauth.MetricID][]uint64{
				storeauth.MetricValidateLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := New(meter, src)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[storeauth.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
