package monitor

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestMonitor(clock *fakeClock, cpu *time.Duration) *Monitor {
	m := &Monitor{
		started: clock.Now(),
		now:     clock.Now,
		cpuTime: func() time.Duration { return *cpu },
	}
	m.Sample()
	return m
}

func TestSampleComputesCPUPercent(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cpu := 2 * time.Second
	m := newTestMonitor(clock, &cpu)

	if got := m.Snapshot().CPUPercent; got != 0 {
		t.Fatalf("first sample CPU = %v, want 0", got)
	}

	clock.Advance(2 * time.Second)
	cpu += time.Second
	snap := m.Sample()
	if snap.CPUPercent != 50 {
		t.Errorf("CPU = %v, want 50", snap.CPUPercent)
	}
	if snap.UptimeSeconds != 2 {
		t.Errorf("uptime = %v, want 2", snap.UptimeSeconds)
	}
	if snap.Goroutines <= 0 || snap.NumCPU <= 0 || snap.GoVersion == "" {
		t.Errorf("runtime fields not filled: %+v", snap)
	}
	if m.Snapshot().SampledAt != clock.Now() {
		t.Error("Snapshot did not return the latest sample")
	}
}

func TestSampleIgnoresCounterReset(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	cpu := 5 * time.Second
	m := newTestMonitor(clock, &cpu)

	clock.Advance(time.Second)
	cpu = time.Second
	if got := m.Sample().CPUPercent; got != 0 {
		t.Errorf("CPU after reset = %v, want 0", got)
	}
}

func TestConcurrentSnapshotReads(t *testing.T) {
	m := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.Sample()
		}()
		go func() {
			defer wg.Done()
			if m.Snapshot().StartedAt.IsZero() {
				t.Error("snapshot missing start time")
			}
		}()
	}
	wg.Wait()
}

func TestRegisterExposesGauges(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	cpu := time.Duration(0)
	m := newTestMonitor(clock, &cpu)
	clock.Advance(10 * time.Second)
	m.Sample()

	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	values := make(map[string]float64)
	for _, f := range families {
		values[f.GetName()] = f.GetMetric()[0].GetGauge().GetValue()
	}
	if values["monitor_uptime_seconds"] != 10 {
		t.Errorf("uptime gauge = %v, want 10", values["monitor_uptime_seconds"])
	}
	if _, ok := values["monitor_cpu_percent"]; !ok {
		t.Error("cpu gauge not registered")
	}
	if err := m.Register(reg); err == nil {
		t.Error("registering twice should fail")
	}
}

func TestGinMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware())
	r.GET("/things/:id", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/things/:id", "418"))
	for _, id := range []string{"a", "b"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/things/"+id, nil))
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/things/:id", "418"))
	if after-before != 2 {
		t.Errorf("counter moved by %v, want 2", after-before)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	if testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "unmatched", "404")) < 1 {
		t.Error("unmatched route not counted")
	}
}
