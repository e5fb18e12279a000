// Package monitor samples the process itself for the status endpoint and
// Prometheus.
package monitor

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Snapshot is one sample of the running process.
type Snapshot struct {
	StartedAt     time.Time `json:"started_at"`
	SampledAt     time.Time `json:"sampled_at"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	// CPUPercent is process CPU time over wall time since the previous
	// sample; 100 means one core fully busy.
	CPUPercent     float64 `json:"cpu_percent"`
	Goroutines     int     `json:"goroutines"`
	HeapAllocBytes uint64  `json:"heap_alloc_bytes"`
	SysBytes       uint64  `json:"sys_bytes"`
	NumGC          uint32  `json:"num_gc"`
	NumCPU         int     `json:"num_cpu"`
	GoVersion      string  `json:"go_version"`
}

// Monitor holds the latest Snapshot. Readers never lock; Sample swaps the
// whole snapshot at once.
type Monitor struct {
	started time.Time
	now     func() time.Time
	cpuTime func() time.Duration

	// mu serializes samplers so CPU deltas pair up.
	mu      sync.Mutex
	lastCPU time.Duration
	lastAt  time.Time

	current atomic.Pointer[Snapshot]
}

// New creates the monitor and takes a first sample. A nil clock uses time.Now.
func New(now func() time.Time) *Monitor {
	if now == nil {
		now = time.Now
	}
	m := &Monitor{
		started: now(),
		now:     now,
		cpuTime: processCPUTime,
	}
	m.Sample()
	return m
}

// Sample reads the process counters and publishes a new snapshot.
func (m *Monitor) Sample() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	at := m.now()
	cpu := m.cpuTime()

	var percent float64
	if !m.lastAt.IsZero() {
		if wall := at.Sub(m.lastAt); wall > 0 && cpu >= m.lastCPU {
			percent = float64(cpu-m.lastCPU) / float64(wall) * 100
		}
	}
	m.lastCPU, m.lastAt = cpu, at

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	snap := &Snapshot{
		StartedAt:      m.started,
		SampledAt:      at,
		UptimeSeconds:  at.Sub(m.started).Seconds(),
		CPUPercent:     percent,
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: ms.HeapAlloc,
		SysBytes:       ms.Sys,
		NumGC:          ms.NumGC,
		NumCPU:         runtime.NumCPU(),
		GoVersion:      runtime.Version(),
	}
	m.current.Store(snap)
	return *snap
}

// Snapshot returns the latest sample.
func (m *Monitor) Snapshot() Snapshot {
	if s := m.current.Load(); s != nil {
		return *s
	}
	return Snapshot{StartedAt: m.started}
}

// Register exposes the snapshot as gauges on reg.
func (m *Monitor) Register(reg prometheus.Registerer) error {
	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "monitor_uptime_seconds",
			Help: "Seconds since the service started, as of the last sample",
		}, func() float64 { return m.Snapshot().UptimeSeconds }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "monitor_cpu_percent",
			Help: "Process CPU use between the last two samples",
		}, func() float64 { return m.Snapshot().CPUPercent }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "monitor_heap_alloc_bytes",
			Help: "Heap bytes allocated as of the last sample",
		}, func() float64 { return float64(m.Snapshot().HeapAllocBytes) }),
	}
	for _, g := range gauges {
		if err := reg.Register(g); err != nil {
			return err
		}
	}
	return nil
}
