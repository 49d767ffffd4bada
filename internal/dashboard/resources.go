package dashboard

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"serumflow/logger"
)

// resourceSnapshot is one sample of host and process utilisation.
type resourceSnapshot struct {
	Timestamp   time.Time `json:"timestamp"`
	CPUPercent  float64   `json:"cpu_percent"`
	MemoryUsed  uint64    `json:"memory_used"`
	MemoryTotal uint64    `json:"memory_total"`
	MemoryPct   float64   `json:"memory_percent"`
	HeapAlloc   uint64    `json:"heap_alloc"`
	Goroutines  int       `json:"goroutines"`
}

type resourceSampler struct {
	history  *ring[resourceSnapshot]
	interval time.Duration
	log      *logger.Log

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var (
	cpuPercentFn = func(ctx context.Context) ([]float64, error) {
		return cpu.PercentWithContext(ctx, 0, false)
	}
	memoryStatsFn = mem.VirtualMemoryWithContext
)

func newResourceSampler(limit int, interval time.Duration, log *logger.Log) *resourceSampler {
	if interval <= 0 {
		interval = time.Second
	}
	return &resourceSampler{
		history:  newRing[resourceSnapshot](limit),
		interval: interval,
		log:      log,
	}
}

func (s *resourceSampler) start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			s.sample(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (s *resourceSampler) stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *resourceSampler) snapshot() []resourceSnapshot {
	return s.history.snapshot()
}

func (s *resourceSampler) sample(ctx context.Context) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	snap := resourceSnapshot{
		Timestamp:  time.Now(),
		HeapAlloc:  ms.HeapAlloc,
		Goroutines: runtime.NumGoroutine(),
	}

	if samples, err := cpuPercentFn(ctx); err != nil {
		s.log.WithComponent("resource_sampler").WithError(err).Debug("failed to sample cpu usage")
	} else if len(samples) > 0 {
		snap.CPUPercent = samples[0]
	}
	if vm, err := memoryStatsFn(ctx); err != nil {
		s.log.WithComponent("resource_sampler").WithError(err).Debug("failed to sample memory usage")
	} else {
		snap.MemoryUsed = vm.Used
		snap.MemoryTotal = vm.Total
		snap.MemoryPct = vm.UsedPercent
	}

	s.history.push(snap)
}
