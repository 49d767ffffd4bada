package logger

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type counter struct {
	count int64
	bytes int64
}

func (c *counter) add(size int64) {
	atomic.AddInt64(&c.count, 1)
	atomic.AddInt64(&c.bytes, size)
}

// counterSet is a set of named counters created on first use.
type counterSet struct {
	m sync.Map // map[string]*counter
}

func (s *counterSet) add(name string, size int64) {
	v, _ := s.m.LoadOrStore(name, &counter{})
	v.(*counter).add(size)
}

func (s *counterSet) snapshot() map[string]map[string]int64 {
	out := map[string]map[string]int64{}
	s.m.Range(func(k, v any) bool {
		c := v.(*counter)
		out[k.(string)] = map[string]int64{
			"count": atomic.LoadInt64(&c.count),
			"bytes": atomic.LoadInt64(&c.bytes),
		}
		return true
	})
	return out
}

var (
	warns     counterSet
	errs      counterSet
	feeds     counterSet
	fetches   counterSet
	sinks     counterSet
	reportMu  sync.Mutex
	reporting bool
)

func recordWarn(component string) {
	warns.add(component, 0)
}

func recordError(component string) {
	errs.add(component, 0)
}

// RecordAccountUpdate counts one pushed account notification of size bytes.
func RecordAccountUpdate(size int) {
	feeds.add("account_stream", int64(size))
}

// RecordAccountFetch counts one account read over RPC.
func RecordAccountFetch(size int) {
	fetches.add("rpc", int64(size))
}

// RecordSinkWrite counts one object or message written to sink.
func RecordSinkWrite(sink string, size int64) {
	sinks.add(sink, size)
}

// StartReport begins periodic logging of host, feed and sink statistics. Only
// the first call starts a reporter.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	reportMu.Lock()
	defer reportMu.Unlock()
	if reporting {
		return
	}
	reporting = true
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer func() {
			ticker.Stop()
			reportMu.Lock()
			reporting = false
			reportMu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func sum(stats map[string]map[string]int64, key string) int64 {
	var total int64
	for _, s := range stats {
		total += s[key]
	}
	return total
}

func logReport(ctx context.Context, log *Log) {
	cpuPct := 0.0
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		cpuPct = pct[0]
	}
	var memUsed, diskUsed, bytesSent, bytesRecv uint64
	if v, err := mem.VirtualMemory(); err == nil {
		memUsed = v.Used
	}
	if d, err := disk.Usage("/"); err == nil {
		diskUsed = d.Used
	}
	if n, err := gnet.IOCounters(false); err == nil && len(n) > 0 {
		bytesSent, bytesRecv = n[0].BytesSent, n[0].BytesRecv
	}

	warnStats := warns.snapshot()
	errStats := errs.snapshot()
	feedStats := feeds.snapshot()
	fetchStats := fetches.snapshot()
	sinkStats := sinks.snapshot()

	fields := Fields{
		"warns":          sum(warnStats, "count"),
		"errors":         sum(errStats, "count"),
		"account_pushes": sum(feedStats, "count"),
		"push_bytes":     sum(feedStats, "bytes"),
		"account_reads":  sum(fetchStats, "count"),
		"sinks":          sinkStats,
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      int64(memUsed / 1024 / 1024),
		"disk_mb":        int64(diskUsed / 1024 / 1024),
		"net_bytes_sent": int64(bytesSent),
		"net_bytes_recv": int64(bytesRecv),
	}
	if len(errStats) > 0 {
		fields["errors_by_component"] = errStats
	}
	log.WithComponent("report").WithFields(fields).Info("runtime report")

	count := func(name string, v int64) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{MetricName: aws.String(name), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(v))}
	}
	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memUsed) / 1024 / 1024)},
		{MetricName: aws.String("DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskUsed) / 1024 / 1024)},
		{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
		count("Warnings", fields["warns"].(int64)),
		count("Errors", fields["errors"].(int64)),
		count("AccountPushes", fields["account_pushes"].(int64)),
		count("AccountReads", fields["account_reads"].(int64)),
	}

	names := make([]string, 0, len(sinkStats))
	for name := range sinkStats {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		dims := []cwtypes.Dimension{{Name: aws.String("Sink"), Value: aws.String(name)}}
		data = append(data,
			cwtypes.MetricDatum{MetricName: aws.String("SinkWrites"), Unit: cwtypes.StandardUnitCount, Dimensions: dims, Value: aws.Float64(float64(sinkStats[name]["count"]))},
			cwtypes.MetricDatum{MetricName: aws.String("SinkBytes"), Unit: cwtypes.StandardUnitBytes, Dimensions: dims, Value: aws.Float64(float64(sinkStats[name]["bytes"]))},
		)
	}

	PublishMetrics(ctx, data...)
}
