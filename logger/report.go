package logger

import (
	"context"
	"runtime"
	"sort"
	"strings"
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

type flowStat struct {
	messages int64
	bytes    int64
}

var (
	errorsStream   int64
	errorsServer   int64
	warnsStream    int64
	warnsServer    int64
	framesRead     int64
	candlesStored  int64
	ticksPublished int64
	flows          sync.Map // map[string]*flowStat
)

// Components whose name contains one of these are counted as stream side.
var streamComponents = []string{"stream", "upstox", "feed", "history", "processor"}

func isStreamComponent(component string) bool {
	for _, c := range streamComponents {
		if strings.Contains(component, c) {
			return true
		}
	}
	return false
}

func recordWarn(component string) {
	if isStreamComponent(component) {
		atomic.AddInt64(&warnsStream, 1)
	} else {
		atomic.AddInt64(&warnsServer, 1)
	}
}

func recordError(component string) {
	if isStreamComponent(component) {
		atomic.AddInt64(&errorsStream, 1)
	} else {
		atomic.AddInt64(&errorsServer, 1)
	}
}

// IncrementFrameRead counts one upstream frame of size bytes.
func IncrementFrameRead(size int) {
	atomic.AddInt64(&framesRead, 1)
	recordFlow("upstox_ws", size)
}

// IncrementCandleStored counts one history write that added a candle.
func IncrementCandleStored() {
	atomic.AddInt64(&candlesStored, 1)
}

// IncrementTickPublished counts one enriched tick delivered to n subscribers.
func IncrementTickPublished(size int, subscribers int) {
	atomic.AddInt64(&ticksPublished, 1)
	for i := 0; i < subscribers; i++ {
		recordFlow("subscriber_ws", size)
	}
}

// RecordFlowMessage counts one message of size bytes on the named flow.
func RecordFlowMessage(name string, size int) {
	recordFlow(name, size)
}

func recordFlow(name string, size int) {
	v, _ := flows.LoadOrStore(name, &flowStat{})
	fs := v.(*flowStat)
	atomic.AddInt64(&fs.messages, 1)
	atomic.AddInt64(&fs.bytes, int64(size))
}

// Snapshot returns the current report counters.
func Snapshot() Fields {
	flowData := map[string]map[string]int64{}
	flows.Range(func(k, v any) bool {
		fs := v.(*flowStat)
		flowData[k.(string)] = map[string]int64{
			"messages": atomic.LoadInt64(&fs.messages),
			"bytes":    atomic.LoadInt64(&fs.bytes),
		}
		return true
	})
	return Fields{
		"errors_stream":   atomic.LoadInt64(&errorsStream),
		"errors_server":   atomic.LoadInt64(&errorsServer),
		"warns_stream":    atomic.LoadInt64(&warnsStream),
		"warns_server":    atomic.LoadInt64(&warnsServer),
		"frames_read":     atomic.LoadInt64(&framesRead),
		"candles_stored":  atomic.LoadInt64(&candlesStored),
		"ticks_published": atomic.LoadInt64(&ticksPublished),
		"flows":           flowData,
	}
}

// StartReport logs system and pipeline statistics every interval until ctx is
// cancelled.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
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

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	netStats, _ := gnet.IOCounters(false)

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}
	memoryMB := 0.0
	if memStats, err := mem.VirtualMemory(); err == nil {
		memoryMB = float64(memStats.Used) / 1024 / 1024
	}
	diskMB := 0.0
	if diskStats, err := disk.Usage("/"); err == nil {
		diskMB = float64(diskStats.Used) / 1024 / 1024
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Snapshot()
	fields["goroutines"] = runtime.NumGoroutine()
	fields["cpu_percent"] = cpuPct
	fields["memory_mb"] = int64(memoryMB)
	fields["disk_mb"] = int64(diskMB)
	fields["net_bytes_sent"] = int64(bytesSent)
	fields["net_bytes_recv"] = int64(bytesRecv)

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	counter := func(name, key string) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(float64(fields[key].(int64))),
		}
	}

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(memoryMB)},
		{MetricName: aws.String("DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(diskMB)},
		{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
		counter("ErrorsStream", "errors_stream"),
		counter("ErrorsServer", "errors_server"),
		counter("WarnsStream", "warns_stream"),
		counter("WarnsServer", "warns_server"),
		counter("FramesRead", "frames_read"),
		counter("CandlesStored", "candles_stored"),
		counter("TicksPublished", "ticks_published"),
	}

	flowData := fields["flows"].(map[string]map[string]int64)
	names := make([]string, 0, len(flowData))
	for name := range flowData {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		stats := flowData[name]
		dims := []cwtypes.Dimension{{Name: aws.String("Flow"), Value: aws.String(name)}}
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("FlowMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("FlowBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: dims,
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
