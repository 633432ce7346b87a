package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	analysisTriggeredTotal      atomic.Uint64
	analysisCompletedTotal      atomic.Uint64
	analysisFailedTotal         atomic.Uint64
	analysisSupersededTotal     atomic.Uint64
	analysisDispatchFailedTotal atomic.Uint64

	workerJobsProcessedTotal atomic.Uint64
	workerJobsFailedTotal    atomic.Uint64

	sseClientsActive atomic.Int64

	analysisDuration = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000, 120000})
)

// IncAnalysisTriggered counts a run that moved a report to processing.
func IncAnalysisTriggered() {
	analysisTriggeredTotal.Add(1)
}

// IncAnalysisCompleted increments the completed counter.
func IncAnalysisCompleted() {
	analysisCompletedTotal.Add(1)
}

// IncAnalysisFailed increments the failed counter.
func IncAnalysisFailed() {
	analysisFailedTotal.Add(1)
}

// IncAnalysisSuperseded counts runs whose result was discarded after a regenerate.
func IncAnalysisSuperseded() {
	analysisSupersededTotal.Add(1)
}

// IncAnalysisDispatchFailed counts queue enqueue failures.
func IncAnalysisDispatchFailed() {
	analysisDispatchFailedTotal.Add(1)
}

func IncWorkerJobProcessed() {
	workerJobsProcessedTotal.Add(1)
}

func IncWorkerJobFailed() {
	workerJobsFailedTotal.Add(1)
}

// AddSSEClients adjusts the connected event-stream gauge.
func AddSSEClients(delta int64) {
	sseClientsActive.Add(delta)
}

// ObserveAnalysisDurationMs records an analysis duration in milliseconds.
func ObserveAnalysisDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	analysisDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "analysis_triggered_total", "Total analyses moved to processing", analysisTriggeredTotal.Load())
	writeCounter(&buf, "analysis_completed_total", "Total analyses completed", analysisCompletedTotal.Load())
	writeCounter(&buf, "analysis_failed_total", "Total analyses failed", analysisFailedTotal.Load())
	writeCounter(&buf, "analysis_superseded_total", "Total analysis results discarded after regenerate", analysisSupersededTotal.Load())
	writeCounter(&buf, "analysis_dispatch_failed_total", "Total analysis jobs that could not be enqueued", analysisDispatchFailedTotal.Load())
	writeCounter(&buf, "worker_jobs_processed_total", "Total queue jobs processed", workerJobsProcessedTotal.Load())
	writeCounter(&buf, "worker_jobs_failed_total", "Total queue jobs that failed", workerJobsFailedTotal.Load())
	writeGauge(&buf, "informe_event_streams_active", "Connected report event streams", sseClientsActive.Load())
	writeHistogram(&buf, "analysis_duration_ms", "Analysis duration in milliseconds", analysisDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// Observe places value in the first bucket whose bound covers it; rendering accumulates.
func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			return
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeGauge(buf *bytes.Buffer, name, help string, value int64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s gauge\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
