package reports

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"unicornio-backend/internal/analyzer"
	"unicornio-backend/internal/entrepreneurs"
	"unicornio-backend/internal/queue"
	"unicornio-backend/internal/realtime"
	"unicornio-backend/internal/shared/metrics"
	"unicornio-backend/internal/shared/telemetry"
)

const (
	DefaultTimeout  = 120 * time.Second
	maxErrorRunes   = 500
	msgInternalFail = "Error interno durante el análisis"
	msgDispatchFail = "No se pudo encolar el análisis"
	tracerName      = "unicornio-backend/reports"
)

// errSuperseded is returned by markProcessing when a newer run owns the id.
var errSuperseded = errors.New("run superseded")

// Store is the slice of the entrepreneur service the trigger writes through.
type Store interface {
	Get(ctx context.Context, id string) (entrepreneurs.Emprendedor, error)
	TransitionReport(ctx context.Context, id string, next entrepreneurs.Report) (entrepreneurs.Emprendedor, error)
}

// Trigger moves reports from processing to a terminal state by calling the
// analyzer. Runs are detached from the request that started them. Within a
// process, a newer run for an id supersedes the older one: the older run is
// canceled and its result discarded.
type Trigger struct {
	Store    Store
	Analyzer analyzer.Client
	Timeout  time.Duration
	// Queue, when set, hands runs to a worker instead of running them inline.
	Queue  queue.Client
	Events realtime.Publisher
	Now    func() time.Time

	mu   sync.Mutex
	runs map[string]*runEntry
	wg   sync.WaitGroup
}

type runEntry struct {
	// write serializes report writes for one id.
	write  sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

type run struct {
	id    string
	gen   uint64
	entry *runEntry
	ctx   context.Context
}

// NewTrigger constructs a Trigger.
func NewTrigger(store Store, client analyzer.Client, timeout time.Duration) *Trigger {
	return &Trigger{Store: store, Analyzer: client, Timeout: timeout}
}

// Launch starts the analysis for a freshly created record. It never blocks on
// the analyzer and never returns an error: failures end up in the report.
func (t *Trigger) Launch(ctx context.Context, id string) {
	r := t.begin(ctx, id)
	t.spawn(r, true)
}

// Regenerate resets the report to processing, clearing any previous result
// or error, and starts a new run that supersedes any run in flight.
func (t *Trigger) Regenerate(ctx context.Context, id string) (entrepreneurs.Emprendedor, error) {
	if _, err := t.Store.Get(ctx, id); err != nil {
		return entrepreneurs.Emprendedor{}, err
	}
	r := t.begin(ctx, id)
	rec, err := t.markProcessing(r)
	if errors.Is(err, errSuperseded) {
		// A concurrent regenerate already reset the report and owns the run.
		t.end(r)
		return t.Store.Get(ctx, id)
	}
	if err != nil {
		t.end(r)
		return entrepreneurs.Emprendedor{}, err
	}
	t.spawn(r, false)
	return rec, nil
}

// RunJob executes one queued job synchronously. Redelivered jobs run again.
func (t *Trigger) RunJob(ctx context.Context, msg queue.Message) error {
	if strings.TrimSpace(msg.EmprendedorID) == "" {
		return errors.New("job without emprendedorId")
	}
	ctx = telemetry.WithRequestID(ctx, msg.RequestID)
	r := t.begin(ctx, msg.EmprendedorID)
	defer t.end(r)

	if _, err := t.markProcessing(r); err != nil {
		if errors.Is(err, errSuperseded) {
			return nil
		}
		if errors.Is(err, entrepreneurs.ErrNotFound) {
			telemetry.Warn("report.job_skipped", t.fields(r, map[string]any{"reason": "not_found"}))
			return nil
		}
		return err
	}
	return t.analyze(r)
}

// Wait blocks until every detached run has finished or ctx is done.
func (t *Trigger) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Trigger) spawn(r *run, markFirst bool) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.end(r)
		defer func() {
			if p := recover(); p != nil {
				telemetry.Error("report.run_panic", t.fields(r, map[string]any{"panic": fmt.Sprint(p)}))
				t.fail(r, errors.New(msgInternalFail))
			}
		}()

		if markFirst {
			if _, err := t.markProcessing(r); err != nil {
				if errors.Is(err, errSuperseded) {
					return
				}
				telemetry.Error("report.mark_processing_failed", t.fields(r, map[string]any{"error": err}))
				return
			}
		}
		if t.Queue != nil {
			t.enqueue(r)
			return
		}
		_ = t.analyze(r)
	}()
}

func (t *Trigger) enqueue(r *run) {
	msg := queue.NewMessage(r.id, telemetry.RequestID(r.ctx), t.now())
	if err := t.Queue.Send(r.ctx, msg); err != nil {
		metrics.IncAnalysisDispatchFailed()
		telemetry.Error("analysis.dispatch_failed", t.fields(r, map[string]any{"error": err}))
		t.fail(r, fmt.Errorf("%s: %w", msgDispatchFail, err))
		return
	}
	telemetry.Info("analysis.enqueued", t.fields(r, nil))
}

// analyze calls the analyzer under the configured timeout and records the
// outcome. The returned error is only used by queue workers.
func (t *Trigger) analyze(r *run) error {
	rec, err := t.Store.Get(r.ctx, r.id)
	if err != nil {
		if t.superseded(r) {
			return nil
		}
		if errors.Is(err, entrepreneurs.ErrNotFound) {
			telemetry.Warn("report.record_gone", t.fields(r, nil))
			return nil
		}
		t.fail(r, err)
		return nil
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(r.ctx, timeout)
	defer cancel()

	callCtx, span := otel.Tracer(tracerName).Start(callCtx, "analyzer.Analyze",
		trace.WithAttributes(attribute.String("emprendedor.id", r.id)))
	started := time.Now()
	report, err := t.Analyzer.Analyze(callCtx, analyzer.Request{EmprendedorID: r.id, Emprendedor: rec})
	elapsed := time.Since(started)
	metrics.ObserveAnalysisDurationMs(float64(elapsed.Milliseconds()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "analysis failed")
	}
	span.End()

	if err != nil {
		if t.superseded(r) {
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, analyzer.ErrTimeout) {
			err = fmt.Errorf("el análisis excedió el tiempo límite de %s", timeout)
		}
		t.fail(r, err)
		return nil
	}

	report.State = entrepreneurs.StateCompleted
	report.ErrorMessage = ""
	if _, ok := t.write(r, report); ok {
		metrics.IncAnalysisCompleted()
		telemetry.Info("analysis.completed", t.fields(r, map[string]any{"duration_ms": elapsed.Milliseconds()}))
	}
	return nil
}

// superseded reports whether a newer run canceled r.
func (t *Trigger) superseded(r *run) bool {
	if r.ctx.Err() == nil {
		return false
	}
	metrics.IncAnalysisSuperseded()
	telemetry.Info("report.run_superseded", t.fields(r, nil))
	return true
}

func (t *Trigger) markProcessing(r *run) (entrepreneurs.Emprendedor, error) {
	rec, ok, err := t.writeChecked(r, entrepreneurs.ProcessingReport())
	if err != nil {
		return entrepreneurs.Emprendedor{}, err
	}
	if !ok {
		return entrepreneurs.Emprendedor{}, errSuperseded
	}
	metrics.IncAnalysisTriggered()
	return rec, nil
}

func (t *Trigger) fail(r *run, cause error) {
	msg := SanitizeError(cause)
	if _, ok := t.write(r, entrepreneurs.Report{State: entrepreneurs.StateError, ErrorMessage: msg}); ok {
		metrics.IncAnalysisFailed()
		telemetry.Warn("analysis.failed", t.fields(r, map[string]any{"error": msg}))
	}
}

// write stores next if r is still the current run for its id, logging
// instead of returning storage errors.
func (t *Trigger) write(r *run, next entrepreneurs.Report) (entrepreneurs.Emprendedor, bool) {
	rec, ok, err := t.writeChecked(r, next)
	if err != nil {
		var conflict *entrepreneurs.StateConflictError
		if errors.As(err, &conflict) {
			telemetry.Warn("report.transition_rejected", t.fields(r, map[string]any{
				"from": string(conflict.From),
				"to":   string(conflict.To),
			}))
		} else {
			telemetry.Error("report.write_failed", t.fields(r, map[string]any{
				"estado": string(next.State),
				"error":  err,
			}))
		}
		return entrepreneurs.Emprendedor{}, false
	}
	return rec, ok
}

// writeChecked returns ok=false without writing when a newer run owns the id.
// Writes use a context that outlives cancellation by a newer run.
func (t *Trigger) writeChecked(r *run, next entrepreneurs.Report) (entrepreneurs.Emprendedor, bool, error) {
	r.entry.write.Lock()
	defer r.entry.write.Unlock()
	if !t.current(r) {
		metrics.IncAnalysisSuperseded()
		telemetry.Info("report.write_discarded", t.fields(r, map[string]any{"estado": string(next.State)}))
		return entrepreneurs.Emprendedor{}, false, nil
	}
	rec, err := t.Store.TransitionReport(context.WithoutCancel(r.ctx), r.id, next)
	if err != nil {
		return entrepreneurs.Emprendedor{}, false, err
	}
	telemetry.Info("report.status", t.fields(r, map[string]any{"estado": string(rec.Report.State)}))
	t.publish(r, rec.Report.State)
	return rec, true, nil
}

func (t *Trigger) publish(r *run, state entrepreneurs.ReportState) {
	if t.Events == nil {
		return
	}
	ev := realtime.Event{EmprendedorID: r.id, State: string(state), At: t.now()}
	if err := t.Events.Publish(context.WithoutCancel(r.ctx), ev); err != nil {
		telemetry.Warn("report.publish_failed", t.fields(r, map[string]any{"error": err}))
	}
}

// begin registers a new run for id, canceling the one it supersedes.
func (t *Trigger) begin(parent context.Context, id string) *run {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.runs == nil {
		t.runs = make(map[string]*runEntry)
	}
	entry, ok := t.runs[id]
	if !ok {
		entry = &runEntry{}
		t.runs[id] = entry
	}
	if entry.cancel != nil {
		entry.cancel()
	}
	entry.gen++
	entry.cancel = cancel
	return &run{id: id, gen: entry.gen, entry: entry, ctx: ctx}
}

// end releases r's registration if no newer run replaced it.
func (t *Trigger) end(r *run) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.runs[r.id]; ok && entry == r.entry && entry.gen == r.gen {
		entry.cancel()
		delete(t.runs, r.id)
	}
}

func (t *Trigger) current(r *run) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.runs[r.id]
	return ok && entry == r.entry && entry.gen == r.gen
}

func (t *Trigger) now() time.Time {
	if t.Now != nil {
		return t.Now().UTC()
	}
	return time.Now().UTC()
}

func (t *Trigger) fields(r *run, extra map[string]any) map[string]any {
	fields := map[string]any{
		"emprendedor_id": r.id,
		"run":            r.gen,
	}
	if id := telemetry.RequestID(r.ctx); id != "" {
		fields["request_id"] = id
	}
	for k, v := range extra {
		fields[k] = v
	}
	return fields
}

// SanitizeError turns err into a single-line message of at most 500
// characters suitable for informe.error.
func SanitizeError(err error) string {
	if err == nil {
		return msgInternalFail
	}
	msg := strings.Join(strings.Fields(err.Error()), " ")
	if msg == "" {
		return msgInternalFail
	}
	if utf8.RuneCountInString(msg) > maxErrorRunes {
		runes := []rune(msg)
		msg = string(runes[:maxErrorRunes-3]) + "..."
	}
	return msg
}
