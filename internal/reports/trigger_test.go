package reports

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"unicornio-backend/internal/analyzer"
	"unicornio-backend/internal/entrepreneurs"
	"unicornio-backend/internal/queue"
	"unicornio-backend/internal/realtime"
	"unicornio-backend/internal/shared/telemetry"
)

type analyzerFunc func(ctx context.Context, req analyzer.Request) (entrepreneurs.Report, error)

func (f analyzerFunc) Analyze(ctx context.Context, req analyzer.Request) (entrepreneurs.Report, error) {
	return f(ctx, req)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) states() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.State)
	}
	return out
}

type fakeQueue struct {
	mu   sync.Mutex
	sent []queue.Message
	err  error
}

func (q *fakeQueue) Send(_ context.Context, msg queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.sent = append(q.sent, msg)
	return nil
}

func newService() *entrepreneurs.Service {
	svc := entrepreneurs.NewService(entrepreneurs.NewMemoryRepo())
	svc.BcryptCost = bcrypt.MinCost
	return svc
}

func createRecord(t *testing.T, svc *entrepreneurs.Service) entrepreneurs.Emprendedor {
	t.Helper()
	rec, err := svc.Create(context.Background(), entrepreneurs.CreateInput{
		Emprendedor: entrepreneurs.Emprendedor{
			FirstName: "Ana",
			Email:     "a@x.com",
			Username:  "a1",
			Project:   entrepreneurs.Project{Name: "P", Sector: "AgTech"},
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return rec
}

func waitRuns(t *testing.T, trig *Trigger) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := trig.Wait(ctx); err != nil {
		t.Fatalf("runs did not finish: %v", err)
	}
}

func completedReport(viability float64) entrepreneurs.Report {
	return entrepreneurs.Report{
		State:     entrepreneurs.StateCompleted,
		Viability: &viability,
		Strengths: []string{"equipo"},
	}
}

func TestLaunchCompletesReport(t *testing.T) {
	svc := newService()
	rec := createRecord(t, svc)
	events := &recordingPublisher{}

	var seen analyzer.Request
	trig := NewTrigger(svc, analyzerFunc(func(ctx context.Context, req analyzer.Request) (entrepreneurs.Report, error) {
		seen = req
		return completedReport(72), nil
	}), time.Second)
	trig.Events = events

	trig.Launch(context.Background(), rec.ID)
	waitRuns(t, trig)

	got, _ := svc.Get(context.Background(), rec.ID)
	if got.Report.State != entrepreneurs.StateCompleted {
		t.Fatalf("expected completed, got %q", got.Report.State)
	}
	if got.Report.Viability == nil || *got.Report.Viability != 72 || got.Report.AnalyzedAt == nil {
		t.Fatalf("report not persisted: %+v", got.Report)
	}
	if seen.EmprendedorID != rec.ID || seen.Emprendedor.Project.Name != "P" {
		t.Fatalf("analyzer got %+v", seen)
	}
	if states := events.states(); strings.Join(states, ",") != "procesando,completado" {
		t.Fatalf("unexpected event sequence %v", states)
	}
}

func TestLaunchRecordsAnalyzerFailure(t *testing.T) {
	svc := newService()
	rec := createRecord(t, svc)
	trig := NewTrigger(svc, analyzerFunc(func(context.Context, analyzer.Request) (entrepreneurs.Report, error) {
		return entrepreneurs.Report{}, &analyzer.StatusError{StatusCode: 502, Detail: "bad\ngateway"}
	}), time.Second)

	trig.Launch(context.Background(), rec.ID)
	waitRuns(t, trig)

	got, _ := svc.Get(context.Background(), rec.ID)
	if got.Report.State != entrepreneurs.StateError {
		t.Fatalf("expected error, got %q", got.Report.State)
	}
	if got.Report.ErrorMessage != "el servicio de análisis respondió 502: bad gateway" {
		t.Fatalf("unexpected message %q", got.Report.ErrorMessage)
	}
}

func TestLaunchTimesOut(t *testing.T) {
	svc := newService()
	rec := createRecord(t, svc)
	trig := NewTrigger(svc, analyzerFunc(func(ctx context.Context, _ analyzer.Request) (entrepreneurs.Report, error) {
		<-ctx.Done()
		return entrepreneurs.Report{}, ctx.Err()
	}), 30*time.Millisecond)

	trig.Launch(context.Background(), rec.ID)
	waitRuns(t, trig)

	got, _ := svc.Get(context.Background(), rec.ID)
	if got.Report.State != entrepreneurs.StateError {
		t.Fatalf("expected error, got %q", got.Report.State)
	}
	if !strings.Contains(got.Report.ErrorMessage, "tiempo límite") {
		t.Fatalf("expected timeout message, got %q", got.Report.ErrorMessage)
	}
}

func TestLaunchSurvivesRequestCancellation(t *testing.T) {
	svc := newService()
	rec := createRecord(t, svc)
	started := make(chan struct{})
	release := make(chan struct{})
	trig := NewTrigger(svc, analyzerFunc(func(ctx context.Context, _ analyzer.Request) (entrepreneurs.Report, error) {
		close(started)
		<-release
		return completedReport(60), ctx.Err()
	}), time.Second)

	reqCtx, cancel := context.WithCancel(context.Background())
	trig.Launch(reqCtx, rec.ID)
	<-started
	cancel()
	close(release)
	waitRuns(t, trig)

	got, _ := svc.Get(context.Background(), rec.ID)
	if got.Report.State != entrepreneurs.StateCompleted {
		t.Fatalf("request cancellation leaked into the run: %q %q", got.Report.State, got.Report.ErrorMessage)
	}
}

func TestLaunchRecoversPanic(t *testing.T) {
	svc := newService()
	rec := createRecord(t, svc)
	trig := NewTrigger(svc, analyzerFunc(func(context.Context, analyzer.Request) (entrepreneurs.Report, error) {
		panic("boom")
	}), time.Second)

	trig.Launch(context.Background(), rec.ID)
	waitRuns(t, trig)

	got, _ := svc.Get(context.Background(), rec.ID)
	if got.Report.State != entrepreneurs.StateError || got.Report.ErrorMessage != msgInternalFail {
		t.Fatalf("unexpected report after panic %+v", got.Report)
	}
}

func TestRegenerateResetsAndReruns(t *testing.T) {
	svc := newService()
	rec := createRecord(t, svc)
	calls := 0
	var mu sync.Mutex
	trig := NewTrigger(svc, analyzerFunc(func(context.Context, analyzer.Request) (entrepreneurs.Report, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return entrepreneurs.Report{}, errors.New("fallo")
		}
		return completedReport(80), nil
	}), time.Second)

	trig.Launch(context.Background(), rec.ID)
	waitRuns(t, trig)

	out, err := trig.Regenerate(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if out.Report.State != entrepreneurs.StateProcessing || out.Report.ErrorMessage != "" {
		t.Fatalf("expected clean processing report, got %+v", out.Report)
	}
	waitRuns(t, trig)

	got, _ := svc.Get(context.Background(), rec.ID)
	if got.Report.State != entrepreneurs.StateCompleted || *got.Report.Viability != 80 {
		t.Fatalf("unexpected report %+v", got.Report)
	}
}

func TestRegenerateMissingRecord(t *testing.T) {
	trig := NewTrigger(newService(), analyzer.PlaceholderClient{}, time.Second)
	if _, err := trig.Regenerate(context.Background(), "nope"); !errors.Is(err, entrepreneurs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegenerateSupersedesRunInFlight(t *testing.T) {
	var logs bytes.Buffer
	telemetry.SetOutput(&logs)
	defer telemetry.SetOutput(os.Stdout)

	svc := newService()
	rec := createRecord(t, svc)
	events := &recordingPublisher{}

	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	var mu sync.Mutex
	calls := 0
	trig := NewTrigger(svc, analyzerFunc(func(ctx context.Context, _ analyzer.Request) (entrepreneurs.Report, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			close(firstStarted)
			// Ignores cancellation and answers late.
			<-releaseFirst
			return completedReport(10), nil
		}
		return completedReport(90), nil
	}), time.Second)
	trig.Events = events

	trig.Launch(context.Background(), rec.ID)
	<-firstStarted

	if _, err := trig.Regenerate(context.Background(), rec.ID); err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for {
		got, _ := svc.Get(context.Background(), rec.ID)
		if got.Report.State == entrepreneurs.StateCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("second run never completed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	close(releaseFirst)
	waitRuns(t, trig)

	got, _ := svc.Get(context.Background(), rec.ID)
	if *got.Report.Viability != 90 {
		t.Fatalf("late result from superseded run overwrote the report: %v", *got.Report.Viability)
	}
	completed := 0
	for _, s := range events.states() {
		if s == string(entrepreneurs.StateCompleted) {
			completed++
		}
	}
	if completed != 1 {
		t.Fatalf("expected exactly one terminal write, events %v", events.states())
	}
	if n := countLogLines(t, &logs, "analysis.completed", rec.ID); n != 1 {
		t.Fatalf("expected one analysis.completed log line, got %d", n)
	}
}

func countLogLines(t *testing.T, buf *bytes.Buffer, msg, id string) int {
	t.Helper()
	n := 0
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry["msg"] == msg && entry["emprendedor_id"] == id {
			n++
		}
	}
	return n
}

func TestLaunchEnqueuesWhenQueueConfigured(t *testing.T) {
	svc := newService()
	rec := createRecord(t, svc)
	q := &fakeQueue{}
	trig := NewTrigger(svc, analyzerFunc(func(context.Context, analyzer.Request) (entrepreneurs.Report, error) {
		t.Errorf("analyzer must not run in the API process when a queue is configured")
		return entrepreneurs.Report{}, nil
	}), time.Second)
	trig.Queue = q

	trig.Launch(context.Background(), rec.ID)
	waitRuns(t, trig)

	if len(q.sent) != 1 || q.sent[0].EmprendedorID != rec.ID || q.sent[0].Version != queue.CurrentVersion {
		t.Fatalf("unexpected queue messages %+v", q.sent)
	}
	got, _ := svc.Get(context.Background(), rec.ID)
	if got.Report.State != entrepreneurs.StateProcessing {
		t.Fatalf("expected processing while queued, got %q", got.Report.State)
	}
}

func TestLaunchEnqueueFailureBecomesError(t *testing.T) {
	svc := newService()
	rec := createRecord(t, svc)
	trig := NewTrigger(svc, analyzer.PlaceholderClient{}, time.Second)
	trig.Queue = &fakeQueue{err: errors.New("throttled")}

	trig.Launch(context.Background(), rec.ID)
	waitRuns(t, trig)

	got, _ := svc.Get(context.Background(), rec.ID)
	if got.Report.State != entrepreneurs.StateError || !strings.HasPrefix(got.Report.ErrorMessage, msgDispatchFail) {
		t.Fatalf("unexpected report %+v", got.Report)
	}
}

func TestRunJobProcessesSynchronously(t *testing.T) {
	svc := newService()
	rec := createRecord(t, svc)
	trig := NewTrigger(svc, analyzerFunc(func(context.Context, analyzer.Request) (entrepreneurs.Report, error) {
		return completedReport(55), nil
	}), time.Second)

	if err := trig.RunJob(context.Background(), queue.Message{EmprendedorID: rec.ID, RequestID: "r1"}); err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	got, _ := svc.Get(context.Background(), rec.ID)
	if got.Report.State != entrepreneurs.StateCompleted {
		t.Fatalf("expected completed, got %q", got.Report.State)
	}

	if err := trig.RunJob(context.Background(), queue.Message{EmprendedorID: "gone"}); err != nil {
		t.Fatalf("missing record should be skipped, got %v", err)
	}
	if err := trig.RunJob(context.Background(), queue.Message{}); err == nil {
		t.Fatalf("expected error for empty id")
	}
}

func TestWaitHonorsContext(t *testing.T) {
	svc := newService()
	rec := createRecord(t, svc)
	release := make(chan struct{})
	trig := NewTrigger(svc, analyzerFunc(func(context.Context, analyzer.Request) (entrepreneurs.Report, error) {
		<-release
		return completedReport(1), nil
	}), time.Second)
	trig.Launch(context.Background(), rec.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := trig.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	close(release)
	waitRuns(t, trig)
}

func TestLaunchNormalizesViabilityFromAnalyzer(t *testing.T) {
	cases := []struct {
		name      string
		body      string
		wantState entrepreneurs.ReportState
		wantScore float64
	}{
		{"missing defaults to 50", `{"success":true,"informe":{"estado":"completado","fortalezas":["a"]}}`, entrepreneurs.StateCompleted, analyzer.DefaultViability},
		{"out of range fails", `{"success":true,"informe":{"estado":"completado","viabilidad":250}}`, entrepreneurs.StateError, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()
			client, err := analyzer.NewHTTPClient(analyzer.HTTPOptions{BaseURL: srv.URL, Timeout: time.Second})
			if err != nil {
				t.Fatalf("NewHTTPClient: %v", err)
			}

			svc := newService()
			rec := createRecord(t, svc)
			trig := NewTrigger(svc, client, time.Second)
			trig.Launch(context.Background(), rec.ID)
			waitRuns(t, trig)

			got, _ := svc.Get(context.Background(), rec.ID)
			if got.Report.State != tc.wantState {
				t.Fatalf("expected %q, got %q (%s)", tc.wantState, got.Report.State, got.Report.ErrorMessage)
			}
			switch tc.wantState {
			case entrepreneurs.StateCompleted:
				if got.Report.Viability == nil || *got.Report.Viability != tc.wantScore {
					t.Fatalf("expected viabilidad %v, got %+v", tc.wantScore, got.Report.Viability)
				}
			case entrepreneurs.StateError:
				if got.Report.Viability != nil || !strings.Contains(got.Report.ErrorMessage, "viabilidad") {
					t.Fatalf("unexpected error report %+v", got.Report)
				}
			}
		})
	}
}

func TestSupersededRunStopsBeforeAnalyzing(t *testing.T) {
	svc := newService()
	rec := createRecord(t, svc)
	events := &recordingPublisher{}
	trig := NewTrigger(svc, analyzerFunc(func(context.Context, analyzer.Request) (entrepreneurs.Report, error) {
		t.Errorf("superseded run must not reach the analyzer")
		return entrepreneurs.Report{}, nil
	}), time.Second)
	trig.Events = events

	older := trig.begin(context.Background(), rec.ID)
	newer := trig.begin(context.Background(), rec.ID)
	defer trig.end(newer)

	if _, err := trig.markProcessing(older); !errors.Is(err, errSuperseded) {
		t.Fatalf("expected errSuperseded, got %v", err)
	}
	trig.spawn(older, true)
	waitRuns(t, trig)

	if states := events.states(); len(states) != 0 {
		t.Fatalf("superseded run published %v", states)
	}
}

func TestSanitizeError(t *testing.T) {
	if got := SanitizeError(errors.New("line one\n\tline two  ")); got != "line one line two" {
		t.Fatalf("unexpected %q", got)
	}
	long := SanitizeError(errors.New(strings.Repeat("á", 800)))
	if n := len([]rune(long)); n != maxErrorRunes {
		t.Fatalf("expected %d runes, got %d", maxErrorRunes, n)
	}
	if SanitizeError(nil) != msgInternalFail || SanitizeError(errors.New(" ")) != msgInternalFail {
		t.Fatalf("expected fallback message")
	}
}
