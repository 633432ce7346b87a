package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"unicornio-backend/internal/analyzer"
	"unicornio-backend/internal/entrepreneurs"
	"unicornio-backend/internal/realtime"
	"unicornio-backend/internal/shared/config"
)

func devConfig() config.Config {
	return config.Config{
		Env:              "dev",
		AnalyzerMode:     config.AnalyzerModeLocal,
		AnalyzerTimeout:  time.Second,
		AnalysisDispatch: config.DispatchInline,
	}
}

func TestBuildDevUsesMemoryAndLocalAnalyzer(t *testing.T) {
	ctx := context.Background()
	app, err := Build(ctx, devConfig(), RoleAPI)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer app.Close(ctx)

	if _, ok := app.Repo.(*entrepreneurs.MemoryRepo); !ok {
		t.Fatalf("expected memory repo, got %T", app.Repo)
	}
	if _, ok := app.Analyzer.(analyzer.HeuristicClient); !ok {
		t.Fatalf("expected heuristic analyzer, got %T", app.Analyzer)
	}
	if _, ok := app.Trigger.Events.(*realtime.Hub); !ok {
		t.Fatalf("expected hub publisher without redis, got %T", app.Trigger.Events)
	}
	if app.Queue != nil {
		t.Fatalf("inline dispatch should not build a queue")
	}

	resp := httptest.NewRecorder()
	app.Router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestBuildWorkerSkipsRouter(t *testing.T) {
	ctx := context.Background()
	cfg := devConfig()
	cfg.AnalysisDispatch = config.DispatchSQS
	app, err := Build(ctx, cfg, RoleWorker)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer app.Close(ctx)
	if app.Router != nil || app.Trigger.Queue != nil {
		t.Fatalf("worker must not route or enqueue")
	}
}

func TestBuildProductionRequiresDatabase(t *testing.T) {
	cfg := devConfig()
	cfg.Env = "production"
	if _, err := Build(context.Background(), cfg, RoleAPI); err == nil {
		t.Fatalf("expected error without DATABASE_URL")
	}
}

func TestBuildSQSDispatchRequiresQueueURL(t *testing.T) {
	cfg := devConfig()
	cfg.AnalysisDispatch = config.DispatchSQS
	if _, err := Build(context.Background(), cfg, RoleAPI); err == nil {
		t.Fatalf("expected error without SQS_QUEUE_URL")
	}
}

func TestBuildAnalyzerModes(t *testing.T) {
	cfg := devConfig()
	cfg.AnalyzerMode = config.AnalyzerModeDisabled
	client, err := buildAnalyzer(cfg, nil)
	if err != nil {
		t.Fatalf("buildAnalyzer: %v", err)
	}
	if _, ok := client.(analyzer.PlaceholderClient); !ok {
		t.Fatalf("expected placeholder, got %T", client)
	}

	cfg.AnalyzerMode = config.AnalyzerModeHTTP
	cfg.AnalyzerURL = "http://analyzer.local"
	client, err = buildAnalyzer(cfg, nil)
	if err != nil {
		t.Fatalf("buildAnalyzer: %v", err)
	}
	if _, ok := client.(*analyzer.HTTPClient); !ok {
		t.Fatalf("expected http client, got %T", client)
	}
}
