package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"unicornio-backend/internal/analyzer"
	"unicornio-backend/internal/entrepreneurs"
	"unicornio-backend/internal/queue"
	"unicornio-backend/internal/realtime"
	"unicornio-backend/internal/reports"
	"unicornio-backend/internal/shared/config"
	"unicornio-backend/internal/shared/server"
	"unicornio-backend/internal/shared/server/middleware"
	"unicornio-backend/internal/shared/storage/db"
	"unicornio-backend/internal/shared/telemetry"
	"unicornio-backend/internal/shared/tracing"
)

// Role selects which parts of the graph a process needs.
type Role string

const (
	RoleAPI    Role = "api"
	RoleWorker Role = "worker"
)

// App holds shared dependencies. Close releases them in reverse order.
type App struct {
	Config config.Config
	Role   Role

	DB       *sql.DB
	Repo     entrepreneurs.Repo
	Service  *entrepreneurs.Service
	Analyzer analyzer.Client
	Trigger  *reports.Trigger
	Queue    queue.Client
	Hub      *realtime.Hub
	Bus      *realtime.RedisBus

	EntrepreneurHandler *entrepreneurs.Handler
	ReportHandler       *reports.Handler
	Buckets             *middleware.Buckets
	Router              *gin.Engine

	shutdownTracing func(context.Context) error
}

// Build prepares dependencies for role. The API role also wires the router;
// the worker role runs jobs synchronously and never enqueues.
func Build(ctx context.Context, cfg config.Config, role Role) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	app := &App{Config: cfg, Role: role}

	shutdown, err := tracing.Init(ctx, tracing.Options{
		Enabled:     cfg.OTelEnabled,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Env,
		Endpoint:    cfg.OTelEndpoint,
		SampleRatio: cfg.OTelSamplerRatio,
	})
	if err != nil {
		telemetry.Warn("bootstrap.tracing_failed", map[string]any{"error": err})
	}
	app.shutdownTracing = shutdown

	if app.DB, err = buildDB(ctx, cfg, role); err != nil {
		app.Close(ctx)
		return nil, err
	}
	if app.DB != nil {
		app.Repo = &entrepreneurs.PGRepo{DB: app.DB}
	} else {
		app.Repo = entrepreneurs.NewMemoryRepo()
	}
	app.Service = entrepreneurs.NewService(app.Repo)

	if app.Analyzer, err = buildAnalyzer(cfg, app.Service); err != nil {
		app.Close(ctx)
		return nil, err
	}

	app.Hub = realtime.NewHub()
	if app.Bus, err = buildBus(ctx, cfg); err != nil {
		app.Close(ctx)
		return nil, err
	}

	app.Trigger = reports.NewTrigger(app.Service, app.Analyzer, cfg.AnalyzerTimeout)
	if app.Bus != nil {
		app.Trigger.Events = app.Bus
	} else {
		app.Trigger.Events = app.Hub
	}

	if role == RoleWorker {
		return app, nil
	}

	if app.Queue, err = buildQueue(ctx, cfg); err != nil {
		app.Close(ctx)
		return nil, err
	}
	if app.Queue != nil {
		app.Trigger.Queue = app.Queue
	}

	app.EntrepreneurHandler = entrepreneurs.NewHandler(app.Service, app.Trigger)
	app.ReportHandler = reports.NewHandler(app.Service, app.Trigger, app.Hub)
	app.Buckets = middleware.NewBuckets(nil)
	app.Router = server.NewRouter(server.RouterDeps{
		Config:              cfg,
		EntrepreneurHandler: app.EntrepreneurHandler,
		ReportHandler:       app.ReportHandler,
		Buckets:             app.Buckets,
	})

	telemetry.Info("bootstrap.ready", map[string]any{
		"env":      cfg.Env,
		"role":     string(role),
		"storage":  storageKind(app.DB),
		"analyzer": cfg.AnalyzerMode,
		"dispatch": cfg.AnalysisDispatch,
		"redis":    app.Bus != nil,
	})
	return app, nil
}

// StartForwarder feeds events published by any instance into the local hub.
// Without Redis the hub already receives events directly.
func (a *App) StartForwarder(ctx context.Context) error {
	if a.Bus == nil {
		return nil
	}
	return a.Bus.Forward(ctx, a.Hub.Broadcast)
}

// Close waits for detached runs (bounded by ctx) and releases resources.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Trigger != nil {
		if err := a.Trigger.Wait(ctx); err != nil {
			telemetry.Warn("bootstrap.runs_abandoned", map[string]any{"error": err})
			errs = append(errs, err)
		}
	}
	if a.Bus != nil {
		if err := a.Bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}
	return errors.Join(errs...)
}

func buildDB(ctx context.Context, cfg config.Config, role Role) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if config.IsDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.memory_storage", map[string]any{"reason": "DATABASE_URL empty"})
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	defaults := db.DefaultServerOptions()
	if role == RoleWorker {
		defaults = db.DefaultWorkerOptions(cfg.WorkerConcurrency)
	}
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(defaults))
	if err != nil {
		if config.IsDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.memory_storage", map[string]any{"reason": "connect failed", "error": err})
			return nil, nil
		}
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	return sqlDB, nil
}

func buildAnalyzer(cfg config.Config, peers analyzer.PeerLister) (analyzer.Client, error) {
	switch cfg.AnalyzerMode {
	case config.AnalyzerModeLocal:
		return analyzer.HeuristicClient{Peers: peers}, nil
	case config.AnalyzerModeDisabled:
		return analyzer.PlaceholderClient{}, nil
	default:
		return analyzer.NewHTTPClient(analyzer.HTTPOptions{
			BaseURL:      cfg.AnalyzerURL,
			Timeout:      cfg.AnalyzerTimeout,
			TokenURL:     cfg.AnalyzerTokenURL,
			ClientID:     cfg.AnalyzerClientID,
			ClientSecret: cfg.AnalyzerClientSecret,
		})
	}
}

func buildQueue(ctx context.Context, cfg config.Config) (queue.Client, error) {
	if cfg.AnalysisDispatch != config.DispatchSQS {
		return nil, nil
	}
	return queue.NewSQSClient(ctx, queue.SQSOptions{QueueURL: cfg.SQSQueueURL, Region: cfg.AWSRegion})
}

func buildBus(ctx context.Context, cfg config.Config) (*realtime.RedisBus, error) {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil, nil
	}
	bus, err := realtime.NewRedisBus(ctx, realtime.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Channel:  cfg.RedisChannel,
	})
	if err != nil {
		if config.IsDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.redis_unavailable", map[string]any{"error": err})
			return nil, nil
		}
		return nil, err
	}
	return bus, nil
}

func storageKind(sqlDB *sql.DB) string {
	if sqlDB == nil {
		return "memory"
	}
	return "postgres"
}
