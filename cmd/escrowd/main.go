package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"escrowd/config"
	"escrowd/core"
	"escrowd/core/events"
	"escrowd/native/escrow"
	"escrowd/observability"
	"escrowd/observability/logging"
	telemetry "escrowd/observability/otel"
	"escrowd/rpc"
	"escrowd/rpc/middleware"
	"escrowd/services/indexer"
	"escrowd/storage"
	"escrowd/storage/eventlog"
)

func main() {
	configFile := flag.String("config", "", "Path to a YAML or TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("escrowd failed: %v", err)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logger := logging.SetupWithOptions(cfg.Observability.ServiceName, cfg.Environment, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.ResolvePath(cfg.Logging.File),
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	if cfg.Observability.Tracing {
		shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName: cfg.Observability.ServiceName,
			Environment: cfg.Environment,
			Module:      escrow.ModuleName,
			Endpoint:    cfg.Observability.OTLPEndpoint,
			Insecure:    cfg.Observability.OTLPInsecure,
			Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
			Metrics:     cfg.Observability.Metrics,
			Traces:      true,
			SampleRatio: cfg.Observability.SampleRatio,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			_ = shutdownTelemetry(context.Background())
		}()
	}

	db, err := storage.Open(cfg.Storage.Backend, cfg.ResolvePath(cfg.Storage.Path))
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}

	out, err := openSinks(cfg, logger)
	if err != nil {
		_ = db.Close()
		return err
	}
	defer func() { _ = out.Close() }()

	node, err := newNode(db, cfg, out.emitters, logger)
	if err != nil {
		_ = db.Close()
		return err
	}
	defer func() { _ = node.Close() }()

	server := rpc.NewServer(node, rpc.Config{
		Auth: middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew,
		},
		RateLimit: middleware.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		Observability: middleware.ObservabilityConfig{
			ServiceName: cfg.Observability.ServiceName,
			LogRequests: cfg.Observability.LogRequests,
			Enabled:     cfg.Observability.Metrics,
		},
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}, logger, out.options...)

	logger.Info("escrowd starting",
		slog.String("listen", cfg.ListenAddress),
		slog.String("storage", cfg.Storage.Backend),
		slog.String("vault", escrow.FormatAddress(node.VaultAddress())),
		slog.Bool("auth", cfg.Auth.Enabled))
	if err := server.Serve(ctx, cfg.ListenAddress); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("escrowd stopped")
	return nil
}

// sinks are the observers of committed events: the metrics counter always,
// plus the journal and the indexer when configured.
type sinks struct {
	emitters  events.Fanout
	options   []rpc.Option
	closers   []io.Closer
	journal   *eventlog.Journal
	projector *indexer.Projector
}

func (s *sinks) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func openSinks(cfg config.Config, logger *slog.Logger) (*sinks, error) {
	out := &sinks{emitters: events.Fanout{observability.EventCounter{}}}
	if path := cfg.ResolvePath(cfg.Journal.Path); path != "" {
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create journal dir: %w", err)
			}
		}
		journal, err := eventlog.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open event journal: %w", err)
		}
		if logger != nil {
			journal.SetLogger(logger)
		}
		out.journal = journal
		out.closers = append(out.closers, journal)
		out.emitters = append(out.emitters, journal)
		out.options = append(out.options, rpc.WithJournal(journal))
	}
	if dsn := strings.TrimSpace(cfg.Indexer.DSN); dsn != "" {
		if !strings.Contains(dsn, "://") {
			dsn = cfg.ResolvePath(dsn)
		}
		indexDB, err := indexer.OpenDatabase(dsn)
		if err != nil {
			_ = out.Close()
			return nil, fmt.Errorf("open indexer: %w", err)
		}
		sqlDB, err := indexDB.DB()
		if err != nil {
			_ = out.Close()
			return nil, fmt.Errorf("indexer handle: %w", err)
		}
		out.closers = append(out.closers, sqlDB)
		out.projector = indexer.NewProjector(indexDB, logger)
		out.emitters = append(out.emitters, out.projector)
		out.options = append(out.options, rpc.WithIndexer(out.projector))
	}
	return out, nil
}

func newNode(db storage.Database, cfg config.Config, emitter events.Emitter, logger *slog.Logger) (*core.Node, error) {
	owner, err := cfg.OwnerAddress()
	if err != nil && strings.TrimSpace(cfg.Owner) != "" {
		return nil, err
	}
	selector, err := escrow.ParseSelector(cfg.Selector)
	if err != nil {
		return nil, err
	}
	params := cfg.EscrowParams()
	node, err := core.NewNode(db, core.Config{
		Owner:    owner,
		Params:   &params,
		Selector: selector,
		Pauses:   cfg.PauseView(),
		Quota:    cfg.EngineQuota(),
		Emitter:  emitter,
		Logger:   logger,
		Metrics:  observability.Escrow(),
	})
	if err != nil {
		return nil, fmt.Errorf("start node: %w", err)
	}
	allocations, err := cfg.GenesisAllocations()
	if err != nil {
		return nil, err
	}
	if err := node.ApplyGenesis(allocations); err != nil {
		return nil, fmt.Errorf("apply genesis: %w", err)
	}
	return node, nil
}
