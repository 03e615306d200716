package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/arbiter/internal/api"
	"github.com/opensource-finance/arbiter/internal/bus"
	"github.com/opensource-finance/arbiter/internal/cache"
	"github.com/opensource-finance/arbiter/internal/decision"
	"github.com/opensource-finance/arbiter/internal/domain"
	"github.com/opensource-finance/arbiter/internal/mcp"
	"github.com/opensource-finance/arbiter/internal/metrics"
	"github.com/opensource-finance/arbiter/internal/repository"
	"github.com/opensource-finance/arbiter/internal/rules"
	"github.com/opensource-finance/arbiter/internal/ruleset"
	"github.com/opensource-finance/arbiter/internal/tracing"
	"github.com/opensource-finance/arbiter/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Arbiter server",
	Long: `Start the HTTP API, the MCP endpoint and the async evaluation worker.

Backing services follow the configured tier: community runs on SQLite,
Go channels and an in-process cache; pro runs on PostgreSQL, NATS and
Redis. Every setting can be overridden with ARBITER_* variables.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	slog.Info("starting arbiter",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Setup(ctx, cfg.Tracing, Version)
	if err != nil {
		return err
	}
	defer tp.Shutdown(context.Background())

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	if cacheImpl != nil {
		defer cacheImpl.Close()
	}
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Rule Engine
	engineOpts := []rules.Option{rules.WithMaxWorkers(cfg.Rules.MaxConcurrency)}
	if cacheImpl != nil {
		engineOpts = append(engineOpts, rules.WithCache(cacheImpl, cfg.Cache.ResultTTL))
	}
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics, nil)
		engineOpts = append(engineOpts, rules.WithRecorder(collector))
	}
	engine := rules.NewEngine(engineOpts...)
	defer engine.Close()

	importer := ruleset.NewImporter(repo)
	if cfg.Rules.SeedFile != "" {
		n, err := importer.ImportFile(ctx, cfg.Rules.SeedFile)
		if err != nil {
			return fmt.Errorf("failed to import seed file: %w", err)
		}
		slog.Info("seed rules imported", "file", cfg.Rules.SeedFile, "count", n)
	}

	reload := func(ctx context.Context) (int, error) {
		return ruleset.Reload(ctx, repo, engine)
	}
	if _, err := reload(ctx); err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	processor := decision.NewProcessor(engine)

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, repo, engine, processor)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		} else {
			slog.Info("async worker started")
		}
	}

	// Other replicas announce rule writes on the bus.
	if cfg.EventBus.Type == "nats" {
		if _, err := busImpl.Subscribe(ctx, domain.TopicRulesChanged, func(ctx context.Context, msg *domain.Message) error {
			_, err := reload(ctx)
			return err
		}); err != nil {
			slog.Warn("failed to subscribe to rule changes", "error", err)
		}
	}

	if cfg.Rules.WatchSeedFile {
		watcher, err := ruleset.NewWatcher(cfg.Rules.SeedFile, cfg.Rules.WatchDebounce)
		if err != nil {
			return err
		}
		defer watcher.Stop()

		go func() {
			err := watcher.Watch(ctx, func() error {
				n, err := importer.ImportFile(ctx, cfg.Rules.SeedFile)
				if err != nil {
					return err
				}
				if _, err := reload(ctx); err != nil {
					return err
				}
				announceRulesChanged(ctx, busImpl, "imported", n)
				return nil
			})
			if err != nil {
				slog.Error("seed file watcher stopped", "error", err)
			}
		}()
		slog.Info("watching seed file", "file", cfg.Rules.SeedFile)
	}

	scheduler := ruleset.NewScheduler(cfg.Rules.ReloadSchedule, reload)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	// Initialize Server
	handler := api.NewHandler(repo, cacheImpl, busImpl, engine, processor, Version)
	var opts []api.Option
	if collector != nil {
		opts = append(opts, api.WithMetrics(collector, cfg.Metrics.Path))
	}
	if cfg.Server.EnableMCP {
		opts = append(opts, api.WithMCP(mcp.NewServer(engine)))
	}
	srv := api.NewServer(cfg.Server, handler, opts...)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("arbiter is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cmd, cfg, Version)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("arbiter shutdown complete")
	return nil
}

func announceRulesChanged(ctx context.Context, b domain.EventBus, action string, count int) {
	data, err := json.Marshal(domain.RulesChanged{Action: action, Count: count})
	if err != nil {
		return
	}
	if err := b.Publish(ctx, domain.TopicRulesChanged, data); err != nil {
		slog.Warn("failed to publish rule change", "error", err)
	}
}

func printBanner(cmd *cobra.Command, cfg *domain.Config, version string) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  ARBITER - business rule evaluation")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Version:  %s\n", version)
	fmt.Fprintf(out, "  Tier:     %s\n", cfg.Tier)
	fmt.Fprintf(out, "  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Endpoints:")
	fmt.Fprintln(out, "    POST /evaluate              - Evaluate a rule against facts")
	fmt.Fprintln(out, "    POST /decide                - Find the first matching rule")
	fmt.Fprintln(out, "    GET  /rules                 - List rules")
	fmt.Fprintln(out, "    POST /rules                 - Create a rule")
	fmt.Fprintln(out, "    GET  /rules/{id}/requirements - Fields a rule needs")
	fmt.Fprintln(out, "    POST /rules/import          - Import a rule file")
	fmt.Fprintln(out, "    GET  /rules/export          - Export all rules")
	fmt.Fprintln(out, "    POST /rules/reload          - Reload rules from the repository")
	fmt.Fprintln(out, "    GET  /categories            - List rule categories")
	if cfg.Server.EnableMCP {
		fmt.Fprintln(out, "    POST /mcp                   - Model Context Protocol")
	}
	fmt.Fprintln(out, "    GET  /health                - Health check")
	fmt.Fprintln(out)
}
