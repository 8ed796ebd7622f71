// Command investdesk runs the built-in investment desks, a desk loaded from a
// YAML file, or an HTTP server routing sessions through one orchestrator.
//
// Usage:
//
//	investdesk -scenario concurrent
//	investdesk -scenario all -provider stub
//	investdesk -file desk.yaml
//	investdesk -serve
//
// Settings come from the environment (see package config); -provider
// overrides LLM_PROVIDER. With the stub provider every desk runs offline.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	apihttp "github.com/scttfrdmn/investdesk/adapter/http"
	"github.com/scttfrdmn/investdesk/adapter/llm"
	"github.com/scttfrdmn/investdesk/agents"
	"github.com/scttfrdmn/investdesk/config"
	"github.com/scttfrdmn/investdesk/desk"
	"github.com/scttfrdmn/investdesk/memory"
	"github.com/scttfrdmn/investdesk/middleware"
	"github.com/scttfrdmn/investdesk/observability"
	"github.com/scttfrdmn/investdesk/patterns"
	"github.com/scttfrdmn/investdesk/scenarios"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "investdesk:", err)
		os.Exit(1)
	}
}

func run() error {
	scenario := flag.String("scenario", "all", "desk to run: "+strings.Join(scenarios.Names(), "|")+"|all")
	file := flag.String("file", "", "run the desk described by this YAML file")
	provider := flag.String("provider", "", "completion provider: azure|openai|bedrock|gemini|stub")
	serve := flag.Bool("serve", false, "serve the HTTP API instead of running desks")
	envFile := flag.String("env", "", "load settings from this .env file (default .env)")
	flag.Parse()

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return err
	}
	if *provider != "" {
		cfg.LLM.Provider = strings.ToLower(*provider)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	level, err := observability.ParseLevel(cfg.Observability.LogLevel)
	if err != nil {
		return err
	}
	logger := observability.ConfigureLogging(os.Stderr, level, cfg.Observability.LogFormat, true)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName:   cfg.Observability.ServiceName,
		OTLPEndpoint:  cfg.Observability.OTLPEndpoint,
		ConsoleExport: cfg.Observability.TraceConsole,
	})
	if err != nil {
		return err
	}
	defer shutdown(logger, "tracer provider", tp.Shutdown)

	mp, err := observability.InitMetrics(ctx, cfg.Observability.ServiceName)
	if err != nil {
		return err
	}
	defer shutdown(logger, "meter provider", mp.Shutdown)

	telemetry, err := observability.NewSessionTelemetry()
	if err != nil {
		return err
	}

	service, err := newService(ctx, cfg)
	if err != nil {
		return err
	}
	if closer, ok := service.(io.Closer); ok {
		defer closer.Close()
	}

	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}

	orchCfg := patterns.Config{
		Retries:        cfg.Desk.Retries,
		RetryBackoff:   cfg.Desk.RetryBackoff,
		SessionTimeout: cfg.Desk.SessionTimeout,
		AgentTimeout:   cfg.Desk.AgentTimeout,
		Middleware:     agentMiddleware(cfg, logger),
		Observer:       telemetry,
		Store:          store,
		Logger:         logger,
	}

	var custom *scenarios.Desk
	if *file != "" {
		if custom, err = scenarios.LoadFile(*file); err != nil {
			return err
		}
	}

	if *serve {
		specs := scenarios.Roster()
		if custom != nil {
			specs = custom.Agents
		}
		return serveAPI(ctx, cfg, service, specs, orchCfg, logger)
	}

	desks, err := selectDesks(*scenario, custom)
	if err != nil {
		return err
	}
	for _, d := range desks {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Printf("\n=== %s: %s\n", d.Name, d.Description)
		s, err := d.Run(ctx, service, orchCfg, patterns.WithHistoryObserver(func(m desk.Message) {
			scenarios.PrintMessage(os.Stdout, m)
		}))
		if err != nil {
			logger.ErrorContext(ctx, "desk failed", "desk", d.Name, "error", err)
		}
		if s != nil {
			scenarios.Report(os.Stdout, s)
		}
	}
	return nil
}

func selectDesks(name string, custom *scenarios.Desk) ([]*scenarios.Desk, error) {
	if custom != nil {
		return []*scenarios.Desk{custom}, nil
	}
	names := []string{name}
	if name == "all" {
		names = scenarios.Names()
	}
	desks := make([]*scenarios.Desk, 0, len(names))
	for _, n := range names {
		d, ok := scenarios.Lookup(n)
		if !ok {
			return nil, fmt.Errorf("unknown scenario %q (want %s or all)", n, strings.Join(scenarios.Names(), ", "))
		}
		desks = append(desks, d)
	}
	return desks, nil
}

// newService builds the configured completion service. The stub provider
// answers with the offline demo responder so every desk completes.
func newService(ctx context.Context, cfg *config.Config) (llm.LLM, error) {
	if cfg.LLM.Provider == config.ProviderStub {
		return llm.NewStubLLM(scenarios.DemoResponder()), nil
	}
	return cfg.NewLLM(ctx)
}

func newStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (memory.SessionStore, error) {
	if cfg.Redis.URL == "" {
		return memory.NewInMemoryStore(cfg.Desk.MaxSessions), nil
	}
	store, err := memory.NewRedisStore(cfg.Redis.URL, cfg.Redis.TTL, cfg.Redis.KeyPrefix)
	if err != nil {
		return nil, err
	}
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("redis unavailable: %w", err)
	}
	logger.InfoContext(ctx, "using redis session store", "prefix", cfg.Redis.KeyPrefix)
	return store, nil
}

// agentMiddleware wraps every agent with tracing and metrics, and with a
// shared limiter when DESK_RATE_LIMIT is set.
func agentMiddleware(cfg *config.Config, logger *slog.Logger) []func(desk.Agent) desk.Agent {
	wrappers := []func(desk.Agent) desk.Agent{
		func(a desk.Agent) desk.Agent { return observability.NewTracingMiddleware(a) },
		func(a desk.Agent) desk.Agent {
			m, err := observability.NewMetricsMiddleware(a)
			if err != nil {
				logger.Warn("agent metrics disabled", "agent", a.Name(), "error", err)
				return a
			}
			return m
		},
	}
	if cfg.Desk.RateLimit > 0 {
		limiter := middleware.NewLimiter(cfg.Desk.RateLimit, cfg.Desk.RateBurst)
		wrappers = append(wrappers, func(a desk.Agent) desk.Agent {
			return middleware.NewRateLimiterDecorator(a, limiter)
		})
	}
	return wrappers
}

func serveAPI(ctx context.Context, cfg *config.Config, service llm.LLM, specs []desk.AgentSpec, orchCfg patterns.Config, logger *slog.Logger) error {
	for _, spec := range specs {
		agent, err := agents.NewLLMAgent(spec, service, agents.WithRecommendation())
		if err != nil {
			return err
		}
		orchCfg.Agents = append(orchCfg.Agents, agent)
	}
	orch, err := patterns.New(orchCfg)
	if err != nil {
		return err
	}
	if err := orch.Start(); err != nil {
		return err
	}

	srv := apihttp.NewServer(orch, orchCfg.Store, cfg.HTTP.Addr, logger)
	if err := srv.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = srv.Stop(shutdownCtx)
	return errors.Join(err, orch.Stop(shutdownCtx))
}

func shutdown(logger *slog.Logger, what string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Warn("shutdown failed", "component", what, "error", err)
	}
}
