package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/kiliankoe/ai-against-humanity/internal/ai"
	"github.com/kiliankoe/ai-against-humanity/internal/ai/ollama"
	"github.com/kiliankoe/ai-against-humanity/internal/ai/openai"
	"github.com/kiliankoe/ai-against-humanity/internal/cards"
	"github.com/kiliankoe/ai-against-humanity/internal/config"
	"github.com/kiliankoe/ai-against-humanity/internal/credentials"
	"github.com/kiliankoe/ai-against-humanity/internal/game"
	"github.com/kiliankoe/ai-against-humanity/internal/httpapi"
	"github.com/kiliankoe/ai-against-humanity/internal/jobs"
	"github.com/kiliankoe/ai-against-humanity/internal/metrics"
	"github.com/kiliankoe/ai-against-humanity/internal/orchestrator"
	"github.com/kiliankoe/ai-against-humanity/internal/persona"
	"github.com/kiliankoe/ai-against-humanity/internal/ratelimit"
	"github.com/kiliankoe/ai-against-humanity/internal/respcache"
	"github.com/kiliankoe/ai-against-humanity/internal/round"
	"github.com/kiliankoe/ai-against-humanity/internal/secrets"
	"github.com/kiliankoe/ai-against-humanity/internal/store"
	"github.com/kiliankoe/ai-against-humanity/internal/store/memstore"
	"github.com/kiliankoe/ai-against-humanity/internal/store/pgstore"
	"github.com/kiliankoe/ai-against-humanity/internal/ws"
)

type closableStore interface {
	store.Store
	Close() error
}

type scheduler interface {
	jobs.Scheduler
	Bind(h jobs.Handler)
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if p := c.String("port"); p != "" {
		cfg.Port = p
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	if n, err := cards.Seed(ctx, st, cards.Base()); err != nil {
		return fmt.Errorf("seed base pack: %w", err)
	} else if n > 0 {
		log.Info().Int("cards", n).Msg("base pack seeded")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	cipher := secrets.Load(cfg.EncryptionKey)
	if err := cipher.Ready(); err != nil {
		log.Warn().Err(err).Msg("ENCRYPTION_KEY not usable, saving API keys is disabled")
	}

	// Providers
	byok := openai.New("", cfg.OpenAIBaseURL, cfg.DefaultModel)
	var shared ai.Provider
	switch cfg.DefaultProvider {
	case config.ProviderOllama:
		shared = ollama.New(cfg.OllamaHost, cfg.DefaultModel)
	default:
		if cfg.OpenAIKey == "" {
			log.Warn().Msg("OPENAI_API_KEY is empty, shared AI calls will fail and fall back to filler answers")
		}
		shared = openai.New(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.DefaultModel)
	}
	keys := credentials.New(st, cipher, map[string]ai.KeyChecker{credentials.ProviderOpenAI: byok})

	limiter := ratelimit.New(openLimiterBackend(ctx, cfg), ratelimit.Config{
		PerMinute: cfg.RateLimitPerMinute,
		PerDay:    cfg.RateLimitPerDay,
		FailOpen:  cfg.RateLimitFailOpen,
	})

	machine := round.New()
	orch := orchestrator.New(orchestrator.Deps{
		Store:       st,
		Machine:     machine,
		Cache:       respcache.New(st),
		Credentials: keys,
		Limiter:     limiter,
		Shared:      shared,
		BYOK:        byok,
		Metrics:     m,
	}, orchestrator.Config{Model: cfg.DefaultModel})

	sched, startSched, stopSched, err := openScheduler(ctx, cfg)
	if err != nil {
		return err
	}

	var results *game.ResultsLog
	if cfg.ExportEnabled {
		results = game.NewResultsLog(cfg.ExportFile)
		log.Info().Str("file", results.Path()).Msg("exporting round results")
	}

	sock := ws.New(nil)
	games := game.NewManager(game.Deps{
		Store:     st,
		Machine:   machine,
		AI:        orch,
		Scheduler: sched,
		Notifier:  sock,
		Metrics:   m,
		Results:   results,
	}, game.Config{
		SubmissionTimeout: cfg.SubmissionTimeout,
		JudgingTimeout:    cfg.JudgingTimeout,
	})
	sock.Games = games
	sched.Bind(games)
	if err := startSched(ctx); err != nil {
		return err
	}
	defer stopSched()

	gin.SetMode(gin.ReleaseMode)
	engine := httpapi.New(httpapi.Deps{
		Games:    games,
		Personas: persona.NewRegistry(st),
		Keys:     keys,
		Gatherer: reg,
	}, httpapi.Config{RatePerSecond: cfg.HTTPRateLimit, Burst: cfg.HTTPRateBurst})
	io := sock.Mount(engine)
	defer io.Close()

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: engine, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("provider", cfg.DefaultProvider).Str("model", cfg.DefaultModel).Msg("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore uses Postgres when DATABASE_URL is set and memory otherwise.
func openStore(ctx context.Context, cfg config.Config) (closableStore, error) {
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set, using in-memory store")
		return memstore.New(), nil
	}
	pg, err := pgstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	group, err := pg.Migrate(ctx)
	if err != nil {
		pg.Close()
		return nil, err
	}
	if !group.IsZero() {
		log.Info().Str("group", group.String()).Msg("database migrated")
	}
	return pg, nil
}

// openLimiterBackend returns nil, which disables limiting, unless Redis or
// the in-memory backend is configured.
func openLimiterBackend(ctx context.Context, cfg config.Config) ratelimit.Backend {
	if cfg.RateLimitBackend == config.LimiterMemory {
		log.Info().Msg("rate limiting backed by process memory")
		return ratelimit.NewMemoryBackend()
	}
	if cfg.RedisURL == "" {
		log.Warn().Msg("no rate limit backend configured, shared AI calls are not limited")
		return nil
	}
	rb := ratelimit.NewRedisBackend(ratelimit.NewRedisPool(cfg.RedisURL))
	if err := rb.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("redis unreachable at startup, rate limiting follows RATE_LIMIT_FAIL_OPEN")
	} else {
		log.Info().Msg("rate limiting backed by redis")
	}
	return rb
}

// openScheduler picks River when Postgres is configured and the in-process
// pool otherwise.
func openScheduler(ctx context.Context, cfg config.Config) (scheduler, func(context.Context) error, func(), error) {
	if cfg.DatabaseURL == "" {
		pool := jobs.NewPool(cfg.SchedulerWorkers)
		start := func(ctx context.Context) error {
			pool.Start(ctx)
			return nil
		}
		return pool, start, pool.Stop, nil
	}

	rv, err := jobs.NewRiver(ctx, cfg.DatabaseURL, cfg.SchedulerWorkers)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := rv.Migrate(ctx); err != nil {
		rv.Close()
		return nil, nil, nil, err
	}
	stop := func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rv.Stop(stopCtx); err != nil {
			log.Error().Err(err).Msg("stop river")
		}
	}
	return rv, rv.Start, stop, nil
}
