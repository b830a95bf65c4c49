package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"joingate/internal/captcha/handler"
	"joingate/internal/captcha/metrics"
	"joingate/internal/captcha/ports"
	"joingate/internal/captcha/service"
	"joingate/internal/captcha/store/challenge"
	"joingate/internal/captcha/timer"
	"joingate/internal/onebot"
	"joingate/internal/platform/config"
	"joingate/internal/platform/httpserver"
	"joingate/internal/platform/logger"
	platformmetrics "joingate/internal/platform/metrics"
	"joingate/internal/platform/middleware"
	platformredis "joingate/internal/platform/redis"
	"joingate/internal/platform/tracing"
	"joingate/pkg/platform/circuit"
)

const shutdownTimeout = 15 * time.Second

// main wires high-level dependencies and keeps the server lifecycle small.
// Challenge logic lives in internal/captcha.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("joingate stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	shutdownTracing, err := tracing.Setup(ctx, "joingate", cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	reg := platformmetrics.NewRegistry()
	m := metrics.New(reg)

	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	var store ports.ChallengeStore
	if redisClient != nil {
		defer redisClient.Close()
		store = challenge.NewRedisStore(redisClient.Client,
			challenge.WithRedisNamespace(cfg.CaptchaStoreNamespace),
			challenge.WithRedisObserver(m.ObserveStoreOp),
		)
		log.InfoContext(ctx, "challenge store ready", "backend", "redis")
	} else {
		store = challenge.NewInMemoryStore(challenge.WithMemoryNamespace(cfg.CaptchaStoreNamespace))
		log.InfoContext(ctx, "challenge store ready", "backend", "memory")
	}

	auditPipe, err := newAuditPipeline(ctx, cfg, m, log)
	if err != nil {
		return err
	}
	defer auditPipe.Close()

	platform, err := onebot.New(cfg.OneBotAPIURL,
		onebot.WithAccessToken(cfg.OneBotAccessToken),
		onebot.WithBreaker(circuit.New("onebot")),
		onebot.WithLogger(log),
	)
	if err != nil {
		return err
	}

	timers := timer.New(timer.WithPendingObserver(m.SetPendingTimers))

	captchaCfg := cfg.Captcha()
	engine, err := service.New(store, timers, platform, platform,
		service.WithConfig(captchaCfg),
		service.WithLogger(log),
		service.WithAuditPublisher(auditPipe.publisher),
		service.WithMetrics(m),
	)
	if err != nil {
		return err
	}
	if !captchaCfg.Enabled() {
		log.WarnContext(ctx, "no groups allow-listed, join challenges are disabled")
	}

	ingress := handler.New(engine,
		handler.WithLogger(log),
		handler.WithMetrics(m),
		handler.WithMaxInFlight(cfg.IngressMaxInFlight),
		handler.WithReadiness(func(ctx context.Context) error {
			if redisClient == nil {
				return nil
			}
			return redisClient.Health(ctx)
		}),
	)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestContext)
	ingress.Register(r, middleware.RequireSignature(cfg.OneBotSecret, log))
	r.Handle("/metrics", platformmetrics.Handler(reg))

	srv := httpserver.New(cfg.HTTPAddr, r)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(ctx, "starting joingate", "addr", cfg.HTTPAddr, "groups", len(captchaCfg.GuildIDs))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		ingress.Wait()
		dropped := timers.Stop()
		log.InfoContext(shutdownCtx, "joingate stopped", "pending_challenges_dropped", dropped)
		return err
	})

	return g.Wait()
}
