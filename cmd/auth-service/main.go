package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pribylovaa/cinelog-auth/internal/config"
	"github.com/pribylovaa/cinelog-auth/internal/metrics"
	"github.com/pribylovaa/cinelog-auth/internal/service"
	httpapi "github.com/pribylovaa/cinelog-auth/internal/transport/http"
	"github.com/pribylovaa/cinelog-auth/internal/transport/http/handlers"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting application", "env", cfg.Env)

	if len(cfg.GeneratedSecrets) > 0 {
		log.Warn("secrets_generated",
			slog.String("secrets", strings.Join(cfg.GeneratedSecrets, ",")),
			slog.String("hint", "sessions will not survive restart"),
		)
	}

	// Корневой контекст по сигналам.
	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	// Хранилище c таймаутом на подключение и миграции.
	dbCtx, dbCancel := context.WithTimeout(rootCtx, 30*time.Second)
	str, err := openStorage(dbCtx, cfg, log)
	dbCancel()
	if err != nil {
		log.Error("storage_open_failed", slog.String("err", err.Error()))
		rootCancel()
		os.Exit(1)
	}

	sender, err := newMailer(cfg, log)
	if err != nil {
		log.Error("mailer_init_failed", slog.String("err", err.Error()))
		rootCancel()
		str.Close()
		os.Exit(1)
	}

	limCtx, limCancel := context.WithTimeout(rootCtx, 5*time.Second)
	limiter, err := newLimiter(limCtx, cfg, log)
	limCancel()
	if err != nil {
		log.Error("rate_limiter_init_failed", slog.String("err", err.Error()))
		rootCancel()
		str.Close()
		os.Exit(1)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	// Сервис.
	srvc := service.New(str, cfg.Auth, sender)
	log.Info("service_initialized")

	api := httpapi.NewRouter(srvc, httpapi.Options{
		Logger:         log,
		Timeout:        cfg.Timeouts.Request,
		BasePath:       cfg.HTTP.BasePath,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		TrustProxy:     cfg.HTTP.TrustProxy,
		HSTS:           cfg.Env == config.EnvProd,
		Cookies: handlers.CookieOptions{
			Secure:     cfg.CookieSecure(),
			Domain:     cfg.Cookies.Domain,
			AccessTTL:  cfg.Auth.AccessTokenTTL,
			RefreshTTL: cfg.Auth.RefreshTokenTTL,
		},
		CSRFSecret:  cfg.Auth.CookieSecret,
		DisableCSRF: cfg.HTTP.DisableCSRF,
		Limiter:     limiter,
		GlobalLimit: httpapi.Limit{Max: cfg.RateLimit.MaxRequests, Window: cfg.RateLimit.Window},
		AuthLimit:   httpapi.Limit{Max: cfg.RateLimit.AuthMaxRequests, Window: cfg.RateLimit.AuthWindow},
		Metrics:     m,
	})

	var ready atomic.Bool

	httpAddr := cfg.HTTP.Addr()
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           newMux(api, &ready, healthDeps(str, limiter)...),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Фоновая очистка просроченных refresh-токенов.
	startRefreshJanitor(rootCtx, str, m, log, cfg.Storage.JanitorPeriod)

	serveErrCh := make(chan error, 1)
	go func() {
		log.Info("http_listen_start", slog.String("addr", httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
		close(serveErrCh)
	}()

	ready.Store(true)

	// Ожидание сигнала завершения или фатальной ошибки сервера.
	select {
	case <-rootCtx.Done():
		log.Info("shutdown_requested")
	case err := <-serveErrCh:
		if err != nil {
			log.Error("http_serve_failed", slog.String("err", err.Error()))
		}
	}

	// Снимаем ready, чтобы балансировщик перестал слать трафик.
	ready.Store(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown)
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_force_stop", slog.String("err", err.Error()))
		_ = httpSrv.Close()
	} else {
		log.Info("http_stopped")
	}

	// Явная очистка перед выходом.
	shutdownCancel()
	rootCancel()
	if err := limiter.Close(); err != nil {
		log.Warn("rate_limiter_close_failed", slog.String("err", err.Error()))
	}
	str.Close()

	log.Info("service_stopped")
}
