package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pribylovaa/cinelog-auth/internal/config"
	"github.com/pribylovaa/cinelog-auth/internal/mailer"
	"github.com/pribylovaa/cinelog-auth/internal/metrics"
	"github.com/pribylovaa/cinelog-auth/internal/pkg/log"
	"github.com/pribylovaa/cinelog-auth/internal/ratelimit"
	"github.com/pribylovaa/cinelog-auth/internal/storage"
	"github.com/pribylovaa/cinelog-auth/internal/storage/memory"
	"github.com/pribylovaa/cinelog-auth/internal/storage/postgres"
)

// limiterSweepPeriod — как часто in-memory лимитер удаляет простаивающие бакеты.
const limiterSweepPeriod = time.Minute

// setupLogger настраивает slog по окружению.
func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case config.EnvDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case config.EnvProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	}

	return log
}

// openStorage открывает хранилище по storage.driver.
// Для postgres при db.auto_migrate сначала применяются миграции.
func openStorage(ctx context.Context, cfg *config.Config, log *slog.Logger) (storage.Storage, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		log.Warn("storage_memory", slog.String("hint", "data is lost on restart"))
		return memory.New(), nil

	case config.DriverPostgres:
		if cfg.DB.AutoMigrate {
			if err := postgres.Migrate(ctx, cfg.DB.DatabaseURL); err != nil {
				return nil, err
			}
			log.Info("postgres_migrated")
		}

		str, err := postgres.New(ctx, cfg.DB.DatabaseURL)
		if err != nil {
			return nil, err
		}
		log.Info("postgres_connected")

		return str, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// newMailer выбирает отправителя писем по mail.driver.
func newMailer(cfg *config.Config, log *slog.Logger) (mailer.Sender, error) {
	switch cfg.Mail.Driver {
	case config.MailSMTP:
		s, err := mailer.NewSMTP(mailer.SMTPConfig{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
			AppURL:   cfg.Mail.AppURL,
		})
		if err != nil {
			return nil, err
		}
		return s, nil

	case config.MailLog:
		if cfg.Env == config.EnvProd {
			log.Warn("mailer_log_in_prod", slog.String("hint", "emails are written to the log instead of being sent"))
		}
		return mailer.NewLog(log, cfg.Mail.AppURL), nil

	default:
		return nil, fmt.Errorf("unknown mail driver %q", cfg.Mail.Driver)
	}
}

// newLimiter возвращает Redis-лимитер при заданном redis_url, иначе in-memory.
func newLimiter(ctx context.Context, cfg *config.Config, log *slog.Logger) (ratelimit.Limiter, error) {
	if cfg.Redis.RedisURL == "" {
		log.Info("rate_limiter_memory")
		return ratelimit.NewMemory(limiterSweepPeriod), nil
	}

	l, err := ratelimit.NewRedis(ctx, cfg.Redis.RedisURL, "")
	if err != nil {
		return nil, err
	}
	log.Info("rate_limiter_redis")

	return l, nil
}

// pinger — внешняя зависимость, доступность которой проверяет /healthz.
type pinger interface {
	Ping(ctx context.Context) error
}

// dependency — именованная зависимость для readiness.
type dependency struct {
	name string
	p    pinger
}

// healthDeps — хранилище и, если лимитер внешний (Redis), сам лимитер.
func healthDeps(str storage.Storage, limiter ratelimit.Limiter) []dependency {
	deps := []dependency{{name: "storage", p: str}}
	if p, ok := limiter.(pinger); ok {
		deps = append(deps, dependency{name: "rate_limiter", p: p})
	}

	return deps
}

// newMux собирает служебные эндпойнты и API.
//
//	/livez   — процесс жив;
//	/healthz — готов принимать трафик и все зависимости отвечают;
//	/metrics — Prometheus.
func newMux(api http.Handler, ready *atomic.Bool, deps ...dependency) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		for _, d := range deps {
			if err := d.p.Ping(ctx); err != nil {
				log.From(r.Context()).Warn("health_dependency_failed",
					slog.String("dependency", d.name),
					slog.String("err", err.Error()),
				)
				http.Error(w, d.name+" unavailable", http.StatusServiceUnavailable)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", api)

	return mux
}

// startRefreshJanitor запускает фоновую задачу, которая периодически удаляет
// просроченные refresh-токены из хранилища.
func startRefreshJanitor(ctx context.Context, str storage.RefreshTokenStorage, m *metrics.Metrics, log *slog.Logger, period time.Duration) {
	if period <= 0 {
		return
	}

	go func() {
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				purgeExpired(ctx, str, m, log)
			}
		}
	}()
}

// purgeExpired — один проход очистки.
func purgeExpired(ctx context.Context, str storage.RefreshTokenStorage, m *metrics.Metrics, log *slog.Logger) {
	n, err := str.DeleteExpiredTokens(ctx, time.Now().UTC())
	if err != nil {
		log.Error("refresh_janitor_failed", slog.String("err", err.Error()))
		return
	}

	m.TokensPurged(n)
	if n > 0 {
		log.Info("refresh_tokens_purged", slog.Int64("count", n))
	}
}
