// config предоставляет структуру конфигурации сервиса и функции
// загрузки из файла/переменных окружения с предсказуемым приоритетом.
//
// Конфигурация собирается один раз при старте процесса и передаётся
// компонентам явно; пакеты не читают глобальное состояние.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"

	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	MailSMTP = "smtp"
	MailLog  = "log"
)

// Config — корневая конфигурация сервиса.
// Источники значений (по убыванию приоритета):
//  1. явный путь через флаг --config;
//  2. путь в переменной окружения CONFIG_PATH;
//  3. файл local.yaml из рабочей директории;
//  4. переменные окружения (cleanenv).
type Config struct {
	Env       string          `yaml:"env" env:"ENV" env-default:"local"`
	HTTP      HTTPConfig      `yaml:"http"`
	Auth      AuthConfig      `yaml:"auth"`
	Cookies   CookieConfig    `yaml:"cookies"`
	Storage   StorageConfig   `yaml:"storage"`
	DB        DBConfig        `yaml:"db"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Mail      MailConfig      `yaml:"mail"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`

	// GeneratedSecrets — секреты, которых не было в конфигурации и которые
	// сгенерированы при загрузке (только вне prod).
	GeneratedSecrets []string `yaml:"-"`
}

// HTTPConfig — сетевые настройки HTTP-сервера.
type HTTPConfig struct {
	Host           string   `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port           string   `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
	BasePath       string   `yaml:"base_path" env:"HTTP_BASE_PATH" env-default:"/api/v1"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"HTTP_ALLOWED_ORIGINS" env-separator:"," env-default:"http://localhost:3000"`
	TrustProxy     bool     `yaml:"trust_proxy" env:"HTTP_TRUST_PROXY" env-default:"false"`
	DisableCSRF    bool     `yaml:"disable_csrf" env:"HTTP_DISABLE_CSRF"`
}

// Addr возвращает адрес в формате host:port.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, h.Port)
}

// AuthConfig содержит секреты и параметры выпуска токенов.
type AuthConfig struct {
	JWTSecret            string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	RefreshSecret        string        `yaml:"refresh_secret" env:"REFRESH_SECRET"`
	CookieSecret         string        `yaml:"cookie_secret" env:"COOKIE_SECRET"`
	AccessTokenTTL       time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL" env-default:"15m"`
	RefreshTokenTTL      time.Duration `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" env-default:"168h"`
	VerificationTokenTTL time.Duration `yaml:"verification_token_ttl" env:"VERIFICATION_TOKEN_TTL" env-default:"24h"`
	ResetTokenTTL        time.Duration `yaml:"reset_token_ttl" env:"RESET_TOKEN_TTL" env-default:"1h"`
	Issuer               string        `yaml:"issuer" env:"ISSUER" env-default:"cinelog-auth"`
	Audience             []string      `yaml:"audience" env:"AUDIENCE" env-separator:"," env-default:"cinelog"`
	BcryptCost           int           `yaml:"bcrypt_cost" env:"BCRYPT_COST" env-default:"10"`
	PasswordMinLength    int           `yaml:"password_min_length" env:"PASSWORD_MIN_LENGTH" env-default:"6"`
}

// CookieConfig — параметры session-cookie.
// Secure: "" — по окружению (prod -> true), "true"/"false" — явно.
type CookieConfig struct {
	Secure string `yaml:"secure" env:"COOKIE_SECURE"`
	Domain string `yaml:"domain" env:"COOKIE_DOMAIN"`
}

// StorageConfig — выбор хранилища.
type StorageConfig struct {
	Driver        string        `yaml:"driver" env:"STORAGE_DRIVER" env-default:"postgres"`
	JanitorPeriod time.Duration `yaml:"janitor_period" env:"JANITOR_PERIOD" env-default:"30m"`
}

// DBConfig — настройки подключения к базе данных.
type DBConfig struct {
	DatabaseURL string `yaml:"db_url" env:"DATABASE_URL"`
	AutoMigrate bool   `yaml:"auto_migrate" env:"DB_AUTO_MIGRATE"`
}

// RedisConfig — необязательный Redis для распределённого rate limit.
type RedisConfig struct {
	RedisURL string `yaml:"redis_url" env:"REDIS_URL"`
}

// RateLimitConfig — общий лимит на адрес и строгий лимит auth-эндпоинтов.
type RateLimitConfig struct {
	Window          time.Duration `yaml:"window" env:"RATE_LIMIT_WINDOW" env-default:"15m"`
	MaxRequests     int           `yaml:"max_requests" env:"RATE_LIMIT_MAX_REQUESTS" env-default:"100"`
	AuthWindow      time.Duration `yaml:"auth_window" env:"RATE_LIMIT_AUTH_WINDOW" env-default:"15m"`
	AuthMaxRequests int           `yaml:"auth_max_requests" env:"RATE_LIMIT_AUTH_MAX_REQUESTS" env-default:"10"`
}

// MailConfig — исходящая почта.
type MailConfig struct {
	Driver   string `yaml:"driver" env:"MAIL_DRIVER" env-default:"log"`
	Host     string `yaml:"host" env:"SMTP_HOST"`
	Port     string `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	Username string `yaml:"username" env:"SMTP_USERNAME"`
	Password string `yaml:"password" env:"SMTP_PASSWORD"`
	From     string `yaml:"from" env:"MAIL_FROM" env-default:"CineLog <no-reply@cinelog.local>"`
	AppURL   string `yaml:"app_url" env:"APP_URL" env-default:"http://localhost:3000"`
}

// TimeoutConfig — таймауты сервиса.
type TimeoutConfig struct {
	Request  time.Duration `yaml:"request" env:"REQUEST_TIMEOUT" env-default:"5s"`
	Shutdown time.Duration `yaml:"shutdown" env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// CookieSecure сообщает, ставить ли атрибут Secure на cookie.
func (c *Config) CookieSecure() bool {
	switch c.Cookies.Secure {
	case "true":
		return true
	case "false":
		return false
	default:
		return c.Env == EnvProd
	}
}

// MustLoad — обёртка над Load с panic при ошибке.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

// Load загружает конфигурацию по приоритету:
// 1) явный путь; 2) CONFIG_PATH; 3) ./local.yaml; 4) ENV.
// ВАЖНО: после чтения файла накладываем ENV-переменные поверх значений из YAML.
func Load(path string) (*Config, error) {
	var cfg Config

	// чтение файла + overlay ENV.
	tryRead := func(p string) error {
		if p == "" {
			return fmt.Errorf("empty config path")
		}

		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("config file does not exist: %s", p)
			}

			return fmt.Errorf("config file %q stat failed: %w", p, err)
		}

		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return fmt.Errorf("failed to overlay env: %w", err)
		}

		return nil
	}

	switch {
	// 1) Явный путь.
	case path != "":
		if err := tryRead(path); err != nil {
			return nil, err
		}

	// 2) CONFIG_PATH.
	case os.Getenv("CONFIG_PATH") != "":
		if err := tryRead(os.Getenv("CONFIG_PATH")); err != nil {
			return nil, err
		}

	// 3) ./local.yaml.
	case fileExists("local.yaml"):
		if err := tryRead("local.yaml"); err != nil {
			return nil, err
		}

	// 4) Только ENV.
	default:
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
		}
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// finalize проверяет значения и заполняет отсутствующие секреты.
// В prod отсутствие любого секрета — ошибка загрузки.
func (c *Config) finalize() error {
	switch c.Env {
	case EnvLocal, EnvDev, EnvProd:
	default:
		return fmt.Errorf("invalid env %q: want local, dev or prod", c.Env)
	}

	secrets := []struct {
		name  string
		value *string
	}{
		{"auth.jwt_secret", &c.Auth.JWTSecret},
		{"auth.refresh_secret", &c.Auth.RefreshSecret},
		{"auth.cookie_secret", &c.Auth.CookieSecret},
	}

	for _, s := range secrets {
		if *s.value != "" {
			continue
		}

		if c.Env == EnvProd {
			return fmt.Errorf("%s is required in prod", s.name)
		}

		v, err := generateSecret()
		if err != nil {
			return fmt.Errorf("generate %s: %w", s.name, err)
		}

		*s.value = v
		c.GeneratedSecrets = append(c.GeneratedSecrets, s.name)
	}

	switch c.Storage.Driver {
	case DriverPostgres:
		if c.DB.DatabaseURL == "" {
			return fmt.Errorf("db.db_url is required for storage driver %q", DriverPostgres)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("invalid storage driver %q", c.Storage.Driver)
	}

	switch c.Mail.Driver {
	case MailSMTP:
		if c.Mail.Host == "" {
			return fmt.Errorf("mail.host is required for mail driver %q", MailSMTP)
		}
	case MailLog:
	default:
		return fmt.Errorf("invalid mail driver %q", c.Mail.Driver)
	}

	switch c.Cookies.Secure {
	case "", "true", "false":
	default:
		return fmt.Errorf("invalid cookies.secure %q", c.Cookies.Secure)
	}

	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 ||
		c.Auth.VerificationTokenTTL <= 0 || c.Auth.ResetTokenTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}

	if c.RateLimit.MaxRequests <= 0 || c.RateLimit.AuthMaxRequests <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}

	return nil
}

func generateSecret() (string, error) {
	b := make([]byte, 64)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
