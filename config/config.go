package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type GRPC struct {
	Addr          string        `yaml:"addr"`
	DeadlineGuard time.Duration `yaml:"deadlineGuard"` // 10s
}

type HTTP struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|stage|prod
	Service   string `yaml:"service"`   // inquiry-service
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	Level     string `yaml:"level"`     // debug|info|warn|error
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
}

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Storage struct {
	Driver string        `yaml:"driver"` // postgres|memory
	Seed   []SeedProfile `yaml:"seed"`   // профили для memory
}

type SeedProfile struct {
	ID          string `yaml:"id"`
	UserID      string `yaml:"userId"`
	Kind        string `yaml:"kind"` // brand|creator
	DisplayName string `yaml:"displayName"`
}

type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"maxConns"`
	MinConns        int32         `yaml:"minConns"`
	MaxConnLifetime time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime time.Duration `yaml:"maxConnIdleTime"`

	// ограничения сессии: запрос целиком и ожидание блокировки строки заявки
	StatementTimeout time.Duration `yaml:"statementTimeout"`
	LockTimeout      time.Duration `yaml:"lockTimeout"`
	Migrate          bool          `yaml:"migrate"`
}

type Redis struct {
	Enabled       bool   `yaml:"enabled"`
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channelPrefix"`
}

type Auth struct {
	Alg           string        `yaml:"alg"` // HS256|RS256
	HMACSecret    string        `yaml:"hmacSecret"`
	PublicKeyPath string        `yaml:"publicKeyPath"`
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	ClockSkew     time.Duration `yaml:"clockSkew"`
}

type Chat struct {
	MaxMessageLength int           `yaml:"maxMessageLength"`
	DefaultPageSize  int           `yaml:"defaultPageSize"`
	MaxPageSize      int           `yaml:"maxPageSize"`
	SubscriberBuffer int           `yaml:"subscriberBuffer"`
	PingEvery        time.Duration `yaml:"pingEvery"`
	SendTimeout      time.Duration `yaml:"sendTimeout"`
}

type CORS struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type Config struct {
	HTTP     HTTP     `yaml:"http"`
	GRPC     GRPC     `yaml:"grpc"`
	Logging  Logging  `yaml:"logging"`
	Storage  Storage  `yaml:"storage"`
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Auth     Auth     `yaml:"auth"`
	Chat     Chat     `yaml:"chat"`
	CORS     CORS     `yaml:"cors"`
}

// LoadConfig читает CONFIG_PATH (по умолчанию ./config/config.yaml) и .env, если он есть.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}
	return Load(path)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv: секреты и адреса из окружения перекрывают yaml.
func (c *Config) applyEnv() error {
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_DB: %w", err)
		}
		c.Redis.DB = n
	}
	if v := os.Getenv("AUTH_HMAC_SECRET"); v != "" {
		c.Auth.HMACSecret = v
	}
	return nil
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if c.GRPC.Addr == "" {
		return errors.New("grpc.addr is required")
	}
	if err := c.Storage.validate(&c.Postgres); err != nil {
		return err
	}
	if err := c.Redis.validate(); err != nil {
		return err
	}
	if err := c.Auth.validate(); err != nil {
		return err
	}
	if err := c.Chat.validate(); err != nil {
		return err
	}

	// установка дефолтов, если значения не указаны
	c.HTTP.ReadTimeout = durationOr(c.HTTP.ReadTimeout, 10*time.Second)
	c.HTTP.IdleTimeout = durationOr(c.HTTP.IdleTimeout, 60*time.Second)
	c.HTTP.ShutdownTimeout = durationOr(c.HTTP.ShutdownTimeout, 10*time.Second)
	c.GRPC.DeadlineGuard = durationOr(c.GRPC.DeadlineGuard, 10*time.Second)
	if c.Logging.Service == "" {
		c.Logging.Service = "inquiry-service"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}
	return nil
}

func (s *Storage) validate(pg *Postgres) error {
	switch s.Driver {
	case "":
		s.Driver = StoragePostgres
	case StoragePostgres, StorageMemory:
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", s.Driver)
	}
	if s.Driver == StoragePostgres && pg.DSN == "" {
		return errors.New("postgres.dsn is required for storage.driver=postgres")
	}
	if pg.StatementTimeout < 0 || pg.LockTimeout < 0 {
		return errors.New("postgres: timeouts must not be negative")
	}
	pg.StatementTimeout = durationOr(pg.StatementTimeout, 5*time.Second)
	pg.LockTimeout = durationOr(pg.LockTimeout, 2*time.Second)
	if pg.LockTimeout > pg.StatementTimeout {
		return fmt.Errorf("postgres.lockTimeout %s exceeds postgres.statementTimeout %s", pg.LockTimeout, pg.StatementTimeout)
	}
	for i, p := range s.Seed {
		if p.UserID == "" || (p.Kind != "brand" && p.Kind != "creator") {
			return fmt.Errorf("storage.seed[%d]: userId and kind brand|creator are required", i)
		}
	}
	return nil
}

func (r *Redis) validate() error {
	if !r.Enabled {
		return nil
	}
	if r.Addr == "" {
		return errors.New("redis.addr is required when redis.enabled")
	}
	if r.ChannelPrefix == "" {
		r.ChannelPrefix = "inquiry:events:"
	}
	return nil
}

func (a *Auth) validate() error {
	switch a.Alg {
	case "", "HS256":
		a.Alg = "HS256"
		if len(a.HMACSecret) < 32 {
			return errors.New("auth.hmacSecret must be at least 32 bytes for HS256")
		}
	case "RS256":
		if a.PublicKeyPath == "" {
			return errors.New("auth.publicKeyPath is required for RS256")
		}
	default:
		return fmt.Errorf("auth.alg: unsupported %q", a.Alg)
	}
	if a.ClockSkew < 0 {
		return errors.New("auth.clockSkew must not be negative")
	}
	return nil
}

func (c *Chat) validate() error {
	if c.MaxMessageLength < 0 || c.DefaultPageSize < 0 || c.MaxPageSize < 0 || c.SubscriberBuffer < 0 {
		return errors.New("chat: sizes must not be negative")
	}
	if c.MaxMessageLength == 0 {
		c.MaxMessageLength = 4000
	}
	if c.DefaultPageSize == 0 {
		c.DefaultPageSize = 100
	}
	if c.MaxPageSize == 0 {
		c.MaxPageSize = 500
	}
	if c.DefaultPageSize > c.MaxPageSize {
		return fmt.Errorf("chat.defaultPageSize %d exceeds chat.maxPageSize %d", c.DefaultPageSize, c.MaxPageSize)
	}
	if c.SubscriberBuffer == 0 {
		c.SubscriberBuffer = 64
	}
	c.PingEvery = durationOr(c.PingEvery, 15*time.Second)
	c.SendTimeout = durationOr(c.SendTimeout, 5*time.Second)
	return nil
}

// helper для timeout-ов
func durationOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
