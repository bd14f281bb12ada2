package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultPath = "./config/config.yaml"

type GRPC struct {
	Addr        string `yaml:"addr"`        // пусто — gRPC выключен
	CallTimeout string `yaml:"callTimeout"` // 10s
}

type HTTP struct {
	Addr           string   `yaml:"addr"`
	ReadTimeout    string   `yaml:"readTimeout"`
	IdleTimeout    string   `yaml:"idleTimeout"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type LogFile struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

type Logging struct {
	Env       string  `yaml:"env"`       // dev|prod
	Service   string  `yaml:"service"`   // signal-service
	Version   string  `yaml:"version"`   // v0.1.0
	Backend   string  `yaml:"backend"`   // std|zap
	AddSource bool    `yaml:"addSource"` // false|true
	Debug     bool    `yaml:"debug"`     // false|true
	File      LogFile `yaml:"file"`
}

type Signal struct {
	NodeID         string  `yaml:"nodeId"`         // пусто — hostname
	Capacity       int     `yaml:"capacity"`       // 8
	ParticipantTTL string  `yaml:"participantTTL"` // 24h
	WriteTimeout   string  `yaml:"writeTimeout"`   // 5s
	PingEvery      string  `yaml:"pingEvery"`      // 15s
	ReadLimit      int64   `yaml:"readLimit"`      // bytes
	RatePerSec     float64 `yaml:"ratePerSec"`
	RateBurst      int     `yaml:"rateBurst"`
	PurgeEvery     string  `yaml:"purgeEvery"` // 1m
}

type Store struct {
	Backend string `yaml:"backend"` // memory|postgres|redis
}

type Postgres struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"maxConns"`
	Migrate  bool   `yaml:"migrate"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
	// Bus — маршрутизация сигналов между нодами через pub/sub
	Bus bool `yaml:"bus"`
}

type RabbitMQ struct {
	URL      string `yaml:"url"` // пусто — события не публикуются
	Exchange string `yaml:"exchange"`
}

type Tracing struct {
	Endpoint    string  `yaml:"endpoint"` // OTLP/HTTP, пусто — выключено
	SampleRatio float64 `yaml:"sampleRatio"`
}

type Config struct {
	HTTP     HTTP     `yaml:"http"`
	GRPC     GRPC     `yaml:"grpc"`
	Logging  Logging  `yaml:"logging"`
	Signal   Signal   `yaml:"signal"`
	Store    Store    `yaml:"store"`
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	RabbitMQ RabbitMQ `yaml:"rabbitmq"`
	Tracing  Tracing  `yaml:"tracing"`
}

// LoadConfig: .env (если есть) -> yaml из CONFIG_PATH -> env overrides -> validate.
// Отсутствующий файл по умолчанию не ошибка; явно заданный CONFIG_PATH обязан существовать.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	path := os.Getenv("CONFIG_PATH")
	explicit := path != ""
	if !explicit {
		path = defaultPath
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, err
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	setStr(&c.HTTP.Addr, "HTTP_ADDR")
	setStr(&c.GRPC.Addr, "GRPC_ADDR")
	setStr(&c.Logging.Env, "APP_ENV")
	setStr(&c.Logging.Backend, "LOG_BACKEND")
	setStr(&c.Signal.NodeID, "NODE_ID")
	setStr(&c.Store.Backend, "STORE_BACKEND")
	setStr(&c.Postgres.DSN, "POSTGRES_DSN")
	setStr(&c.Redis.Addr, "REDIS_ADDR")
	setStr(&c.Redis.Password, "REDIS_PASSWORD")
	setStr(&c.RabbitMQ.URL, "RABBITMQ_URL")
	setStr(&c.Tracing.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	if v := os.Getenv("ROOM_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Signal.Capacity = n
		}
	}
}

func setStr(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func (c *Config) validate() error {
	// установка дефолтов, если значения не указаны
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Logging.Service == "" {
		c.Logging.Service = "signal-service"
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
	if c.Signal.Capacity == 0 {
		c.Signal.Capacity = 8
	}
	if c.Signal.Capacity < 0 {
		return errors.New("signal.capacity must be positive")
	}
	if c.Signal.NodeID == "" {
		hn, _ := os.Hostname()
		c.Signal.NodeID = strings.ReplaceAll(hn, ".", "-")
	}
	if c.Signal.NodeID == "" {
		c.Signal.NodeID = "node"
	}
	if strings.Contains(c.Signal.NodeID, ".") {
		return errors.New("signal.nodeId must not contain '.'")
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}

	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for store.backend=postgres")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required for store.backend=redis")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	if c.Redis.Bus && c.Redis.Addr == "" {
		return errors.New("redis.addr is required for redis.bus")
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "signal:"
	}
	return nil
}

func (s Signal) TTL() time.Duration {
	return parseDurationOr(24*time.Hour, s.ParticipantTTL)
}

func (s Signal) WriteTimeoutDur() time.Duration {
	return parseDurationOr(5*time.Second, s.WriteTimeout)
}

func (s Signal) PingEveryDur() time.Duration {
	return parseDurationOr(15*time.Second, s.PingEvery)
}

func (s Signal) PurgeEveryDur() time.Duration {
	return parseDurationOr(time.Minute, s.PurgeEvery)
}

func (h HTTP) ReadTimeoutDur() time.Duration {
	return parseDurationOr(10*time.Second, h.ReadTimeout)
}

func (h HTTP) IdleTimeoutDur() time.Duration {
	return parseDurationOr(60*time.Second, h.IdleTimeout)
}

func (g GRPC) CallTimeoutDur() time.Duration {
	return parseDurationOr(10*time.Second, g.CallTimeout)
}

// helper для парсинга timeout-ов
func parseDurationOr(def time.Duration, s string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}
