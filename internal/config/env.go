package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/kazz187/auditflow/pkg/storage"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	HTTPHost string `envconfig:"HTTP_HOST" default:""`
	HTTPPort string `envconfig:"HTTP_PORT" default:"3100"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"debug"`
	APIKey   string `envconfig:"API_KEY" required:"true"`
}

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type StoreEnv struct {
	Type        string `envconfig:"STORE_TYPE" default:"memory"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
}

type StorageEnv struct {
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".auditflow/data"`
	// S3 settings (used when Type == "s3")
	S3Bucket       string `envconfig:"S3_BUCKET"`
	S3Prefix       string `envconfig:"S3_PREFIX" default:"auditflow/"`
	S3Region       string `envconfig:"S3_REGION" default:"ap-northeast-1"`
	S3Endpoint     string `envconfig:"S3_ENDPOINT"`
	S3UsePathStyle bool   `envconfig:"S3_USE_PATH_STYLE" default:"false"`
}

type CalendarEnv struct {
	Timezone          string `envconfig:"CALENDAR_TIMEZONE" default:"Local"`
	LookaheadDays     int    `envconfig:"CALENDAR_LOOKAHEAD_DAYS" default:"400"`
	TicketMaxAttempts int    `envconfig:"TICKET_MAX_ATTEMPTS" default:"5"`
}

type Env struct {
	BaseEnv
	StoreEnv
	StorageEnv
	CalendarEnv
}

const namespace = "AUDITFLOW"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	if err := env.validate(); err != nil {
		return nil, fmt.Errorf("invalid env: %w", err)
	}
	return &env, nil
}

func (e *Env) validate() error {
	switch e.StoreEnv.Type {
	case StoreMemory:
	case StorePostgres:
		if e.DatabaseURL == "" {
			return fmt.Errorf("%s_DATABASE_URL is required for the postgres store", namespace)
		}
	default:
		return fmt.Errorf("unknown store type %q", e.StoreEnv.Type)
	}
	if e.LookaheadDays <= 0 {
		return fmt.Errorf("%s_CALENDAR_LOOKAHEAD_DAYS must be positive", namespace)
	}
	if e.TicketMaxAttempts <= 0 {
		return fmt.Errorf("%s_TICKET_MAX_ATTEMPTS must be positive", namespace)
	}
	_, err := e.Location()
	return err
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelDebug
	}
	return level
}

func (e *CalendarEnv) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid calendar timezone %q: %w", e.Timezone, err)
	}
	return loc, nil
}

func (e *StorageEnv) Config() storage.Config {
	return storage.Config{
		Type:           e.Type,
		BaseDir:        e.BaseDir,
		S3Bucket:       e.S3Bucket,
		S3Prefix:       e.S3Prefix,
		S3Region:       e.S3Region,
		S3Endpoint:     e.S3Endpoint,
		S3UsePathStyle: e.S3UsePathStyle,
	}
}
