package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	BackendSQL    = "sql"
	BackendBadger = "badger"
)

var (
	ErrMissingMessageSecret = errors.New("MSG_SECRET_KEY is not set")
	ErrMissingJWTSecret     = errors.New("JWT_SECRET is not set")
)

type Config struct {
	Addr           string        `env:"ADDR,default=:4000"`
	StoreBackend   string        `env:"STORE_BACKEND,default=sql"`
	DBDriver       string        `env:"DB_DRIVER,default=sqlite3"`
	DBSource       string        `env:"DB_SOURCE,default=chat.db"`
	BadgerPath     string        `env:"BADGER_PATH,default=data/badger"`
	MsgSecretKey   string        `env:"MSG_SECRET_KEY"`
	JWTSecret      string        `env:"JWT_SECRET"`
	TokenTTL       time.Duration `env:"TOKEN_TTL,default=24h"`
	PersistTimeout time.Duration `env:"PERSIST_TIMEOUT,default=10s"`
	LogLevel       string        `env:"LOG_LEVEL,default=INFO"`
}

// Load reads envFile into the process environment when it exists, then
// decodes the environment.
func Load(envFile string) (Config, error) {
	var cfg Config
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return cfg, fmt.Errorf("config error: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the server cannot start with. A missing
// message secret is fatal: nothing can be encrypted or read back.
func (c Config) Validate() error {
	if c.MsgSecretKey == "" {
		return ErrMissingMessageSecret
	}
	if c.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	switch c.StoreBackend {
	case BackendSQL, BackendBadger:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.PersistTimeout <= 0 {
		return fmt.Errorf("PERSIST_TIMEOUT must be positive, got %s", c.PersistTimeout)
	}
	return nil
}
