package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// ServerEnv holds process settings for credchain serve.
type ServerEnv struct {
	Environment       string        `env:"CREDCHAIN_ENV" envDefault:"development"`
	Addr              string        `env:"CREDCHAIN_ADDR" envDefault:"127.0.0.1:8080"`
	BasePath          string        `env:"CREDCHAIN_BASE_PATH" envDefault:"/v0"`
	JWTSecret         string        `env:"CREDCHAIN_JWT_SECRET"`
	AllowActorHeader  bool          `env:"CREDCHAIN_ALLOW_ACTOR_HEADER" envDefault:"false"`
	AdvisoryURL       string        `env:"CREDCHAIN_ADVISORY_URL"`
	AdvisoryTimeout   time.Duration `env:"CREDCHAIN_ADVISORY_TIMEOUT" envDefault:"20s"`
	OTelEndpoint      string        `env:"CREDCHAIN_OTEL_ENDPOINT"`
	ReadHeaderTimeout time.Duration `env:"CREDCHAIN_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ShutdownTimeout   time.Duration `env:"CREDCHAIN_SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

// ParseServerEnv reads ServerEnv from the process environment.
func ParseServerEnv() (ServerEnv, error) {
	var cfg ServerEnv
	if err := env.Parse(&cfg); err != nil {
		return ServerEnv{}, fmt.Errorf("parse server env: %w", err)
	}
	return cfg, nil
}
