// Package config loads the process configuration once at startup.
// Values come from the environment, optionally seeded from a .env file.
package config

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

var (
	LogLevel         string
	ServerRunAddress string
	DatabaseURI      string

	// SessionSecret signs session tokens. Changing it invalidates every session.
	SessionSecret       string
	SessionTTL          time.Duration
	SessionCookieSecure bool

	// CombinationMin and CombinationMax bound every component of a coin triple.
	CombinationMin int
	CombinationMax int

	// RedisAddress enables the shared fingerprint cache when set.
	RedisAddress       string
	CORSAllowedOrigins []string
)

type environment struct {
	LogLevel            string        `env:"LOG_LEVEL, default=info"`
	ServerRunAddress    string        `env:"SERVER_RUN_ADDRESS, default=0.0.0.0:8080"`
	DatabaseURI         string        `env:"DATABASE_URI"`
	SessionSecret       string        `env:"SESSION_SECRET"`
	SessionTTL          time.Duration `env:"SESSION_TTL, default=1h"`
	SessionCookieSecure bool          `env:"SESSION_COOKIE_SECURE, default=false"`
	CombinationMin      int           `env:"COMBINATION_MIN, default=1"`
	CombinationMax      int           `env:"COMBINATION_MAX, default=10"`
	RedisAddress        string        `env:"REDIS_ADDR"`
	CORSAllowedOrigins  []string      `env:"CORS_ALLOWED_ORIGINS, default=*"`
}

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using default values")
	}

	var env environment
	if err := envconfig.Process(context.Background(), &env); err != nil {
		log.Fatalf("Invalid configuration: %s", err)
	}

	LogLevel = env.LogLevel
	ServerRunAddress = env.ServerRunAddress
	DatabaseURI = env.DatabaseURI
	if DatabaseURI == "" {
		DatabaseURI = "host=db user=postgres password=password dbname=market sslmode=disable"
	}
	SessionSecret = env.SessionSecret
	SessionTTL = env.SessionTTL
	SessionCookieSecure = env.SessionCookieSecure
	CombinationMin = env.CombinationMin
	CombinationMax = env.CombinationMax
	RedisAddress = env.RedisAddress
	CORSAllowedOrigins = env.CORSAllowedOrigins
}
