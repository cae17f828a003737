package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds runtime configuration. Every field maps to a PLANTOPS_*
// environment variable; an optional .env file is loaded first so local
// development does not need exported variables.
type Config struct {
	Addr       string        // listen address for the HTTP API
	PGDSN      string        // Postgres DSN; empty selects the in-memory store
	TokenTTL   time.Duration // issued bearer token lifetime
	RateBurst  int           // per-IP rate limit burst
	RatePerSec int           // per-IP sustained requests per second
	MaxBody    int64         // request body cap in bytes
}

// Load reads configuration from the environment. Missing values fall back
// to development defaults; the auth secret is read lazily by the auth
// package and is the only hard requirement at runtime.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:       getString("PLANTOPS_ADDR", ":8080"),
		PGDSN:      os.Getenv("PLANTOPS_PG_DSN"),
		TokenTTL:   getDuration("PLANTOPS_TOKEN_TTL", 24*time.Hour),
		RateBurst:  getInt("PLANTOPS_RATE_BURST", 20),
		RatePerSec: getInt("PLANTOPS_RATE_PER_SEC", 10),
		MaxBody:    int64(getInt("PLANTOPS_MAX_BODY_BYTES", 1<<20)),
	}
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
