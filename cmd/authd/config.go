package main

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/securestorage/authcore"
)

type config struct {
	Addr            string
	Environment     string
	LogLevel        string
	ConfigFile      string
	DatabaseURL     string
	LogSQL          bool
	RedisAddr       string
	RedisPassword   string
	CORSOrigins     []string
	PublicRateLimit int
	ShutdownTimeout time.Duration
}

func loadConfig() config {
	return config{
		Addr:            getenv("ADDR", ":8080"),
		Environment:     getenv("ENVIRONMENT", "dev"),
		LogLevel:        os.Getenv("LOG_LEVEL"),
		ConfigFile:      os.Getenv("AUTHCORE_CONFIG"),
		DatabaseURL:     must("DATABASE_URL"),
		LogSQL:          getbool("LOG_SQL", false),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		CORSOrigins:     originsIfSet(strings.Split(getenv("CORS_ORIGINS", ""), ",")),
		PublicRateLimit: getint("PUBLIC_RATE_LIMIT", 20),
		ShutdownTimeout: getdur("SHUTDOWN_TIMEOUT", 15*time.Second),
	}
}

// engineConfig loads the TOML file when one is configured and fills the
// signing secret from the environment when the file does not name a key.
func (c config) engineConfig() (authcore.Config, error) {
	cfg := authcore.DefaultConfig()
	if c.ConfigFile != "" {
		loaded, err := authcore.LoadConfigFile(c.ConfigFile)
		if err != nil {
			return authcore.Config{}, err
		}
		cfg = loaded
	}
	if len(cfg.JWT.PrivateKey) == 0 {
		cfg.JWT.PrivateKey = []byte(must("JWT_SECRET"))
	}
	cfg.Cookie.Secure = getbool("COOKIE_SECURE", cfg.Cookie.Secure)
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg, cfg.Validate()
}

func originsIfSet(in []string) []string {
	out := make([]string, 0, len(in))
	for _, o := range in {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		slog.Warn("invalid integer, using default", "key", k, "value", v, "default", def)
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		slog.Warn("invalid duration, using default", "key", k, "value", v, "default", def)
	}
	return def
}

func must(k string) string {
	v := os.Getenv(k)
	if v == "" {
		slog.Error("missing required env", "key", k)
		os.Exit(1)
	}
	return v
}
