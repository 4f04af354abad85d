// Command authd serves the account and session endpoints of the secure
// storage application over HTTP.
//
// Environment:
//
//	DATABASE_URL      postgres DSN (required)
//	JWT_SECRET        HS256 signing secret, unless AUTHCORE_CONFIG names a key file
//	AUTHCORE_CONFIG   optional TOML file overlaid on the defaults
//	REDIS_ADDR        optional; shares lockout counters and MFA challenges
//	ADDR, ENVIRONMENT, LOG_LEVEL, LOG_SQL, CORS_ORIGINS, COOKIE_SECURE,
//	PUBLIC_RATE_LIMIT, SHUTDOWN_TIMEOUT
//
// A .env file in the working directory is read first when present.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/securestorage/authcore"
	"github.com/securestorage/authcore/store/gormstore"
)

func main() {
	_ = godotenv.Load()

	cfg := loadConfig()
	logger := newLogger(loggerConfig{
		ServiceName: "authd",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("authd stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config, logger *slog.Logger) error {
	engineCfg, err := cfg.engineConfig()
	if err != nil {
		return err
	}

	db, err := gormstore.OpenPostgres(gormstore.Config{DSN: cfg.DatabaseURL, LogSQL: cfg.LogSQL})
	if err != nil {
		return err
	}
	if err := gormstore.Migrate(db); err != nil {
		return err
	}
	st := gormstore.New(db)

	// No mail transport ships with authd; confirmation keys go to the log.
	builder := authcore.New().
		WithConfig(engineCfg).
		WithUserDirectory(st.Users()).
		WithCredentialStore(st.Credentials()).
		WithConfirmationStore(st.Confirmations()).
		WithNotifier(authcore.LogNotifier{Logger: logger}).
		WithLogger(logger)

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			return err
		}
		builder = builder.WithRedis(rdb)
		logger.Info("redis enabled", "addr", cfg.RedisAddr)
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(engine, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("authd listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
