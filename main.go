package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/ferdipret/cred-task/api"
	"github.com/ferdipret/cred-task/board"
	"github.com/ferdipret/cred-task/domain"
	"github.com/ferdipret/cred-task/storage"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := loadConfig(os.LookupEnv)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rc *redis.Client
	if cfg.Redis.ConnectionString != "" {
		opts, err := redisOptions(cfg.Redis.ConnectionString)
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		rc = redis.NewClient(opts)
		defer rc.Close()
	}
	var deduper *api.RedisDeduper
	if rc != nil {
		deduper = api.NewRedisDeduper(rc, cfg.Redis.DeduperTTL)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := api.NewMetrics(reg)

	opts := []board.Option{board.WithLogger(logger), board.WithObserver(metrics.ObserveOperation)}
	var (
		store     *storage.Storage
		persister *storage.Persister
	)
	if cfg.Storage.ConnectionString != "" {
		store, err = storage.New(cfg.Storage.ConnectionString, cfg.Storage.SnapshotTable, cfg.Storage.CommandQueue)
		if err != nil {
			logger.Fatalf("storage: %v", err)
		}
		if cfg.Storage.EnsureResources {
			if err := store.EnsureResources(ctx); err != nil {
				logger.Fatalf("storage init: %v", err)
			}
		}
		var snapshots storage.SnapshotStore = store
		if rc != nil {
			snapshots = storage.NewCache(store, rc, cfg.Redis.SnapshotTTL)
		}
		persister = storage.NewPersister(snapshots, cfg.BoardID, logger)
		opts = append(opts, board.WithSnapshot(persister.Load(ctx)))
	} else {
		logger.Warn("STORAGE_CONNECTION_STRING not set; board state is kept in memory only")
	}
	engine := board.New(opts...)

	var (
		updates  <-chan domain.Snapshot
		consumer *storage.Consumer
	)
	if persister != nil {
		var unsubscribe func()
		updates, unsubscribe = engine.Subscribe()
		defer unsubscribe()
	}
	if store != nil && store.HasCommandQueue() {
		var queueDeduper storage.Deduper
		if deduper != nil {
			queueDeduper = deduper
		}
		consumer = storage.NewConsumer(store, engine, queueDeduper, cfg.BoardID, logger)
	}
	workers := storage.StartWorkers(ctx, consumer, persister, updates)

	auth, err := newAuthenticator(cfg.Auth)
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}
	var httpDeduper api.Deduper
	if deduper != nil {
		httpDeduper = deduper
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	api.Instrument(e, reg)
	api.Register(e, engine, auth, httpDeduper, metrics, logger)

	go func() {
		logger.WithFields(log.Fields{"addr": cfg.ListenAddr, "board": cfg.BoardID}).Info("task board listening")
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown")
	}
	workers.Stop()
}

func newLogger(cfg Config) *log.Logger {
	logger := log.New()
	if strings.EqualFold(cfg.LogFormat, "json") {
		logger.SetFormatter(&log.JSONFormatter{})
	}
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

// newAuthenticator returns nil when no auth is configured, leaving the API
// open for local use.
func newAuthenticator(cfg AuthConfig) (api.Authenticator, error) {
	switch {
	case cfg.SharedSecret != "":
		return api.NewSharedSecretAuth([]byte(cfg.SharedSecret), cfg.Audience, issuerFor(cfg.Domain)), nil
	case cfg.Domain != "":
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{RefreshInterval: time.Hour})
		if err != nil {
			return nil, fmt.Errorf("jwks: %w", err)
		}
		return api.NewAuth(jwks, cfg.Audience, issuerFor(cfg.Domain)), nil
	}
	return nil, nil
}

func issuerFor(domain string) string {
	if domain == "" {
		return ""
	}
	return "https://" + domain + "/"
}
