// Package app wires the gateway together: config, counter store, identity
// resolver, route table, and the HTTP server lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/shopcore/gateway/internal/config"
	"github.com/shopcore/gateway/internal/http/middleware"
	"github.com/shopcore/gateway/internal/identity"
	"github.com/shopcore/gateway/internal/proxy"
	"github.com/shopcore/gateway/internal/ratelimit"
	"github.com/shopcore/gateway/internal/routes"
)

// shutdownGrace bounds how long in-flight requests get to finish.
const shutdownGrace = 15 * time.Second

// NewRedisClient builds the counter store client from config. A full
// connection URL wins over discrete host settings.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.URL != "" {
		options, errParse := redis.ParseURL(cfg.URL)
		if errParse != nil {
			return nil, fmt.Errorf("parse redis url: %w", errParse)
		}
		return redis.NewClient(options), nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), nil
}

// NewEngine assembles the gin engine with the full middleware chain and
// route table. Exposed separately from RunServer so tests can drive the
// engine directly.
func NewEngine(cfg *config.Config, store *ratelimit.Store) (*gin.Engine, error) {
	enforcer := ratelimit.NewEnforcer(store, cfg.RateLimit, time.Now)
	directory := identity.NewDirectory(cfg.Services.Auth, cfg.Auth.VerifyTimeout())
	resolver := identity.NewResolver(cfg.Auth, directory)
	forwarder, errForwarder := proxy.NewForwarder(cfg.Services)
	if errForwarder != nil {
		return nil, errForwarder
	}

	engine := gin.New()
	engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.RequestLogger(),
		middleware.GlobalQuota(enforcer),
	)

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"rate_limit": enforcer.StoreState().String(),
		})
	})
	engine.GET("/readyz", func(c *gin.Context) {
		// A degraded counter store does not gate readiness: the gateway
		// serves with the enforcer failing open.
		c.JSON(http.StatusOK, gin.H{
			"status":     "ready",
			"rate_limit": enforcer.StoreState().String(),
		})
	})

	routes.Register(engine, routes.Table(), resolver, enforcer, forwarder)
	return engine, nil
}

// RunServer boots the gateway and blocks until the context is cancelled or
// the listener fails.
func RunServer(ctx context.Context, cfg *config.Config) error {
	client, errClient := NewRedisClient(cfg.Redis)
	if errClient != nil {
		return errClient
	}
	defer func() { _ = client.Close() }()

	store := ratelimit.NewStore(client, cfg.Redis.Prefix)
	// Readiness probe runs in the background; the server never waits on
	// Redis to start serving.
	go store.Probe(ctx)

	engine, errEngine := NewEngine(cfg, store)
	if errEngine != nil {
		return errEngine
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("gateway listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case errServe := <-errCh:
		if errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			return errServe
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
		return errShutdown
	}
	return nil
}
