package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/ai-prompt-service/internal/bootstrap"
	"github.com/suPer8Hu/ai-prompt-service/internal/chat"
	"github.com/suPer8Hu/ai-prompt-service/internal/config"
	"github.com/suPer8Hu/ai-prompt-service/internal/httpapi"
	"github.com/suPer8Hu/ai-prompt-service/internal/httpapi/handlers"
	"github.com/suPer8Hu/ai-prompt-service/internal/logging"
	"github.com/suPer8Hu/ai-prompt-service/internal/metrics"
	"github.com/suPer8Hu/ai-prompt-service/internal/store/rabbitmq"
	"github.com/suPer8Hu/ai-prompt-service/internal/store/redisstore"
)

func main() {
	cfg := config.Load()

	store, gdb, err := bootstrap.OpenStore(cfg)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if sqlDB, err := gdb.DB(); err == nil {
		defer sqlDB.Close()
	}

	m := metrics.NewProm(cfg.MetricsNamespace)
	svc := chat.NewService(store, bootstrap.Registry(cfg), bootstrap.DefaultModels(cfg), m)

	// redis is optional: without it the sweep runs unguarded
	var locker chat.Locker
	var redisPing handlers.Pinger
	if cfg.RedisAddr != "" {
		rds, err := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logging.Warn("api", "redis unavailable, purge lock disabled", "addr", cfg.RedisAddr, "err", err)
		} else {
			defer rds.Close()
			locker, redisPing = rds, rds
		}
	}

	// rabbitMQ is optional: without it async sends answer 503
	var queue handlers.JobQueue
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			logging.Warn("api", "rabbitmq unavailable, async messages disabled", "err", err)
		} else {
			defer pub.Close()
			queue = pub
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper := chat.NewSweeper(store, cfg.SessionExpiry, cfg.PurgeInterval, locker, m)
	go sweeper.Run(ctx)

	h := handlers.NewHandler(svc, store, queue, redisPing)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h, m, metrics.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info("api", "listening", "addr", cfg.HTTPAddr, "db", cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	logging.Info("api", "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("api", "shutdown", "err", err)
	}
}
