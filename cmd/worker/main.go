package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/ai-prompt-service/internal/bootstrap"
	"github.com/suPer8Hu/ai-prompt-service/internal/chat"
	"github.com/suPer8Hu/ai-prompt-service/internal/config"
	"github.com/suPer8Hu/ai-prompt-service/internal/logging"
	"github.com/suPer8Hu/ai-prompt-service/internal/metrics"
	"github.com/suPer8Hu/ai-prompt-service/internal/store/rabbitmq"
)

func main() {
	cfg := config.Load()
	if cfg.RabbitURL == "" {
		log.Fatalf("RABBIT_URL is required for the worker")
	}

	store, gdb, err := bootstrap.OpenStore(cfg)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if sqlDB, err := gdb.DB(); err == nil {
		defer sqlDB.Close()
	}
	svc := chat.NewService(store, bootstrap.Registry(cfg), bootstrap.DefaultModels(cfg), metrics.Noop{})

	//  strict concurrency control
	concurrency := cfg.WorkerConcurrency

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, concurrency)
	if err != nil {
		log.Fatalf("rabbit: %v", err)
	}
	defer consumer.Close()

	msgs, err := consumer.Deliveries("")
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info("worker", "started", "queue", cfg.RabbitQueue, "concurrency", concurrency)

	// in-flight jobs run to completion after a shutdown signal
	jobCtx := context.WithoutCancel(ctx)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				if ctx.Err() != nil {
					// not started yet: hand it back to the broker
					_ = d.Nack(false, true)
					continue
				}
				handleDelivery(jobCtx, svc, consumer, workerID, d)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			logging.Info("worker", "shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				logging.Error("worker", "delivery channel closed")
				close(jobs)
				wg.Wait()
				os.Exit(1)
			}
			jobs <- d
		}
	}
}

type jobRunner interface {
	CompleteJob(ctx context.Context, jobID string) (*chat.Job, error)
	FailJob(ctx context.Context, id, reason string) error
}

type retrier interface {
	Retry(ctx context.Context, d amqp.Delivery) (bool, error)
}

func handleDelivery(ctx context.Context, svc jobRunner, rq retrier, workerID int, d amqp.Delivery) {
	m, err := rabbitmq.DecodeJobMessage(d.Body)
	if err != nil {
		logging.Warn("worker", "bad message", "worker", workerID, "err", err)
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	job, err := svc.CompleteJob(ctx, m.JobID)
	cost := time.Since(start)
	switch {
	case err == nil:
		logging.Info("worker", "job done", "worker", workerID, "job_id", m.JobID, "status", job.Status, "cost", cost)
	case terminal(err):
		// recorded on the job row; redelivery cannot help
		logging.Warn("worker", "job failed", "worker", workerID, "job_id", m.JobID, "cost", cost, "err", err)
	default:
		retryLater(ctx, svc, rq, workerID, m.JobID, d, err)
		return
	}

	if err := d.Ack(false); err != nil {
		logging.Error("worker", "ack failed", "worker", workerID, "job_id", m.JobID, "err", err)
	}
}

// retryLater parks a transient failure in the retry queue, or fails the job
// and dead-letters the message once its attempts are used up.
func retryLater(ctx context.Context, svc jobRunner, rq retrier, workerID int, jobID string, d amqp.Delivery, cause error) {
	attempt := rabbitmq.Attempt(d)
	retried, err := rq.Retry(ctx, d)
	switch {
	case err != nil:
		logging.Error("worker", "retry publish failed, requeueing", "worker", workerID, "job_id", jobID, "err", err)
		_ = d.Nack(false, true)
	case retried:
		logging.Warn("worker", "job error, retrying", "worker", workerID, "job_id", jobID, "attempt", attempt, "err", cause)
	default:
		logging.Error("worker", "job error, dead-lettering", "worker", workerID, "job_id", jobID, "attempt", attempt, "err", cause)
		if err := svc.FailJob(ctx, jobID, "gave up after "+strconv.Itoa(attempt)+" attempts: "+cause.Error()); err != nil {
			logging.Error("worker", "mark job failed", "worker", workerID, "job_id", jobID, "err", err)
		}
		_ = d.Nack(false, false)
	}
}

func terminal(err error) bool {
	return errors.Is(err, chat.ErrGeneration) ||
		errors.Is(err, chat.ErrNotFound) ||
		errors.Is(err, chat.ErrValidation)
}
