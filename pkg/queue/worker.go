package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/campaignkit/outreach/pkg/logger"
	"github.com/campaignkit/outreach/pkg/metrics"
)

// Handler executes one job attempt. Returning an error signals the queue to
// retry (subject to the job's remaining attempts); returning nil marks the
// job done.
type Handler func(ctx context.Context, payload []byte) error

// WorkerConfig controls the consumption side of a queue.
type WorkerConfig struct {
	// Concurrency is the number of simultaneous jobs. The default of 1
	// preserves the hourly stagger; raising it is safe for correctness but
	// changes pacing.
	Concurrency int
	// PollInterval bounds how long a worker sleeps between checks for due
	// jobs when the ready list is empty.
	PollInterval time.Duration
	// PromoteBatch caps how many due jobs move to the ready list per poll.
	PromoteBatch int
	// RatePerMinute, when positive, throttles job starts across all worker
	// goroutines. Zero disables throttling.
	RatePerMinute int
}

// Worker consumes jobs from a Queue and runs them through a Handler.
type Worker struct {
	queue   *Queue
	handler Handler
	config  WorkerConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
	limiter *rate.Limiter

	wg sync.WaitGroup
}

func NewWorker(q *Queue, handler Handler, config WorkerConfig, logger *logger.Logger) *Worker {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.PromoteBatch <= 0 {
		config.PromoteBatch = 100
	}

	var limiter *rate.Limiter
	if config.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RatePerMinute)), 1)
	}

	return &Worker{
		queue:   q,
		handler: handler,
		config:  config,
		logger:  logger.WithFields(map[string]interface{}{"queue": q.name}),
		metrics: q.metrics,
		limiter: limiter,
	}
}

// Start runs the worker until ctx is cancelled. In-flight jobs finish before
// Start returns; anything left on the ready or processing lists is picked up
// again on the next run (at-least-once semantics).
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("starting queue worker", "concurrency", w.config.Concurrency)

	if moved, err := w.queue.recoverProcessing(ctx); err != nil {
		w.logger.Error(err, "failed to recover in-flight jobs")
	} else if moved > 0 {
		w.logger.Info("requeued jobs stranded by a previous run", "count", moved)
	}

	w.wg.Add(1)
	go w.promoteLoop(ctx)

	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.consumeLoop(ctx)
	}

	w.wg.Wait()
	w.logger.Info("queue worker stopped")
}

func (w *Worker) promoteLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := w.queue.promote(ctx, now, w.config.PromoteBatch); err != nil && ctx.Err() == nil {
				w.logger.Error(err, "failed to promote due jobs")
			}
			w.observeDepth(ctx)
		}
	}
}

func (w *Worker) consumeLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		// The pop parks the job on the processing list so a crash mid-run
		// leaves a copy in Redis for the next start to requeue.
		raw, err := w.queue.client.BRPopLPush(ctx,
			w.queue.readyKey(), w.queue.processingKey(), w.config.PollInterval).Result()
		if err != nil {
			// redis.Nil means the pop timed out with nothing ready.
			if ctx.Err() == nil && !errors.Is(err, redis.Nil) {
				w.logger.Error(err, "failed to pop ready job")
				time.Sleep(w.config.PollInterval)
			}
			continue
		}

		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return
			}
		}

		w.run(ctx, []byte(raw))

		// The job is resolved (done, rescheduled, or buried); clear the
		// processing copy.
		if err := w.queue.client.LRem(ctx, w.queue.processingKey(), 1, raw).Err(); err != nil && ctx.Err() == nil {
			w.logger.Error(err, "failed to clear processed job")
		}
	}
}

// run executes one attempt and applies the retry decision.
func (w *Worker) run(ctx context.Context, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// Undecodable envelope: dead letter the raw bytes rather than loop.
		w.logger.Error(err, "failed to decode job envelope, burying")
		w.metrics.JobsDead.Inc()
		_ = w.queue.client.LPush(ctx, w.queue.deadKey(), raw).Err()
		return
	}

	env.Attempts++

	start := time.Now()
	err := w.handler(ctx, env.Payload)
	w.metrics.JobLatency.Observe(time.Since(start).Seconds())

	if err == nil {
		w.metrics.JobsProcessed.Inc()
		w.logger.Debug("job completed", "job_id", env.ID, "attempt", env.Attempts)
		return
	}

	w.metrics.JobsFailed.Inc()
	env.LastError = err.Error()

	if errors.Is(err, ErrPermanent) {
		w.metrics.JobsDead.Inc()
		w.logger.Error(err, "job failed permanently, burying", "job_id", env.ID)
		if buryErr := w.queue.bury(ctx, &env); buryErr != nil {
			w.logger.Error(buryErr, "failed to bury job", "job_id", env.ID)
		}
		return
	}

	if env.Attempts >= env.MaxAttempts {
		w.metrics.JobsDead.Inc()
		w.logger.Error(err, "job exhausted attempts, burying",
			"job_id", env.ID, "attempts", env.Attempts)
		if buryErr := w.queue.bury(ctx, &env); buryErr != nil {
			w.logger.Error(buryErr, "failed to bury job", "job_id", env.ID)
		}
		return
	}

	delay := backoffFor(&env)
	w.metrics.JobsRetried.Inc()
	w.logger.Warn("job failed, rescheduling",
		"job_id", env.ID, "attempt", env.Attempts, "retry_in", delay.String(), "error", err.Error())
	if rescheduleErr := w.queue.reschedule(ctx, &env, delay); rescheduleErr != nil {
		w.logger.Error(rescheduleErr, "failed to reschedule job", "job_id", env.ID)
	}
}

func (w *Worker) observeDepth(ctx context.Context) {
	stats, err := w.queue.Stats(ctx)
	if err != nil {
		return
	}
	w.metrics.QueueDepth.WithLabelValues("scheduled").Set(float64(stats.Scheduled))
	w.metrics.QueueDepth.WithLabelValues("ready").Set(float64(stats.Ready))
	w.metrics.QueueDepth.WithLabelValues("processing").Set(float64(stats.Processing))
	w.metrics.QueueDepth.WithLabelValues("dead").Set(float64(stats.Dead))
}

// backoffFor computes the delay before the next attempt: the job's base
// backoff doubled for every attempt already spent beyond the first.
func backoffFor(env *envelope) time.Duration {
	base := time.Duration(env.BackoffMS) * time.Millisecond
	if base <= 0 {
		base = DefaultBackoff
	}
	delay := base
	for i := 1; i < env.Attempts; i++ {
		delay *= 2
	}
	return delay
}
