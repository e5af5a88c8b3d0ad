// Copyright 2025 Azure Formation Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/openhackathon/azureformation/internal/tracing"
)

const (
	// queueDepth bounds each per-key queue. A submission to a full queue is
	// handed to a goroutine that waits for room, and the log records it.
	queueDepth = 64

	tracerName = "github.com/openhackathon/azureformation/internal/job"
)

// Runner executes jobs in independent units of execution. Jobs sharing a
// non-zero QueueKey are served by a dedicated FIFO worker; all other jobs
// run immediately in their own goroutine. A unit may suspend for minutes
// inside a waiter without blocking unrelated units.
type Runner struct {
	registry *Registry
	logger   *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	queues  map[QueueKey]chan *Job
	workers sync.WaitGroup

	jobsCount       *prometheus.CounterVec
	jobsFailedCount *prometheus.CounterVec
	jobsDuration    *prometheus.HistogramVec
	queuesGauge     prometheus.Gauge
}

// NewRunner builds a Runner over a handler registry.
func NewRunner(registry *Registry, logger *slog.Logger, registerer prometheus.Registerer) *Runner {
	return &Runner{
		registry: registry,
		logger:   logger,
		queues:   map[QueueKey]chan *Job{},

		jobsCount: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_jobs_total",
				Help: "Total count of executed jobs.",
			},
			[]string{"handler"},
		),
		jobsFailedCount: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_failed_jobs_total",
				Help: "Total count of failed jobs.",
			},
			[]string{"handler"},
		),
		jobsDuration: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_job_duration_seconds",
				Help:    "Histogram of job latencies.",
				Buckets: []float64{.5, 1, 5, 30, 60, 300, 1800},
			},
			[]string{"handler"},
		),
		queuesGauge: promauto.With(registerer).NewGauge(
			prometheus.GaugeOpts{
				Name: "orchestrator_deployment_queues",
				Help: "Number of live per-deployment FIFO queues.",
			},
		),
	}
}

// Start binds the runner to its base context. Jobs submitted before Start
// are rejected.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctx = ctx
}

// Join waits for every in-flight unit to finish. Call after the base
// context is canceled.
func (r *Runner) Join() {
	r.workers.Wait()
}

// Submit dispatches a job. Jobs with a zero key run immediately in a fresh
// goroutine; keyed jobs join their key's FIFO queue, creating the queue and
// its worker on first use.
func (r *Runner) Submit(job *Job) error {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()
	if ctx == nil {
		return fmt.Errorf("runner not started")
	}

	if job.Key.IsZero() {
		r.workers.Add(1)
		go func() {
			defer r.workers.Done()
			r.execute(ctx, job)
		}()
		return nil
	}

	queue := r.queueFor(ctx, job.Key)
	select {
	case queue <- job:
	default:
		// The queue is full. A worker may be submitting a follow-up job to
		// its own queue, so blocking here could deadlock; hand the enqueue
		// to a goroutine and log that the pool is backed up.
		r.logger.Warn(fmt.Sprintf("Queue for %s is full, enqueueing asynchronously", job.Key))
		r.workers.Add(1)
		go func() {
			defer r.workers.Done()
			select {
			case queue <- job:
			case <-ctx.Done():
			}
		}()
	}
	return nil
}

// queueFor returns the FIFO queue for a key, starting its worker on first use.
func (r *Runner) queueFor(ctx context.Context, key QueueKey) chan *Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	queue, ok := r.queues[key]
	if ok {
		return queue
	}

	queue = make(chan *Job, queueDepth)
	r.queues[key] = queue
	r.queuesGauge.Inc()

	r.workers.Add(1)
	go func() {
		defer r.workers.Done()
		for {
			select {
			case job := <-queue:
				r.execute(ctx, job)
			case <-ctx.Done():
				return
			}
		}
	}()

	return queue
}

// execute runs one job and then its continuation chain, sequentially, in
// the calling goroutine. The chain keeps its queue slot until it ends.
func (r *Runner) execute(ctx context.Context, job *Job) {
	for job != nil {
		err := r.executeOne(ctx, job)
		if err != nil {
			job = job.OnFailure
		} else {
			job = job.OnSuccess
		}
	}
}

func (r *Runner) executeOne(ctx context.Context, job *Job) error {
	ctx, span := startRootSpan(ctx, "executeJob")
	defer span.End()
	span.SetAttributes(
		tracing.JobIDKey.String(job.ID),
		tracing.JobHandlerKey.String(string(job.Handler)),
		tracing.QueueKeyKey.String(job.Key.String()),
	)

	startTime := time.Now()
	r.jobsCount.WithLabelValues(string(job.Handler)).Inc()
	defer func() {
		r.jobsDuration.WithLabelValues(string(job.Handler)).Observe(time.Since(startTime).Seconds())
	}()

	logger := r.logger.With("job_id", job.ID, "handler", job.Handler)

	fn, err := r.registry.Resolve(job.Handler)
	if err != nil {
		r.jobsFailedCount.WithLabelValues(string(job.Handler)).Inc()
		span.RecordError(err)
		logger.Error(err.Error())
		return err
	}

	err = fn(ctx, job.Args)
	if err != nil {
		r.jobsFailedCount.WithLabelValues(string(job.Handler)).Inc()
		span.RecordError(err)
		logger.Error(fmt.Sprintf("Job failed: %v", err))
		return err
	}

	logger.Debug("Job completed")
	return nil
}

// startRootSpan initiates a new parent trace for a job execution.
func startRootSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.GetTracerProvider().
		Tracer(tracerName).
		Start(
			ctx,
			name,
			trace.WithNewRoot(),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
}
