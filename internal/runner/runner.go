// Package runner is the orchestration boundary around the pipeline: it
// evaluates documents, persists the runs and fans batches out concurrently.
// Writes for one target are serialized so superseding stays consistent.
package runner

import (
	"context"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/credit-core/internal/model"
	"github.com/sells-group/credit-core/internal/pipeline"
	"github.com/sells-group/credit-core/internal/resilience"
	"github.com/sells-group/credit-core/internal/store"
)

// DefaultConcurrency bounds ProcessBatch when no limit is given.
const DefaultConcurrency = 4

// Job is one document to evaluate for a review target.
type Job struct {
	Target string
	Input  pipeline.Input
}

// Report is the outcome of a processed job.
type Report struct {
	Run    *model.Run
	Result *pipeline.Result
}

// Runner evaluates jobs and stores their results.
type Runner struct {
	pipeline *pipeline.Pipeline
	store    store.Store
	locks    *KeyedMutex
	retry    resilience.RetryConfig
}

// Option configures a Runner.
type Option func(*Runner)

// WithRetry sets the retry policy for store writes.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(r *Runner) { r.retry = cfg }
}

// New creates a Runner. The store may be nil, in which case results are
// evaluated but not persisted.
func New(p *pipeline.Pipeline, st store.Store, opts ...Option) *Runner {
	r := &Runner{
		pipeline: p,
		store:    st,
		locks:    NewKeyedMutex(),
		retry:    resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.retry.OnRetry == nil {
		r.retry.OnRetry = resilience.RetryLogger("store", "save_run")
	}
	return r
}

// Process evaluates one job and saves it as the target's current run. The
// pipeline run and the store write hold the target's lock together. A broken
// provenance bundle does not stop the save: Process returns the saved report
// together with the provenance error.
func (r *Runner) Process(ctx context.Context, job Job) (*Report, error) {
	if job.Target == "" {
		return nil, eris.New("runner: target is required")
	}
	unlock, err := r.locks.Lock(ctx, job.Target)
	if err != nil {
		return nil, eris.Wrapf(err, "runner: lock target %s", job.Target)
	}
	defer unlock()

	res, provErr := r.pipeline.Run(job.Input)
	if res == nil {
		return nil, provErr
	}
	rep := &Report{Result: res}
	if r.store == nil {
		return rep, provErr
	}

	in := store.RunInput{
		Target:     job.Target,
		DocumentID: res.DocumentID,
		Versions:   res.Versions,
		Facts:      res.Facts,
		Metrics:    res.Metrics,
		Rating:     res.Rating,
	}
	run, err := resilience.DoVal(ctx, r.retry, func(ctx context.Context) (*model.Run, error) {
		return r.store.SaveRun(ctx, in)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "runner: save run for %s", job.Target)
	}
	rep.Run = run
	return rep, provErr
}

// Failure is a job that could not be processed.
type Failure struct {
	Index      int                  `json:"index"`
	Target     string               `json:"target"`
	DocumentID string               `json:"document_id"`
	Kind       resilience.ErrorKind `json:"kind"`
	Err        error                `json:"-"`
	Message    string               `json:"error"`
}

// BatchReport summarizes a batch. Reports is indexed in job order. A failed
// job's slot is nil unless its run was saved with a broken provenance
// bundle. Failures are listed in job order.
type BatchReport struct {
	Reports   []*Report
	Failures  []Failure
	Succeeded int64
	Failed    int64
}

// ProcessBatch runs jobs with at most concurrency in flight. Individual
// failures are logged, classified and counted; they do not stop the batch.
func (r *Runner) ProcessBatch(ctx context.Context, jobs []Job, concurrency int) (*BatchReport, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	rep := &BatchReport{Reports: make([]*Report, len(jobs))}
	if len(jobs) == 0 {
		zap.L().Info("runner: no jobs to process")
		return rep, nil
	}

	zap.L().Info("runner: processing batch",
		zap.Int("jobs", len(jobs)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed atomic.Int64
	failures := make([]*Failure, len(jobs))

	for i, job := range jobs {
		g.Go(func() error {
			log := zap.L().With(
				zap.String("target", job.Target),
				zap.String("document_id", job.Input.DocumentID),
			)

			out, err := r.Process(gctx, job)
			if err != nil {
				failed.Add(1)
				kind := resilience.Classify(err)
				log.Error("runner: job failed", zap.String("kind", string(kind)), zap.Error(err))
				failures[i] = &Failure{
					Index:      i,
					Target:     job.Target,
					DocumentID: job.Input.DocumentID,
					Kind:       kind,
					Err:        err,
					Message:    err.Error(),
				}
				rep.Reports[i] = out
				return nil
			}

			succeeded.Add(1)
			fields := []zap.Field{zap.Int("facts", len(out.Result.Facts)), zap.Int("metrics", len(out.Result.Metrics))}
			if out.Result.Rating != nil {
				fields = append(fields, zap.String("grade", out.Result.Rating.Grade))
			}
			log.Info("runner: job complete", fields...)
			rep.Reports[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "runner: batch")
	}

	for _, f := range failures {
		if f != nil {
			rep.Failures = append(rep.Failures, *f)
		}
	}
	rep.Succeeded = succeeded.Load()
	rep.Failed = failed.Load()

	zap.L().Info("runner: batch complete",
		zap.Int64("succeeded", rep.Succeeded),
		zap.Int64("failed", rep.Failed),
	)
	return rep, nil
}
