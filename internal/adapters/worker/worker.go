// Package worker pulls claimed jobs from the ledger and drives them through
// the execution supervisor.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Valdrix-AI/valdrix-sub000/config"
	"github.com/Valdrix-AI/valdrix-sub000/internal/core"
	"github.com/Valdrix-AI/valdrix-sub000/internal/domain/model"
	"github.com/Valdrix-AI/valdrix-sub000/internal/service"
)

// RunnerOptions configures the worker runner.
type RunnerOptions struct {
	Repo       core.JobRepository         // Required
	Supervisor *service.SupervisorService // Required
	Handlers   []core.Handler             // Required: one per job type served
	Config     config.WorkerConfig
	Logger     *slog.Logger // Optional
}

// Runner claims batches of due jobs and executes them concurrently. A
// fatal handler error stops the runner; the process supervisor restarts it
// and pending work survives in the ledger.
type Runner struct {
	repo       core.JobRepository
	supervisor *service.SupervisorService
	handlers   map[model.JobType]core.Handler
	types      []model.JobType
	cfg        config.WorkerConfig
	logger     *slog.Logger
}

// NewRunner constructs a Runner serving exactly the job types its handlers
// cover.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Supervisor == nil {
		return nil, errors.New("SupervisorService is required")
	}
	if len(opts.Handlers) == 0 {
		return nil, errors.New("at least one handler is required")
	}
	opts.Config.Sanitize()

	handlers := make(map[model.JobType]core.Handler, len(opts.Handlers))
	types := make([]model.JobType, 0, len(opts.Handlers))
	for _, h := range opts.Handlers {
		t := h.Type()
		if !t.Valid() {
			return nil, fmt.Errorf("handler reports invalid job type %q", t)
		}
		if _, dup := handlers[t]; dup {
			return nil, fmt.Errorf("duplicate handler for job type %s", t)
		}
		handlers[t] = h
		types = append(types, t)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		repo:       opts.Repo,
		supervisor: opts.Supervisor,
		handlers:   handlers,
		types:      types,
		cfg:        opts.Config,
		logger:     logger.With("component", "worker"),
	}, nil
}

// Run processes jobs until the context is cancelled or a fatal error
// escapes a handler. Returns nil on graceful shutdown.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting worker",
		"types", r.types,
		"concurrency", r.cfg.Concurrency,
		"batch_size", r.cfg.BatchSize,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wakeup := r.subscribe(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency + 1) // claim loop plus executors

	g.Go(func() error {
		return r.claimLoop(gctx, g, wakeup)
	})

	err := g.Wait()
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// claimLoop pulls batches and fans jobs out to the group. When the ledger
// is drained it sleeps until a notification or the poll interval, whichever
// comes first. Notifications are an optimization only; the poll guarantees
// progress if the listen connection drops.
func (r *Runner) claimLoop(ctx context.Context, g *errgroup.Group, wakeup <-chan struct{}) error {
	for ctx.Err() == nil {
		jobs, err := r.repo.ClaimBatch(ctx, r.types, r.cfg.BatchSize)
		if err != nil {
			if isContextErr(err) {
				return nil
			}
			return fmt.Errorf("claim batch: %w", err)
		}

		for _, job := range jobs {
			g.Go(func() error {
				return r.execute(ctx, job)
			})
		}

		if len(jobs) == r.cfg.BatchSize {
			continue // ledger likely has more due work
		}
		if !r.waitForWork(ctx, wakeup) {
			return nil
		}
	}
	return nil
}

func (r *Runner) execute(ctx context.Context, job *model.Job) error {
	handler := r.handlers[job.Type]
	if err := r.supervisor.Execute(ctx, job, handler); err != nil {
		if isContextErr(err) {
			return nil
		}
		r.logger.ErrorContext(ctx, "job execution escalated",
			"job_id", job.ID,
			"job_type", job.Type,
			"error", err,
		)
		return err
	}
	return nil
}

func (r *Runner) waitForWork(ctx context.Context, wakeup <-chan struct{}) bool {
	timer := time.NewTimer(r.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-wakeup:
		return true
	case <-timer.C:
		return true
	}
}

// subscribe runs the LISTEN loop in the background and coalesces
// notifications onto a buffered channel.
func (r *Runner) subscribe(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)
	go func() {
		for ctx.Err() == nil {
			err := r.repo.WaitForNotification(ctx, r.types)
			if err != nil {
				if isContextErr(err) {
					return
				}
				r.logger.WarnContext(ctx, "notification wait failed, reconnecting", "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}()
	return ch
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
