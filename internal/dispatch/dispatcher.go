// Package dispatch owns the scheduling loop: on every tick it fires
// each due binding into the worker pool without letting one slow job
// hold up the rest.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"webcron/internal/domain"
	"webcron/internal/schedule"
)

// ErrJobBusy is returned by RunNow when the job's concurrency cap is
// already saturated.
var ErrJobBusy = errors.New("job is at its concurrency cap")

// JobStore is the narrow contract to the job storage collaborator.
type JobStore interface {
	Get(ctx context.Context, id string) (domain.Job, error)
	UpdateLastRun(ctx context.Context, id string, at time.Time, status string) error
}

// Executor performs one attempt. It always terminates and never
// returns an error: failures are encoded in the outcome.
type Executor interface {
	Execute(ctx context.Context, req domain.ExecutionRequest) domain.Outcome
}

// Recorder durably appends outcomes. Append must not fail the caller.
type Recorder interface {
	Append(ctx context.Context, o domain.Outcome) string
}

type Config struct {
	// Tick is the scheduling resolution. 0 applies the default 250ms.
	Tick time.Duration
	// Workers bounds concurrent executions across all jobs (default 20).
	Workers int
	// PerJobLimit bounds concurrent attempts of one job id (default 3).
	// Excess firings are dropped, never queued.
	PerJobLimit int
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = 250 * time.Millisecond
	}
	if c.Workers <= 0 {
		c.Workers = 20
	}
	if c.PerJobLimit <= 0 {
		c.PerJobLimit = 3
	}
	return c
}

type Dispatcher struct {
	cfg    Config
	table  *schedule.Table
	jobs   JobStore
	exec   Executor
	rec    Recorder
	sem    chan struct{} // worker pool
	groups *groupStore   // per-job caps

	dropped uint64
}

func New(cfg Config, table *schedule.Table, jobs JobStore, exec Executor, rec Recorder) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		cfg:    cfg,
		table:  table,
		jobs:   jobs,
		exec:   exec,
		rec:    rec,
		sem:    make(chan struct{}, cfg.Workers),
		groups: newGroupStore(cfg.PerJobLimit),
	}
}

// Register binds a job to its cron spec. Rejects malformed specs
// synchronously with schedule.ErrInvalidSpec; a rejected job is never
// scheduled.
func (d *Dispatcher) Register(job domain.Job) error {
	if err := d.table.Put(job.ID, job.CronSpec, time.Now()); err != nil {
		return fmt.Errorf("register %s: %w", job.ID, err)
	}
	log.Info().Str("job_id", job.ID).Str("cron", job.CronSpec).Msg("job registered")
	return nil
}

// Unregister removes a binding. Unknown job ids are a no-op.
func (d *Dispatcher) Unregister(jobID string) {
	d.table.Remove(jobID)
	d.groups.drop(jobID)
	log.Info().Str("job_id", jobID).Msg("job unregistered")
}

// ListActive returns the registered job ids.
func (d *Dispatcher) ListActive() []string {
	return d.table.Active()
}

// Dropped reports how many firings were dropped at the per-job cap.
func (d *Dispatcher) Dropped() uint64 {
	return atomic.LoadUint64(&d.dropped)
}

// RunNow executes a job immediately, bypassing the clock but not the
// per-job concurrency cap: an immediate run is rejected with ErrJobBusy
// when scheduled firings already saturate the cap.
func (d *Dispatcher) RunNow(ctx context.Context, jobID string) (domain.Outcome, error) {
	job, err := d.jobs.Get(ctx, jobID)
	if err != nil {
		return domain.Outcome{}, err
	}
	group := d.groups.get(jobID)
	if !group.tryAcquire() {
		return domain.Outcome{}, ErrJobBusy
	}
	defer group.release()

	outcome := d.exec.Execute(ctx, domain.NewExecutionRequest(job))
	d.record(ctx, outcome)
	return outcome, nil
}

// Run drives the scheduling loop until the context is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Tick)
	defer ticker.Stop()

	log.Info().
		Dur("tick", d.cfg.Tick).
		Int("workers", d.cfg.Workers).
		Int("per_job_limit", d.cfg.PerJobLimit).
		Msg("dispatcher started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("dispatcher stopped")
			return
		case now := <-ticker.C:
			d.tick(ctx, now)
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context, now time.Time) {
	for _, jobID := range d.table.Due(now) {
		select {
		case d.sem <- struct{}{}:
		default:
			// Pool saturated: leave the binding due and try again
			// next tick. Missed ticks are not back-filled.
			log.Debug().Str("job_id", jobID).Msg("worker pool saturated, deferring firing")
			return
		}

		group := d.groups.get(jobID)
		if !group.tryAcquire() {
			<-d.sem
			atomic.AddUint64(&d.dropped, 1)
			d.table.Advance(jobID, now)
			log.Warn().
				Str("job_id", jobID).
				Int("limit", d.cfg.PerJobLimit).
				Uint64("dropped_total", atomic.LoadUint64(&d.dropped)).
				Msg("firing dropped: per-job concurrency cap")
			continue
		}

		d.table.Advance(jobID, now)
		go func(jobID string) {
			defer func() {
				group.release()
				<-d.sem
			}()
			d.fire(ctx, jobID)
		}(jobID)
	}
}

// fire snapshots the job and runs one attempt. Errors never escape:
// a failed attempt is an outcome, and a missing job only logs.
func (d *Dispatcher) fire(ctx context.Context, jobID string) {
	job, err := d.jobs.Get(ctx, jobID)
	if err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("job not found at fire time")
		return
	}
	if !job.Active {
		log.Debug().Str("job_id", jobID).Msg("job inactive at fire time, skipping")
		return
	}
	outcome := d.exec.Execute(ctx, domain.NewExecutionRequest(job))
	d.record(ctx, outcome)
}

func (d *Dispatcher) record(ctx context.Context, o domain.Outcome) {
	d.rec.Append(ctx, o)
	status := "failed"
	if o.Success {
		status = "success"
	}
	if err := d.jobs.UpdateLastRun(ctx, o.JobID, o.StartedAt, status); err != nil {
		log.Error().Err(err).Str("job_id", o.JobID).Msg("update last run")
	}
}
