package scheduler

import (
	"context"
	"errors"
	"reflect"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leadflowhq/leadstream/internal/telemetry"
)

// ErrJobNotFound is returned when removing an unknown job id.
var ErrJobNotFound = errors.New("scheduled job not found")

// Clock supplies the current time so trigger math is testable.
type Clock interface {
	Now() time.Time
}

// JobFunc is the body of a scheduled job.
type JobFunc func(ctx context.Context) error

// JobSpec describes one recurring job.
type JobSpec struct {
	ID      string
	Name    string
	Trigger Trigger
	Run     JobFunc
}

type job struct {
	spec    JobSpec
	nextRun time.Time
	cancel  context.CancelFunc
}

// Runner owns a set of recurring jobs and their goroutines. Jobs added while
// the runner is started begin firing immediately; jobs added while stopped
// wait for Start.
type Runner struct {
	mu      sync.Mutex
	jobs    map[string]*job
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	clock   Clock
	logger  *zap.Logger
}

// NewRunner constructs a stopped Runner.
func NewRunner(clock Clock, logger *zap.Logger) *Runner {
	if clock == nil {
		clock = wallClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		jobs:   make(map[string]*job),
		clock:  clock,
		logger: logger,
	}
}

// AddJob registers spec, replacing any existing job with the same id.
func (r *Runner) AddJob(spec JobSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.jobs[spec.ID]; ok && existing.cancel != nil {
		existing.cancel()
	}
	j := &job{spec: spec, nextRun: spec.Trigger.Next(r.clock.Now())}
	r.jobs[spec.ID] = j
	if r.running {
		r.startJobLocked(j)
	}
	r.logger.Info("scheduled job registered",
		zap.String("job_id", spec.ID),
		zap.String("trigger", spec.Trigger.String()),
	)
}

// RemoveJob unregisters a job and stops its goroutine.
func (r *Runner) RemoveJob(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if j.cancel != nil {
		j.cancel()
	}
	delete(r.jobs, id)
	r.logger.Info("scheduled job removed", zap.String("job_id", id))
	return nil
}

// Start begins firing triggers. Calling Start on a running Runner is a no-op.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.running = true
	for _, j := range r.jobs {
		r.startJobLocked(j)
	}
	r.logger.Info("scheduler started", zap.Int("jobs", len(r.jobs)))
}

// Stop cancels all job goroutines and waits for them to exit. Calling Stop on
// a stopped Runner is a no-op.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.cancel()
	for _, j := range r.jobs {
		j.cancel = nil
	}
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("scheduler stopped")
}

// Running reports whether the runner is started.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Runner) startJobLocked(j *job) {
	ctx, cancel := context.WithCancel(r.ctx)
	j.cancel = cancel
	r.wg.Add(1)
	go r.runJob(ctx, j)
}

func (r *Runner) runJob(ctx context.Context, j *job) {
	defer r.wg.Done()
	for {
		r.mu.Lock()
		next := j.spec.Trigger.Next(r.clock.Now())
		j.nextRun = next
		r.mu.Unlock()

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		r.fire(ctx, j.spec)
	}
}

func (r *Runner) fire(ctx context.Context, spec JobSpec) {
	defer func() {
		if rec := recover(); rec != nil {
			telemetry.ObserveSchedulerRun(spec.ID, "panic")
			r.logger.Error("scheduled job panicked",
				zap.String("job_id", spec.ID),
				zap.Any("panic", rec),
			)
		}
	}()
	start := r.clock.Now()
	if err := spec.Run(ctx); err != nil {
		telemetry.ObserveSchedulerRun(spec.ID, "error")
		r.logger.Warn("scheduled job failed",
			zap.String("job_id", spec.ID),
			zap.Duration("elapsed", r.clock.Now().Sub(start)),
			zap.Error(err),
		)
		return
	}
	telemetry.ObserveSchedulerRun(spec.ID, "ok")
	r.logger.Debug("scheduled job completed",
		zap.String("job_id", spec.ID),
		zap.Duration("elapsed", r.clock.Now().Sub(start)),
	)
}

// JobStatus is the operator-facing view of one registered job.
type JobStatus struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	NextRun  time.Time `json:"next_run"`
	Trigger  string    `json:"trigger"`
	FuncName string    `json:"func_name"`
}

// Status summarizes the runner for the status endpoint.
type Status struct {
	Running   bool        `json:"scheduler_running"`
	TotalJobs int         `json:"total_jobs"`
	Jobs      []JobStatus `json:"jobs"`
}

// Snapshot returns the current runner state.
func (r *Runner) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobs := make([]JobStatus, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, JobStatus{
			ID:       j.spec.ID,
			Name:     j.spec.Name,
			NextRun:  j.nextRun,
			Trigger:  j.spec.Trigger.String(),
			FuncName: funcName(j.spec.Run),
		})
	}
	return Status{Running: r.running, TotalJobs: len(jobs), Jobs: jobs}
}

// Health states reported by the runner.
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// Health grades the runner: healthy when running with jobs, degraded when
// running empty, unhealthy when stopped.
func (r *Runner) Health() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.running && len(r.jobs) > 0:
		return HealthHealthy
	case r.running:
		return HealthDegraded
	default:
		return HealthUnhealthy
	}
}

func funcName(fn JobFunc) string {
	if fn == nil {
		return ""
	}
	return runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name()
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }
