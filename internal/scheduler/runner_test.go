package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunnerFiresIntervalJobs(t *testing.T) {
	t.Parallel()

	r := NewRunner(nil, nil)
	var fired atomic.Int64
	r.AddJob(JobSpec{
		ID:      "tick",
		Name:    "tick",
		Trigger: IntervalTrigger{Every: 10 * time.Millisecond},
		Run: func(context.Context) error {
			fired.Add(1)
			return nil
		},
	})

	r.Start()
	defer r.Stop()

	require.Eventually(t, func() bool {
		return fired.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	t.Parallel()

	r := NewRunner(nil, nil)
	r.AddJob(JobSpec{
		ID:      "noop",
		Name:    "noop",
		Trigger: IntervalTrigger{Every: time.Hour},
		Run:     func(context.Context) error { return nil },
	})

	r.Start()
	r.Start()
	assert.True(t, r.Running())

	r.Stop()
	r.Stop()
	assert.False(t, r.Running())

	// The runner restarts cleanly after a stop.
	r.Start()
	assert.True(t, r.Running())
	r.Stop()
}

func TestRemoveJob(t *testing.T) {
	t.Parallel()

	r := NewRunner(nil, nil)
	r.AddJob(JobSpec{
		ID:      "doomed",
		Name:    "doomed",
		Trigger: IntervalTrigger{Every: time.Hour},
		Run:     func(context.Context) error { return nil },
	})

	require.NoError(t, r.RemoveJob("doomed"))
	require.ErrorIs(t, r.RemoveJob("doomed"), ErrJobNotFound)
	require.ErrorIs(t, r.RemoveJob("never-existed"), ErrJobNotFound)
}

func TestAddJobReplacesExisting(t *testing.T) {
	t.Parallel()

	r := NewRunner(nil, nil)
	var old, replacement atomic.Int64
	spec := JobSpec{
		ID:      "job",
		Name:    "first",
		Trigger: IntervalTrigger{Every: 5 * time.Millisecond},
		Run: func(context.Context) error {
			old.Add(1)
			return nil
		},
	}
	r.AddJob(spec)
	r.Start()
	defer r.Stop()

	spec.Name = "second"
	spec.Run = func(context.Context) error {
		replacement.Add(1)
		return nil
	}
	r.AddJob(spec)

	require.Eventually(t, func() bool {
		return replacement.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	snap := r.Snapshot()
	require.Equal(t, 1, snap.TotalJobs)
	assert.Equal(t, "second", snap.Jobs[0].Name)
}

func TestJobPanicIsContained(t *testing.T) {
	t.Parallel()

	r := NewRunner(nil, nil)
	var after atomic.Int64
	r.AddJob(JobSpec{
		ID:      "panicky",
		Name:    "panicky",
		Trigger: IntervalTrigger{Every: 5 * time.Millisecond},
		Run: func(context.Context) error {
			panic("boom")
		},
	})
	r.AddJob(JobSpec{
		ID:      "steady",
		Name:    "steady",
		Trigger: IntervalTrigger{Every: 5 * time.Millisecond},
		Run: func(context.Context) error {
			after.Add(1)
			return nil
		},
	})

	r.Start()
	defer r.Stop()

	require.Eventually(t, func() bool {
		return after.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSnapshotShape(t *testing.T) {
	t.Parallel()

	r := NewRunner(nil, nil)
	r.AddJob(JobSpec{
		ID:      "daily_report",
		Name:    "Daily activity report",
		Trigger: DailyTrigger{Hour: 6, Minute: 0},
		Run:     func(context.Context) error { return nil },
	})

	snap := r.Snapshot()
	assert.False(t, snap.Running)
	require.Equal(t, 1, snap.TotalJobs)
	job := snap.Jobs[0]
	assert.Equal(t, "daily_report", job.ID)
	assert.Equal(t, "daily:06:00", job.Trigger)
	assert.False(t, job.NextRun.IsZero())
	assert.NotEmpty(t, job.FuncName)
}

func TestHealthGrades(t *testing.T) {
	t.Parallel()

	r := NewRunner(nil, nil)
	assert.Equal(t, HealthUnhealthy, r.Health())

	r.Start()
	defer r.Stop()
	assert.Equal(t, HealthDegraded, r.Health())

	r.AddJob(JobSpec{
		ID:      "job",
		Name:    "job",
		Trigger: IntervalTrigger{Every: time.Hour},
		Run:     func(context.Context) error { return nil },
	})
	assert.Equal(t, HealthHealthy, r.Health())
}
