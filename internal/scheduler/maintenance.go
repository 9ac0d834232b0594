package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/leadflowhq/leadstream/internal/realtime"
)

const finishedJobRetention = 24 * time.Hour

// Maintenance bundles the built-in housekeeping jobs that keep the realtime
// layer tidy and operators informed.
type Maintenance struct {
	bridge   *realtime.Bridge
	registry *realtime.Registry
	jobs     *realtime.JobStore
	clock    Clock
	logger   *zap.Logger
}

// NewMaintenance wires the housekeeping jobs against the realtime layer.
func NewMaintenance(bridge *realtime.Bridge, registry *realtime.Registry, jobs *realtime.JobStore, clock Clock, logger *zap.Logger) *Maintenance {
	if clock == nil {
		clock = wallClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Maintenance{bridge: bridge, registry: registry, jobs: jobs, clock: clock, logger: logger}
}

// Register adds the default maintenance jobs to r.
func (m *Maintenance) Register(r *Runner) {
	r.AddJob(JobSpec{
		ID:      "metrics_report",
		Name:    "Connection metrics report",
		Trigger: IntervalTrigger{Every: 5 * time.Minute},
		Run:     m.reportMetrics,
	})
	r.AddJob(JobSpec{
		ID:      "health_check",
		Name:    "Realtime layer health check",
		Trigger: IntervalTrigger{Every: 15 * time.Minute},
		Run:     m.healthCheck,
	})
	r.AddJob(JobSpec{
		ID:      "alert_check",
		Name:    "Stale job alert check",
		Trigger: IntervalTrigger{Every: 2 * time.Minute},
		Run:     m.alertCheck,
	})
	r.AddJob(JobSpec{
		ID:      "daily_report",
		Name:    "Daily activity report",
		Trigger: DailyTrigger{Hour: 6, Minute: 0},
		Run:     m.dailyReport,
	})
	r.AddJob(JobSpec{
		ID:      "weekly_cleanup",
		Name:    "Weekly finished-job cleanup",
		Trigger: WeeklyTrigger{Day: time.Sunday, Hour: 2, Minute: 0},
		Run:     m.weeklyCleanup,
	})
}

func (m *Maintenance) reportMetrics(context.Context) error {
	stats := m.registry.SnapshotStats()
	m.logger.Info("realtime connection metrics",
		zap.Int("connections", stats.TotalConnections),
		zap.Int("topics", len(stats.Topics)),
		zap.Int("tracked_jobs", m.jobs.Len()),
	)
	return nil
}

func (m *Maintenance) healthCheck(context.Context) error {
	stats := m.registry.SnapshotStats()
	m.bridge.ReportSystemEvent("health_check", "realtime layer health check", map[string]any{
		"connections":  stats.TotalConnections,
		"tracked_jobs": m.jobs.Len(),
	})
	return nil
}

func (m *Maintenance) alertCheck(context.Context) error {
	// Finished jobs lingering past retention suggest producers stopped
	// pruning; surface it before the weekly cleanup hides the signal.
	cutoff := m.clock.Now().Add(-finishedJobRetention)
	stale := m.jobs.PruneFinished(cutoff)
	if stale > 0 {
		m.bridge.ReportSystemEvent("stale_jobs_pruned", "removed stale finished jobs", map[string]any{
			"count": stale,
		})
	}
	return nil
}

func (m *Maintenance) dailyReport(context.Context) error {
	stats := m.registry.SnapshotStats()
	m.bridge.ReportSystemEvent("daily_report", "daily activity summary", map[string]any{
		"connections":  stats.TotalConnections,
		"topics":       len(stats.Topics),
		"tracked_jobs": m.jobs.Len(),
	})
	return nil
}

func (m *Maintenance) weeklyCleanup(context.Context) error {
	removed := m.jobs.PruneFinished(m.clock.Now())
	m.logger.Info("weekly cleanup finished", zap.Int("removed", removed))
	return nil
}
