package realtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/leadflowhq/leadstream/internal/telemetry"
)

const (
	defaultBridgeBuffer = 4096
	dropLogInterval     = 5 * time.Second
)

// Clock supplies timestamps for emitted events.
type Clock interface {
	Now() time.Time
}

// BridgeConfig controls buffering for the Bridge.
type BridgeConfig struct {
	// BufferSize is the internal channel capacity (default 4096).
	BufferSize int
	// Jobs, when set, receives status snapshots alongside each report so
	// late subscribers can catch up.
	Jobs   *JobStore
	Clock  Clock
	Logger *zap.Logger
}

// Bridge is the boundary between job producers and WebSocket consumers.
// Report calls never block; events queue on an internal channel and a single
// dispatcher goroutine broadcasts them in FIFO order. When the buffer is full
// events are dropped and a rate-limited warning is logged.
type Bridge struct {
	registry *Registry
	jobs     *JobStore
	events   chan Event
	stopCh   chan struct{}
	doneCh   chan struct{}
	clock    Clock
	logger   *zap.Logger

	dropLimiter logThrottle
	dropped     atomic.Int64
	closed      atomic.Bool
	closeOnce   sync.Once
}

// NewBridge starts a Bridge dispatching into registry. The returned Bridge is
// immediately ready to accept events.
func NewBridge(registry *Registry, cfg BridgeConfig) *Bridge {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBridgeBuffer
	}
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bridge{
		registry:    registry,
		jobs:        cfg.Jobs,
		events:      make(chan Event, cfg.BufferSize),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		clock:       cfg.Clock,
		logger:      logger,
		dropLimiter: logThrottle{interval: dropLogInterval},
	}
	go b.run()
	return b
}

// ReportProgress publishes incremental progress on the job's topic.
func (b *Bridge) ReportProgress(p ProgressPayload) {
	now := b.clock.Now()
	if p.Status == "" {
		p.Status = JobStatusRunning
	}
	if b.jobs != nil {
		b.jobs.UpdateProgress(p, now)
	}
	b.emit(Event{Topic: p.JobID, Type: TypeJobProgress, TS: now, Payload: p})
}

// ReportLeadDiscovered publishes a discovered lead to the job topic and
// mirrors it globally so dashboards see leads across all jobs.
func (b *Bridge) ReportLeadDiscovered(l LeadPayload) {
	now := b.clock.Now()
	if l.KeyInsights == nil {
		l.KeyInsights = []string{}
	}
	b.emit(Event{Topic: l.JobID, Type: TypeLeadDiscovered, TS: now, Payload: l})
	b.emit(Event{Topic: TopicGlobal, Type: TypeLeadDiscovered, TS: now, Payload: l})
}

// ReportCompletion publishes the terminal success event for a job and
// mirrors it globally.
func (b *Bridge) ReportCompletion(c CompletionPayload) {
	now := b.clock.Now()
	if c.Status == "" {
		c.Status = JobStatusCompleted
	}
	if c.ResultData == nil {
		c.ResultData = map[string]any{}
	}
	if b.jobs != nil {
		b.jobs.Finish(c.JobID, c.Status, now)
	}
	b.emit(Event{Topic: c.JobID, Type: TypeJobCompleted, TS: now, Payload: c})
	b.emit(Event{Topic: TopicGlobal, Type: TypeJobCompleted, TS: now, Payload: c})
}

// ReportError publishes the terminal failure event for jobID.
func (b *Bridge) ReportError(jobID, message string, details map[string]any) {
	now := b.clock.Now()
	if details == nil {
		details = map[string]any{}
	}
	if b.jobs != nil {
		b.jobs.Finish(jobID, JobStatusFailed, now)
	}
	b.emit(Event{
		Topic: jobID,
		Type:  TypeJobError,
		TS:    now,
		Payload: ErrorPayload{
			JobID:        jobID,
			ErrorMessage: message,
			ErrorDetails: details,
			Timestamp:    stamp(now),
		},
	})
}

// ReportBatchProgress publishes progress through one batch of a job.
func (b *Bridge) ReportBatchProgress(p BatchPayload) {
	now := b.clock.Now()
	if p.Timestamp == "" {
		p.Timestamp = stamp(now)
	}
	if p.BatchResults == nil {
		p.BatchResults = map[string]any{}
	}
	b.emit(Event{Topic: p.JobID, Type: TypeBatchProgress, TS: now, Payload: p})
}

// ReportQualityAlert publishes a data quality alert for a job and mirrors it
// globally.
func (b *Bridge) ReportQualityAlert(a QualityAlertPayload) {
	now := b.clock.Now()
	b.emit(Event{Topic: a.JobID, Type: TypeDataQualityAlert, TS: now, Payload: a})
	b.emit(Event{Topic: TopicGlobal, Type: TypeDataQualityAlert, TS: now, Payload: a})
}

// ReportSystemEvent publishes an operator notification on the global topic.
// Extra fields merge into the payload at the top level.
func (b *Bridge) ReportSystemEvent(eventType, message string, extra map[string]any) {
	now := b.clock.Now()
	payload := map[string]any{
		"event_type": eventType,
		"message":    message,
		"timestamp":  stamp(now),
	}
	for k, v := range extra {
		if _, reserved := payload[k]; !reserved {
			payload[k] = v
		}
	}
	b.emit(Event{Topic: TopicGlobal, Type: TypeSystemEvent, TS: now, Payload: payload})
}

func (b *Bridge) emit(evt Event) {
	if b == nil || b.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		b.logger.Debug("discarding invalid event", zap.Error(err))
		return
	}
	select {
	case b.events <- evt:
	default:
		b.dropped.Add(1)
		telemetry.ObserveRealtimeDropped(1)
		if b.dropLimiter.Allow(time.Now()) {
			count := b.dropped.Swap(0)
			b.logger.Warn("events dropped due to backpressure", zap.Int64("dropped", count))
		}
	}
}

// Close stops accepting events, drains the queue in order, and blocks until
// the dispatcher exits or ctx is done. Safe to call multiple times.
func (b *Bridge) Close(ctx context.Context) error {
	if b == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		close(b.stopCh)
	})
	select {
	case <-b.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("bridge close wait: %w", ctx.Err())
	}
}

func (b *Bridge) run() {
	defer close(b.doneCh)
	for {
		select {
		case evt := <-b.events:
			b.dispatch(evt)
		case <-b.stopCh:
			for {
				select {
				case evt := <-b.events:
					b.dispatch(evt)
				default:
					return
				}
			}
		}
	}
}

func (b *Bridge) dispatch(evt Event) {
	env, err := NewEnvelope(evt.Type, evt.Payload)
	if err != nil {
		b.logger.Warn("encode event failed",
			zap.String("topic", evt.Topic),
			zap.String("type", string(evt.Type)),
			zap.Error(err),
		)
		return
	}
	telemetry.ObserveRealtimeEvent(string(evt.Type))
	b.registry.Broadcast(evt.Topic, env)
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// logThrottle allows at most one log line per interval.
type logThrottle struct {
	interval time.Duration
	last     atomic.Int64
}

func (l *logThrottle) Allow(now time.Time) bool {
	prev := l.last.Load()
	if now.UnixNano()-prev < l.interval.Nanoseconds() {
		return false
	}
	return l.last.CompareAndSwap(prev, now.UnixNano())
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
