package realtime

import (
	"sync"

	"go.uber.org/zap"

	"github.com/leadflowhq/leadstream/internal/telemetry"
)

// TopicGlobal receives every event mirrored for cross-job dashboards.
const TopicGlobal = "*"

// Subscriber is one delivery target. Send must not block indefinitely;
// implementations buffer internally and return an error when the peer cannot
// keep up.
type Subscriber interface {
	Send(env Envelope) error
	Close()
}

// Registry tracks which subscribers listen on which topics. All methods are
// safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	topics map[string]map[Subscriber]struct{}
	subs   map[Subscriber]map[string]struct{}
	logger *zap.Logger
}

// NewRegistry constructs an empty Registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		topics: make(map[string]map[Subscriber]struct{}),
		subs:   make(map[Subscriber]map[string]struct{}),
		logger: logger,
	}
}

// Subscribe registers sub on topic. Subscribing twice is a no-op.
func (r *Registry) Subscribe(topic string, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.topics[topic] == nil {
		r.topics[topic] = make(map[Subscriber]struct{})
	}
	r.topics[topic][sub] = struct{}{}
	if r.subs[sub] == nil {
		r.subs[sub] = make(map[string]struct{})
	}
	r.subs[sub][topic] = struct{}{}
	telemetry.SetWSConnections("total", len(r.subs))
}

// Unsubscribe removes sub from one topic, leaving its other subscriptions
// intact.
func (r *Registry) Unsubscribe(topic string, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(topic, sub)
	telemetry.SetWSConnections("total", len(r.subs))
}

// Disconnect removes sub from every topic and closes it.
func (r *Registry) Disconnect(sub Subscriber) {
	r.mu.Lock()
	for topic := range r.subs[sub] {
		r.removeLocked(topic, sub)
	}
	total := len(r.subs)
	r.mu.Unlock()
	telemetry.SetWSConnections("total", total)
	sub.Close()
}

func (r *Registry) removeLocked(topic string, sub Subscriber) {
	if set := r.topics[topic]; set != nil {
		delete(set, sub)
		if len(set) == 0 {
			delete(r.topics, topic)
		}
	}
	if set := r.subs[sub]; set != nil {
		delete(set, topic)
		if len(set) == 0 {
			delete(r.subs, sub)
		}
	}
}

// Broadcast delivers env to every subscriber of topic. Delivery failures
// disconnect the failing subscriber; the snapshot is taken under the read
// lock so sends never hold it.
func (r *Registry) Broadcast(topic string, env Envelope) int {
	r.mu.RLock()
	targets := make([]Subscriber, 0, len(r.topics[topic]))
	for sub := range r.topics[topic] {
		targets = append(targets, sub)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, sub := range targets {
		if err := sub.Send(env); err != nil {
			telemetry.ObserveBroadcastFailure()
			r.logger.Debug("dropping unresponsive subscriber",
				zap.String("topic", topic),
				zap.Error(err),
			)
			r.Disconnect(sub)
			continue
		}
		delivered++
	}
	return delivered
}

// Stats summarizes the registry for operator endpoints.
type Stats struct {
	TotalConnections int            `json:"total_connections"`
	Topics           map[string]int `json:"topics"`
}

// SnapshotStats returns current connection counts.
func (r *Registry) SnapshotStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	topics := make(map[string]int, len(r.topics))
	for topic, set := range r.topics {
		topics[topic] = len(set)
	}
	return Stats{
		TotalConnections: len(r.subs),
		Topics:           topics,
	}
}

// TopicSize reports how many subscribers listen on topic.
func (r *Registry) TopicSize(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}
