// Package realtime fans job lifecycle events out to connected WebSocket
// subscribers.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType names the kind of payload carried by an Envelope.
type EventType string

// Event types delivered to subscribers.
const (
	TypeJobProgress      EventType = "job_progress"
	TypeLeadDiscovered   EventType = "lead_discovered"
	TypeJobCompleted     EventType = "job_completed"
	TypeJobError         EventType = "job_error"
	TypeBatchProgress    EventType = "batch_progress"
	TypeDataQualityAlert EventType = "data_quality_alert"
	TypeSystemEvent      EventType = "system_notification"
)

// Protocol-level message types exchanged on a connection, distinct from job
// events.
const (
	TypeConnectionEstablished EventType = "connection_established"
	TypeHeartbeat             EventType = "heartbeat"
	TypePong                  EventType = "pong"
	TypeConnectionStats       EventType = "connection_stats"
	TypeSchedulerStatus       EventType = "scheduler_status"
)

// Envelope is the wire form of every server-to-client message.
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEnvelope marshals payload into an Envelope of the given type.
func NewEnvelope(t EventType, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Envelope{Type: t, Data: data}, nil
}

// Event is a single occurrence bound for one topic's subscribers.
type Event struct {
	Topic   string
	Type    EventType
	Payload any
	TS      time.Time
}

// Validate performs coarse validation before an Event enters the bridge.
func (e Event) Validate() error {
	if e.Topic == "" {
		return errors.New("topic is required")
	}
	if e.Type == "" {
		return errors.New("event type is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	return nil
}

// ProgressPayload reports incremental job progress.
type ProgressPayload struct {
	JobID               string  `json:"job_id"`
	Status              string  `json:"status"`
	ProgressPercentage  float64 `json:"progress_percentage"`
	ProcessedTargets    int     `json:"processed_targets"`
	TotalTargets        int     `json:"total_targets"`
	CompaniesFound      int     `json:"companies_found"`
	ContactsFound       int     `json:"contacts_found"`
	EstimatedCompletion string  `json:"estimated_completion,omitempty"`
	Message             string  `json:"message"`
}

// LeadPayload announces a newly discovered lead.
type LeadPayload struct {
	JobID         string   `json:"job_id"`
	CompanyID     string   `json:"company_id"`
	CompanyName   string   `json:"company_name"`
	LeadScore     float64  `json:"lead_score"`
	ContactsFound int      `json:"contacts_found"`
	KeyInsights   []string `json:"key_insights"`
}

// CompletionPayload reports a finished job and its summary counters.
type CompletionPayload struct {
	JobID          string         `json:"job_id"`
	Status         string         `json:"status"`
	TotalCompanies int            `json:"total_companies"`
	TotalContacts  int            `json:"total_contacts"`
	JobType        string         `json:"job_type,omitempty"`
	Summary        string         `json:"summary"`
	ResultData     map[string]any `json:"result_data"`
}

// ErrorPayload reports a job failure.
type ErrorPayload struct {
	JobID        string         `json:"job_id"`
	ErrorMessage string         `json:"error_message"`
	ErrorDetails map[string]any `json:"error_details"`
	Timestamp    string         `json:"timestamp"`
}

// BatchPayload reports progress through one batch of a multi-batch job.
type BatchPayload struct {
	JobID                   string         `json:"job_id"`
	BatchNumber             int            `json:"batch_number"`
	TotalBatches            int            `json:"total_batches"`
	BatchProgressPercentage float64        `json:"batch_progress_percentage"`
	BatchResults            map[string]any `json:"batch_results"`
	Timestamp               string         `json:"timestamp"`
}

// QualityAlertPayload flags data quality issues discovered during a job.
type QualityAlertPayload struct {
	JobID           string `json:"job_id"`
	AlertType       string `json:"alert_type"`
	Message         string `json:"message"`
	AffectedRecords int    `json:"affected_records"`
	Severity        string `json:"severity"`
}
