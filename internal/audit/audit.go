// Package audit publishes a trail of share issuance and analytics executions.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/storepulse/pulsegate/internal/logging"
	"github.com/storepulse/pulsegate/internal/queue"
)

// Event types
const (
	EventShareIssued       = "share.issued"
	EventAnalyticsExecuted = "analytics.executed"
)

// DefaultSubjectPrefix prefixes every event subject when none is configured
const DefaultSubjectPrefix = "pulsegate.audit"

// Event is one audit record
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Subject   string    `json:"subject,omitempty"` // Caller identity, empty for share replays
	RequestID string    `json:"request_id,omitempty"`
	Stores    []int     `json:"stores"`
	Measure   string    `json:"measure,omitempty"`
	Origin    string    `json:"origin,omitempty"` // session or share
	Status    int       `json:"status,omitempty"`
	ShareID   string    `json:"share_id,omitempty"`
	ExpiresAt int64     `json:"expires_at,omitempty"`
	Cached    bool      `json:"cached,omitempty"`
}

// Recorder publishes events. A nil *Recorder records nothing.
type Recorder struct {
	publisher queue.Publisher
	prefix    string
	logger    *logging.Logger
	now       func() time.Time
}

// NewRecorder creates a recorder publishing under prefix
func NewRecorder(publisher queue.Publisher, prefix string, logger *logging.Logger) *Recorder {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = logging.Global()
	}
	return &Recorder{
		publisher: publisher,
		prefix:    prefix,
		logger:    logger,
		now:       time.Now,
	}
}

// SubjectFor returns the broker subject events of eventType are published to
func (r *Recorder) SubjectFor(eventType string) string {
	return r.prefix + "." + eventType
}

// Record stamps and publishes e. Failures are logged and never returned: the
// audit trail must not fail the request it describes.
func (r *Recorder) Record(ctx context.Context, e Event) {
	if r == nil || r.publisher == nil {
		return
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now().UTC()
	}
	if e.Stores == nil {
		e.Stores = []int{}
	}
	if e.RequestID == "" {
		e.RequestID = logging.RequestID(ctx)
	}

	data, err := json.Marshal(e)
	if err != nil {
		r.logger.Error("Failed to encode audit event", "type", e.Type, "error", err)
		return
	}

	if err := r.publisher.Publish(ctx, r.SubjectFor(e.Type), data); err != nil {
		r.logger.Warn("Failed to publish audit event",
			"type", e.Type,
			"id", e.ID,
			"error", err)
	}
}

// Close closes the underlying publisher
func (r *Recorder) Close() error {
	if r == nil || r.publisher == nil {
		return nil
	}
	return r.publisher.Close()
}
