// Package telemetry carries security events (issuance, rotation, revocation, rejections)
// to OTel logs and, optionally, Kafka.
package telemetry

import "time"

// Event types emitted by the session and identity services.
const (
	EventSessionIssued    = "session.issued"
	EventSessionRotated   = "session.rotated"
	EventTokenRevoked     = "token.revoked"
	EventAuthRejected     = "auth.rejected"
	EventRevocationsSwept = "revocations.swept"
	EventLoginFailed      = "login.failed"
)

// Event is one security event. Raw tokens are never carried.
type Event struct {
	Type      string            `json:"type"`
	SubjectID string            `json:"subject_id,omitempty"`
	JTI       string            `json:"jti,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Source    string            `json:"source,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewEvent stamps an event of the given type with the current time.
func NewEvent(eventType, subjectID string) *Event {
	return &Event{Type: eventType, SubjectID: subjectID, CreatedAt: time.Now().UTC()}
}
