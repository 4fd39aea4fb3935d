package models

import (
	"time"

	"github.com/propfolio/gatekeeper/pkg/constants"
)

// AuditEvent is an admission-layer event published to the audit stream.
type AuditEvent struct {
	ID        string                   `json:"id"`
	Type      constants.AuditEventType `json:"type"`
	CallerKey string                   `json:"callerKey"`
	UserID    string                   `json:"userId,omitempty"`
	Timestamp time.Time                `json:"timestamp"`
	Details   map[string]interface{}   `json:"details,omitempty"`
}
