package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types for the identity stream
const (
	// EventIdentityOrphaned is published when an identity user was created but
	// its profile was not, and deleting the identity user failed too.
	EventIdentityOrphaned = "identity_orphaned"
)

// Stream names
const (
	StreamIdentity = "stream:identity"
)

// Consumer group name for orphan reapers
const (
	ConsumerGroupReaper = "orphan_reapers"
)

// IdentityEvent is published to the identity stream.
type IdentityEvent struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"` // unix seconds of the original failure

	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Reason string `json:"reason,omitempty"`

	// Attempt counts clean-up attempts already made by reapers.
	Attempt int `json:"attempt"`
}

// NewIdentityOrphanedEvent builds the event for an identity user that
// compensation failed to delete.
func NewIdentityOrphanedEvent(userID, email, reason string) IdentityEvent {
	return IdentityEvent{
		Type:      EventIdentityOrphaned,
		Timestamp: time.Now().Unix(),
		UserID:    userID,
		Email:     email,
		Reason:    reason,
	}
}

// Retry returns a copy of the event for the next clean-up attempt.
func (e IdentityEvent) Retry(reason string) IdentityEvent {
	e.Attempt++
	e.Reason = reason
	return e
}

// ToMap converts the event to XADD field-value pairs. The payload lives in
// the "data" field as JSON.
func (e IdentityEvent) ToMap() (map[string]interface{}, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return map[string]interface{}{
		"type": e.Type,
		"data": string(data),
	}, nil
}

// ParseIdentityEvent parses an IdentityEvent from stream message values.
func ParseIdentityEvent(values map[string]interface{}) (IdentityEvent, error) {
	data, ok := values["data"].(string)
	if !ok {
		return IdentityEvent{}, fmt.Errorf("missing or invalid 'data' field")
	}

	var event IdentityEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return IdentityEvent{}, fmt.Errorf("unmarshal event: %w", err)
	}
	if event.UserID == "" {
		return IdentityEvent{}, fmt.Errorf("event without user_id")
	}
	return event, nil
}
