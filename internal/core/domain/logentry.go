package domain

import "time"

// LogEntry is an audit record written for every session event.
type LogEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	ActorID   int64     `json:"actor_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Origin    string    `json:"origin,omitempty"`
	Detail    string    `json:"detail"`
}
