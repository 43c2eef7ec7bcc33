package model

import "time"

// EventKind names a user-facing signal emitted by the engine
type EventKind string

const (
	EventUploadStarted   EventKind = "upload_started"
	EventUploadSettling  EventKind = "upload_settling"
	EventUploaded        EventKind = "uploaded"
	EventUploadCancelled EventKind = "upload_cancelled"
	EventUploadFailed    EventKind = "upload_failed"
	EventSubmitAttempt   EventKind = "submit_attempt"
	EventSubmitted       EventKind = "submitted"
	EventSubmitFailed    EventKind = "submit_failed"
	EventPollProgress    EventKind = "poll_progress"
	EventSucceeded       EventKind = "succeeded"
	EventFailed          EventKind = "failed"
	EventAbandoned       EventKind = "abandoned"
	EventSyncOffline     EventKind = "sync_offline"
	EventSynced          EventKind = "synced"
	EventInvalidated     EventKind = "invalidated"
)

// Event is emitted for UI feedback only, it is not part of any correctness contract
type Event struct {
	Kind        EventKind     `json:"kind"`
	JobId       string        `json:"job_id,omitempty"`
	EventId     string        `json:"event_id,omitempty"`
	UserId      string        `json:"user_id,omitempty"`
	Attempt     int           `json:"attempt,omitempty"`
	MaxAttempts int           `json:"max_attempts,omitempty"`
	Delay       time.Duration `json:"delay,omitempty"`
	Percent     int           `json:"percent,omitempty"`
	Size        FileSize      `json:"size,omitempty"`
	SizeClass   string        `json:"size_class,omitempty"`
	Message     string        `json:"message,omitempty"`
	At          time.Time     `json:"at"`
}
