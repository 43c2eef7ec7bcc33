package repo

import (
	"log"

	"github.com/parMaster/meetsync/storage/model"
)

// Notifier receives user-facing events. Implementations must not block.
type Notifier interface {
	Notify(e model.Event)
}

type NotifierFunc func(e model.Event)

func (f NotifierFunc) Notify(e model.Event) { f(e) }

// LogNotifier writes events to the log
type LogNotifier struct{}

func (LogNotifier) Notify(e model.Event) {
	switch e.Kind {
	case model.EventSubmitAttempt:
		log.Printf("[INFO] job %s: submit attempt %d/%d, waited %v", e.JobId, e.Attempt, e.MaxAttempts, e.Delay)
	case model.EventPollProgress:
		log.Printf("[INFO] event %s: processing %d%%", e.EventId, e.Percent)
	case model.EventUploadStarted:
		log.Printf("[INFO] job %s: uploading %s (%s)", e.JobId, e.Size, e.SizeClass)
	case model.EventUploadFailed, model.EventSubmitFailed, model.EventFailed:
		log.Printf("[WARN] job %s event %s: %s %s", e.JobId, e.EventId, e.Kind, e.Message)
	default:
		log.Printf("[INFO] job %s event %s user %s: %s %s", e.JobId, e.EventId, e.UserId, e.Kind, e.Message)
	}
}

// Notifiers fans an event out to every notifier
type Notifiers []Notifier

func (n Notifiers) Notify(e model.Event) {
	for _, nn := range n {
		nn.Notify(e)
	}
}
