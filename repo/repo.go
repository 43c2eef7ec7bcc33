package repo

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/parMaster/meetsync/storage"
	"github.com/parMaster/meetsync/storage/model"
)

// Gateway is an interface for the remote meeting service client
type Gateway interface {
	Online(ctx context.Context) bool
	RequestUploadTarget(ctx context.Context) (*model.UploadTarget, error)
	SubmitProcessingJob(ctx context.Context, r model.SubmitRequest) (*model.JobTicket, error)
	GetJobStatus(ctx context.Context, eventId string) (*model.StatusReport, error)
	ListMeetings(ctx context.Context, userId string, f model.MeetingFilter) ([]model.MeetingSummary, error)
	GetMeetingDetail(ctx context.Context, eventId string) (*model.Meeting, error)
	DeleteMeeting(ctx context.Context, eventId string) error
	RenameMeeting(ctx context.Context, eventId, title string) error
	UpdateMeeting(ctx context.Context, eventId string, patch model.MeetingPatch) error
}

// Transferer puts artifact bytes to a pre-signed upload target
type Transferer interface {
	Put(ctx context.Context, uploadURL string, body io.Reader, size int64, contentType string) error
}

// Clock is the only source of time and waiting for the engine
type Clock interface {
	Now() time.Time
	// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter case
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RealClock uses the wall clock and timers
var RealClock Clock = realClock{}

type options struct {
	clock  Clock
	notify Notifier
}

// Option customizes engine components
type Option func(*options)

// WithClock replaces the wall clock, tests use it to skip the waiting
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithNotifier sets the receiver of user-facing events, LogNotifier by default
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notify = n }
}

func newOptions(opts []Option) options {
	o := options{clock: RealClock, notify: LogNotifier{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) emit(e model.Event) {
	if e.At.IsZero() {
		e.At = o.clock.Now()
	}
	o.notify.Notify(e)
}

// save upserts the meeting, a write rejected as stale is not an error for the caller:
// a more terminal state is already stored
func save(ctx context.Context, store storage.Storer, m model.Meeting) error {
	err := store.Upsert(ctx, m)
	if errors.Is(err, storage.ErrStaleWrite) {
		log.Printf("[DEBUG] skipped stale write: %v", err)
		return nil
	}
	return err
}
