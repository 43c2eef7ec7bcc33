package storage

import (
	"context"
	"errors"

	"github.com/parMaster/meetsync/storage/model"
)

var (
	ErrNoRows = errors.New("no rows in result set")
	// ErrStaleWrite is returned when an upsert would replace a more terminal status
	ErrStaleWrite = errors.New("stale write rejected")
)

// Storer is the durable meeting cache, keyed by EventId.
// Upserts of distinct keys must be safe to run concurrently.
type Storer interface {
	Upsert(ctx context.Context, meeting model.Meeting) error
	GetAll(ctx context.Context, userId string) ([]model.Meeting, error)
	GetByKey(ctx context.Context, eventId string) (*model.Meeting, error)
	Keys(ctx context.Context, userId string) ([]string, error)
	Delete(ctx context.Context, eventId string) error
	Stats(ctx context.Context) (map[model.MeetingStatus]int, error)
}

// MarkerStorer keeps Pending-Job Markers across restarts
type MarkerStorer interface {
	SaveMarker(ctx context.Context, marker model.PendingMarker) error
	GetMarker(ctx context.Context, eventId string) (*model.PendingMarker, error)
	ListMarkers(ctx context.Context) ([]model.PendingMarker, error)
	DeleteMarker(ctx context.Context, eventId string) error
}
