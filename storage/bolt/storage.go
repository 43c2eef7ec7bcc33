package bolt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/parMaster/meetsync/storage"
	"github.com/parMaster/meetsync/storage/model"
	bolt "go.etcd.io/bbolt"
)

var markersBucket = []byte("markers")

// MarkerStorage keeps Pending-Job Markers in a bolt bucket, keyed by event id
type MarkerStorage struct {
	DB *bolt.DB
}

func NewMarkerStorage(ctx context.Context, path string) (*MarkerStorage, error) {

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	go func() {
		<-ctx.Done()
		db.Close()
	}()

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(markersBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create markers bucket: %w", err)
	}

	return &MarkerStorage{DB: db}, nil
}

// SaveMarker writes or replaces the marker
func (s *MarkerStorage) SaveMarker(_ context.Context, marker model.PendingMarker) error {
	if marker.EventId == "" {
		return fmt.Errorf("marker without event id")
	}
	data, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("marshal marker: %w", err)
	}

	return s.DB.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(markersBucket).Put([]byte(marker.EventId), data)
	})
}

// GetMarker returns storage.ErrNoRows if there is no marker for the event
func (s *MarkerStorage) GetMarker(_ context.Context, eventId string) (*model.PendingMarker, error) {
	var marker *model.PendingMarker
	err := s.DB.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(markersBucket).Get([]byte(eventId))
		if data == nil {
			return storage.ErrNoRows
		}
		marker = &model.PendingMarker{}
		return json.Unmarshal(data, marker)
	})
	if err != nil {
		return nil, err
	}
	return marker, nil
}

// ListMarkers returns all markers ordered by event id
func (s *MarkerStorage) ListMarkers(_ context.Context) ([]model.PendingMarker, error) {
	var markers []model.PendingMarker
	err := s.DB.View(func(tx *bolt.Tx) error {
		return tx.Bucket(markersBucket).ForEach(func(k, v []byte) error {
			var m model.PendingMarker
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("unmarshal marker %s: %w", k, err)
			}
			markers = append(markers, m)
			return nil
		})
	})
	return markers, err
}

// DeleteMarker is a no-op for missing markers
func (s *MarkerStorage) DeleteMarker(_ context.Context, eventId string) error {
	return s.DB.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(markersBucket).Delete([]byte(eventId))
	})
}
