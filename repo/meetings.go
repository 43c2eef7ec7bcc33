package repo

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/parMaster/meetsync/storage"
	"github.com/parMaster/meetsync/storage/model"
)

// MeetingService applies user edits: remote first, then the local store
type MeetingService struct {
	gw    Gateway
	store storage.Storer
}

func NewMeetingService(gw Gateway, store storage.Storer) *MeetingService {
	return &MeetingService{gw: gw, store: store}
}

func (s *MeetingService) List(ctx context.Context, userId string) ([]model.Meeting, error) {
	return s.store.GetAll(ctx, userId)
}

func (s *MeetingService) Get(ctx context.Context, eventId string) (*model.Meeting, error) {
	return s.store.GetByKey(ctx, eventId)
}

// Delete removes the meeting remotely, then locally. The local row stays if the
// remote delete fails, otherwise the next sync would bring it back.
func (s *MeetingService) Delete(ctx context.Context, eventId string) error {
	if err := s.gw.DeleteMeeting(ctx, eventId); err != nil {
		return fmt.Errorf("remote delete of %s failed: %w", eventId, err)
	}
	err := s.store.Delete(ctx, eventId)
	if errors.Is(err, storage.ErrNoRows) {
		log.Printf("[DEBUG] meeting %s wasn't stored locally", eventId)
		return nil
	}
	if err != nil {
		return fmt.Errorf("local delete of %s failed: %w", eventId, err)
	}
	log.Printf("[INFO] deleted meeting %s", eventId)
	return nil
}

func (s *MeetingService) Rename(ctx context.Context, eventId, title string) (*model.Meeting, error) {
	return s.Update(ctx, eventId, model.MeetingPatch{Title: &title})
}

// Update writes the patch through to the remote service and then to the store
func (s *MeetingService) Update(ctx context.Context, eventId string, patch model.MeetingPatch) (*model.Meeting, error) {
	m, err := s.store.GetByKey(ctx, eventId)
	if err != nil {
		return nil, err
	}

	if patch.CategoryId == nil && patch.IsPublic == nil && patch.Title != nil {
		err = s.gw.RenameMeeting(ctx, eventId, *patch.Title)
	} else {
		err = s.gw.UpdateMeeting(ctx, eventId, patch)
	}
	if err != nil {
		return nil, fmt.Errorf("remote update of %s failed: %w", eventId, err)
	}

	patch.Apply(m)
	if err := save(ctx, s.store, *m); err != nil {
		return nil, fmt.Errorf("local update of %s failed: %w", eventId, err)
	}
	return m, nil
}
