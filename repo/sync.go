package repo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/parMaster/meetsync/config"
	"github.com/parMaster/meetsync/storage"
	"github.com/parMaster/meetsync/storage/model"
)

// Synchronizer reconciles the remote meeting list with the local store.
// It only adds missing meetings, local rows are never deleted by a sync.
type Synchronizer struct {
	gw    Gateway
	store storage.Storer
	cfg   config.Sync
	options

	mx       sync.Mutex
	inFlight map[string]bool // by user id
}

func NewSynchronizer(gw Gateway, store storage.Storer, cfg config.Sync, opts ...Option) *Synchronizer {
	return &Synchronizer{gw: gw, store: store, cfg: cfg, options: newOptions(opts), inFlight: make(map[string]bool)}
}

func (s *Synchronizer) acquire(userId string) bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.inFlight[userId] {
		return false
	}
	s.inFlight[userId] = true
	return true
}

func (s *Synchronizer) releaseUser(userId string) {
	s.mx.Lock()
	delete(s.inFlight, userId)
	s.mx.Unlock()
}

// Sync fetches the meetings missing locally, one by one. Returns ErrSyncInProgress
// if the user's sync is already running and ErrOffline without connectivity.
// Failed fetches are counted and skipped.
func (s *Synchronizer) Sync(ctx context.Context, userId string) (res model.SyncResult, err error) {
	res = model.SyncResult{UserId: userId, StartedAt: s.clock.Now()}
	if !s.acquire(userId) {
		return res, ErrSyncInProgress
	}
	defer s.releaseUser(userId)
	defer func() { res.Duration = s.clock.Now().Sub(res.StartedAt) }()

	if !s.gw.Online(ctx) {
		res.Offline = true
		s.emit(model.Event{Kind: model.EventSyncOffline, UserId: userId})
		return res, ErrOffline
	}

	keys, err := s.store.Keys(ctx, userId)
	if err != nil {
		return res, fmt.Errorf("failed to read local keys: %w", err)
	}
	local := make(map[string]bool, len(keys))
	for _, k := range keys {
		local[k] = true
	}
	res.Local = len(local)

	remote, err := s.gw.ListMeetings(ctx, userId, model.MeetingFilter{PageSize: s.cfg.PageSize})
	if err != nil {
		return res, fmt.Errorf("failed to list remote meetings: %w", err)
	}
	res.Remote = len(remote)

	missing := []string{}
	seen := make(map[string]bool, len(remote))
	for _, m := range remote {
		if m.EventId == "" || seen[m.EventId] || local[m.EventId] {
			continue
		}
		seen[m.EventId] = true
		missing = append(missing, m.EventId)
	}
	res.Missing = len(missing)
	log.Printf("[DEBUG] sync %s: %d local, %d remote, %d missing", userId, res.Local, res.Remote, res.Missing)

	for _, eventId := range missing {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if err := s.fetch(ctx, userId, eventId); err != nil {
			log.Printf("[ERROR] sync %s: skipping meeting %s: %v", userId, eventId, err)
			res.Failed++
			continue
		}
		res.Saved++
	}

	s.emit(model.Event{Kind: model.EventSynced, UserId: userId, Message: fmt.Sprintf("%d new, %d failed", res.Saved, res.Failed)})
	log.Printf("[INFO] Saved %d new meetings of %s. Skipped: %d (already saved), %d (failed)", res.Saved, userId, res.Remote-res.Missing, res.Failed)
	return res, nil
}

func (s *Synchronizer) fetch(ctx context.Context, userId, eventId string) error {
	m, err := s.gw.GetMeetingDetail(ctx, eventId)
	if err != nil {
		return err
	}
	m.EventId = eventId
	if m.UserId == "" {
		m.UserId = userId
	}
	if m.Status == "" {
		m.Status = model.StatusSucceeded
	}
	return save(ctx, s.store, *m)
}

// SyncJob is a long running job that syncs the user's meetings on start,
// then on every interval tick or trigger
func (s *Synchronizer) SyncJob(ctx context.Context, userId string, trigger <-chan struct{}) {
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_, err := s.Sync(ctx, userId)
		switch {
		case errors.Is(err, ErrOffline):
			log.Printf("[DEBUG] sync %s skipped, offline", userId)
		case errors.Is(err, ErrSyncInProgress):
			log.Printf("[DEBUG] sync %s skipped, already running", userId)
		case err != nil:
			log.Printf("[ERROR] failed to sync meetings of %s, %v", userId, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-trigger:
		}
	}
}
