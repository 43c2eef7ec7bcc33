package main

import (
	"sync"

	"github.com/parMaster/meetsync/storage/model"
)

// feed keeps the recent events and the last event of every job for the api
type feed struct {
	mx     sync.Mutex
	size   int
	recent []model.Event
	last   map[string]model.Event // by job id, or event id for sync and resumed jobs
}

func newFeed(size int) *feed {
	return &feed{size: size, last: map[string]model.Event{}}
}

func (f *feed) Notify(e model.Event) {
	f.mx.Lock()
	defer f.mx.Unlock()

	f.recent = append(f.recent, e)
	if len(f.recent) > f.size {
		f.recent = f.recent[len(f.recent)-f.size:]
	}

	if e.Kind == model.EventInvalidated {
		return
	}
	if e.JobId != "" {
		f.last[e.JobId] = e
	}
	if e.EventId != "" {
		f.last[e.EventId] = e
	}
}

// Recent returns the kept events, oldest first
func (f *feed) Recent() []model.Event {
	f.mx.Lock()
	defer f.mx.Unlock()
	return append([]model.Event{}, f.recent...)
}

func (f *feed) Last(id string) (model.Event, bool) {
	f.mx.Lock()
	defer f.mx.Unlock()
	e, ok := f.last[id]
	return e, ok
}
