package storage

import (
	"context"
	"log"
	"sync"

	"github.com/parMaster/mcache"
	"github.com/parMaster/meetsync/storage/model"
)

// Cached is a read-through cache in front of a Storer. Every successful
// mutation drops the affected keys and notifies the invalidation listeners.
type Cached struct {
	Storer
	cache     mcache.Cacher
	ttl       int64 // seconds, 0 - no expiration
	mx        sync.RWMutex
	listeners []func(userId, eventId string)

	gmx  sync.Mutex
	gens map[string]uint64 // bumped on every invalidation of the key
}

func NewCached(store Storer, ttl int64) *Cached {
	return &Cached{Storer: store, cache: mcache.NewCache(), ttl: ttl, gens: map[string]uint64{}}
}

func listKey(userId string) string   { return "meetings:" + userId }
func recordKey(eventId string) string { return "meeting:" + eventId }

// OnInvalidate registers fn to be called after each successful write
func (c *Cached) OnInvalidate(fn func(userId, eventId string)) {
	c.mx.Lock()
	c.listeners = append(c.listeners, fn)
	c.mx.Unlock()
}

// Invalidate drops cached entries of the user and the event
func (c *Cached) Invalidate(userId, eventId string) {
	c.gmx.Lock()
	c.drop(listKey(userId))
	if eventId != "" {
		c.drop(recordKey(eventId))
	}
	c.gmx.Unlock()

	c.mx.RLock()
	listeners := c.listeners
	c.mx.RUnlock()
	for _, fn := range listeners {
		fn(userId, eventId)
	}
}

// drop removes the key and bumps its generation, gmx must be held
func (c *Cached) drop(key string) {
	c.cache.Del(key)
	c.gens[key]++
}

func (c *Cached) generation(key string) uint64 {
	c.gmx.Lock()
	defer c.gmx.Unlock()
	return c.gens[key]
}

// put caches a value read from the store at generation gen. The value is
// discarded if the key was invalidated since, it may predate the write.
func (c *Cached) put(key string, gen uint64, value interface{}) {
	c.gmx.Lock()
	defer c.gmx.Unlock()
	if c.gens[key] != gen {
		log.Printf("[DEBUG] cache skip %s, invalidated during read", key)
		return
	}
	c.cache.Del(key)
	if err := c.cache.Set(key, value, c.ttl); err != nil {
		log.Printf("[DEBUG] cache set %s: %v", key, err)
	}
}

func (c *Cached) Upsert(ctx context.Context, meeting model.Meeting) error {
	if err := c.Storer.Upsert(ctx, meeting); err != nil {
		return err
	}
	c.Invalidate(meeting.UserId, meeting.EventId)
	return nil
}

func (c *Cached) GetAll(ctx context.Context, userId string) ([]model.Meeting, error) {
	if v, err := c.cache.Get(listKey(userId)); err == nil {
		cached := v.([]model.Meeting)
		return append([]model.Meeting(nil), cached...), nil
	}

	gen := c.generation(listKey(userId))
	meetings, err := c.Storer.GetAll(ctx, userId)
	if err != nil {
		return nil, err
	}
	c.put(listKey(userId), gen, append([]model.Meeting(nil), meetings...))
	return meetings, nil
}

func (c *Cached) GetByKey(ctx context.Context, eventId string) (*model.Meeting, error) {
	if v, err := c.cache.Get(recordKey(eventId)); err == nil {
		m := v.(model.Meeting)
		return &m, nil
	}

	gen := c.generation(recordKey(eventId))
	m, err := c.Storer.GetByKey(ctx, eventId)
	if err != nil {
		return nil, err
	}
	c.put(recordKey(eventId), gen, *m)
	return m, nil
}

func (c *Cached) Delete(ctx context.Context, eventId string) error {
	var userId string
	if m, err := c.Storer.GetByKey(ctx, eventId); err == nil {
		userId = m.UserId
	}
	if err := c.Storer.Delete(ctx, eventId); err != nil {
		return err
	}
	c.Invalidate(userId, eventId)
	return nil
}
