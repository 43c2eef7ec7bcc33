package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/parMaster/meetsync/storage"
	"github.com/parMaster/meetsync/storage/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	path := "file:" + filepath.Join(t.TempDir(), "test_storage.db") + "?mode=rwc&_journal_mode=WAL"
	store, err := NewStorage(ctx, path)
	require.NoError(t, err)
	return store
}

func testMeeting(id string) model.Meeting {
	return model.Meeting{
		EventId:      id,
		UserId:       "user1",
		Title:        "weekly sync",
		Date:         "2024-03-01",
		StartTime:    "10:00",
		EndTime:      "11:00",
		Organizer:    "alice@example.com",
		Source:       "upload",
		CategoryId:   "cat1",
		Summary:      json.RawMessage(`{"text":"all good"}`),
		Participants: json.RawMessage(`["alice","bob"]`),
		Status:       model.StatusSucceeded,
	}
}

func Test_SqliteStorage(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	m := testMeeting("e1")
	err := store.Upsert(ctx, m)
	require.NoError(t, err)

	got, err := store.GetByKey(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, m.SameContent(*got))
	assert.False(t, got.UpdatedAt.IsZero())
	assert.JSONEq(t, `{"text":"all good"}`, string(got.Summary))
	assert.Nil(t, got.Topics)

	// no such meeting
	got, err = store.GetByKey(ctx, "noSuchId")
	assert.ErrorIs(t, err, storage.ErrNoRows)
	assert.Nil(t, got)

	// same key, new content - still one row
	m.Title = "renamed"
	err = store.Upsert(ctx, m)
	require.NoError(t, err)
	all, err := store.GetAll(ctx, "user1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "renamed", all[0].Title)

	keys, err := store.Keys(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, keys)

	keys, err = store.Keys(ctx, "user2")
	require.NoError(t, err)
	assert.Empty(t, keys)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[model.StatusSucceeded])

	err = store.Delete(ctx, "e1")
	require.NoError(t, err)
	err = store.Delete(ctx, "e1")
	assert.ErrorIs(t, err, storage.ErrNoRows)
	all, err = store.GetAll(ctx, "user1")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func Test_SqliteOrdering(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	for i, date := range []string{"2024-01-01", "2024-03-01", "2024-02-01"} {
		m := testMeeting(fmt.Sprintf("e%d", i))
		m.Date = date
		require.NoError(t, store.Upsert(ctx, m))
	}
	all, err := store.GetAll(ctx, "user1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "2024-03-01", all[0].Date)
	assert.Equal(t, "2024-02-01", all[1].Date)
	assert.Equal(t, "2024-01-01", all[2].Date)
}

func Test_SqliteMonotonicStatus(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	m := testMeeting("e1")
	m.Status = model.StatusProcessing
	m.Summary = nil
	require.NoError(t, store.Upsert(ctx, m))

	m.Status = model.StatusFailed
	m.ErrorMessage = "budget exhausted"
	require.NoError(t, store.Upsert(ctx, m))

	// late provisional write must not revert a terminal state
	m.Status = model.StatusProcessing
	err := store.Upsert(ctx, m)
	assert.ErrorIs(t, err, storage.ErrStaleWrite)

	// resumed watching found the result
	m.Status = model.StatusSucceeded
	m.ErrorMessage = ""
	m.Summary = json.RawMessage(`{"text":"done"}`)
	require.NoError(t, store.Upsert(ctx, m))

	m.Status = model.StatusFailed
	assert.ErrorIs(t, store.Upsert(ctx, m), storage.ErrStaleWrite)

	got, err := store.GetByKey(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSucceeded, got.Status)
}

func Test_SqliteUnchangedUpsertKeepsTimestamp(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	m := testMeeting("e1")
	require.NoError(t, store.Upsert(ctx, m))
	first, err := store.GetByKey(ctx, "e1")
	require.NoError(t, err)

	require.NoError(t, store.Upsert(ctx, m))
	second, err := store.GetByKey(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
}

func Test_SqliteConcurrentUpserts(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// every key is written twice from different goroutines
			m := testMeeting(fmt.Sprintf("e%d", i%10))
			assert.NoError(t, store.Upsert(ctx, m))
		}(i)
	}
	wg.Wait()

	keys, err := store.Keys(ctx, "user1")
	require.NoError(t, err)
	assert.Len(t, keys, 10)
}
