package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parMaster/meetsync/client"
	"github.com/parMaster/meetsync/storage"
	"github.com/parMaster/meetsync/storage/model"
)

func Test_MeetingService(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStores(t)
	cached := storage.NewCached(store, 0)
	invalidated := []string{}
	cached.OnInvalidate(func(_, eventId string) { invalidated = append(invalidated, eventId) })

	gw := newFakeGateway()
	svc := NewMeetingService(gw, cached)
	require.NoError(t, cached.Upsert(ctx, remoteMeeting("A", "2024-03-01", "10:00")))
	require.NoError(t, cached.Upsert(ctx, remoteMeeting("B", "2024-03-02", "10:00")))

	list, err := svc.List(ctx, "user1")
	require.NoError(t, err)
	require.Len(t, list, 2)

	m, err := svc.Rename(ctx, "A", "planning")
	require.NoError(t, err)
	assert.Equal(t, "planning", m.Title)
	assert.Equal(t, "planning", gw.renamed["A"])
	assert.Empty(t, gw.updates, "title only edits go through rename")

	got, err := svc.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "planning", got.Title, "cache is invalidated by the write")

	public, category := true, "cat2"
	m, err = svc.Update(ctx, "B", model.MeetingPatch{IsPublic: &public, CategoryId: &category})
	require.NoError(t, err)
	assert.True(t, m.IsPublic)
	assert.Equal(t, "cat2", m.CategoryId)
	assert.Equal(t, "meeting B", m.Title)
	require.Contains(t, gw.updates, "B")
	assert.True(t, *gw.updates["B"].IsPublic)

	_, err = svc.Update(ctx, "nope", model.MeetingPatch{IsPublic: &public})
	assert.ErrorIs(t, err, storage.ErrNoRows)

	// remote delete failed, the local row stays
	gw.deleteErr = &client.StatusError{Code: 500}
	require.Error(t, svc.Delete(ctx, "A"))
	_, err = svc.Get(ctx, "A")
	require.NoError(t, err)

	gw.deleteErr = nil
	require.NoError(t, svc.Delete(ctx, "A"))
	_, err = svc.Get(ctx, "A")
	assert.ErrorIs(t, err, storage.ErrNoRows)

	// already gone locally
	require.NoError(t, svc.Delete(ctx, "A"))

	assert.Equal(t, []string{"A", "B", "A", "B", "A"}, invalidated)
}
