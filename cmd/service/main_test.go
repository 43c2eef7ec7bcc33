package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parMaster/meetsync/client"
	"github.com/parMaster/meetsync/config"
	"github.com/parMaster/meetsync/storage"
	"github.com/parMaster/meetsync/storage/bolt"
	"github.com/parMaster/meetsync/storage/model"
)

// remote is an in-memory meeting service, every job succeeds right away
type remote struct {
	mx       sync.Mutex
	offline  bool
	meetings map[string]model.Meeting
	listed   []string
}

func (g *remote) Online(_ context.Context) bool {
	g.mx.Lock()
	defer g.mx.Unlock()
	return !g.offline
}

func (g *remote) RequestUploadTarget(_ context.Context) (*model.UploadTarget, error) {
	return &model.UploadTarget{UploadURL: "https://storage.example.com/put/f1", FileRef: "f1"}, nil
}

func (g *remote) SubmitProcessingJob(_ context.Context, r model.SubmitRequest) (*model.JobTicket, error) {
	return &model.JobTicket{EventId: "ev1"}, nil
}

func (g *remote) GetJobStatus(_ context.Context, _ string) (*model.StatusReport, error) {
	return &model.StatusReport{Status: model.JobSuccess, Summary: []byte(`{"text":"done"}`)}, nil
}

func (g *remote) ListMeetings(_ context.Context, _ string, _ model.MeetingFilter) ([]model.MeetingSummary, error) {
	g.mx.Lock()
	defer g.mx.Unlock()
	res := []model.MeetingSummary{}
	for _, id := range g.listed {
		m := g.meetings[id]
		res = append(res, model.MeetingSummary{EventId: m.EventId, Title: m.Title, Date: m.Date, StartTime: m.StartTime})
	}
	return res, nil
}

func (g *remote) GetMeetingDetail(_ context.Context, eventId string) (*model.Meeting, error) {
	g.mx.Lock()
	defer g.mx.Unlock()
	m, ok := g.meetings[eventId]
	if !ok {
		return nil, &client.StatusError{Code: 404, Op: "get meeting detail"}
	}
	return &m, nil
}

func (g *remote) DeleteMeeting(_ context.Context, eventId string) error {
	g.mx.Lock()
	defer g.mx.Unlock()
	delete(g.meetings, eventId)
	return nil
}

func (g *remote) RenameMeeting(_ context.Context, _, _ string) error { return nil }

func (g *remote) UpdateMeeting(_ context.Context, _ string, _ model.MeetingPatch) error { return nil }

type discard struct{}

func (discard) Put(_ context.Context, _ string, body io.Reader, _ int64, _ string) error {
	_, err := io.Copy(io.Discard, body)
	return err
}

func meeting(id string) model.Meeting {
	return model.Meeting{EventId: id, UserId: "user1", Title: "meeting " + id, Date: "2024-03-01", StartTime: "10:00",
		Summary: []byte(`{"text":"summary"}`), Status: model.StatusSucceeded}
}

type fixture struct {
	srv     *Server
	gw      *remote
	markers *bolt.MarkerStorage
	url     string
}

func newTestServer(t *testing.T) *fixture {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Server.UserId = "user1"
	cfg.Storage.Path = "file:" + filepath.Join(dir, "meetsync.db") + "?mode=rwc&_journal_mode=WAL"
	cfg.Storage.MarkersPath = filepath.Join(dir, "markers.db")
	cfg.Storage.ImportDir = dir

	var store storage.Storer
	require.NoError(t, LoadStorage(ctx, cfg.Storage, &store))
	markers, err := bolt.NewMarkerStorage(ctx, cfg.Storage.MarkersPath)
	require.NoError(t, err)

	gw := &remote{meetings: map[string]model.Meeting{"ev1": meeting("ev1")}}
	s := NewServer(cfg)
	s.setup(ctx, gw, discard{}, store, markers)

	ts := httptest.NewServer(s.router())
	t.Cleanup(func() {
		ts.Close()
		s.engine.Wait()
	})
	return &fixture{srv: s, gw: gw, markers: markers, url: ts.URL}
}

func call(t *testing.T, method, url, body string) (int, map[string]interface{}) {
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	res := map[string]interface{}{}
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &res), string(data))
	}
	return resp.StatusCode, res
}

func Test_LoadStorage(t *testing.T) {
	var s storage.Storer
	assert.Error(t, LoadStorage(context.Background(), config.Storage{}, &s))
	assert.Error(t, LoadStorage(context.Background(), config.Storage{Type: "mongo"}, &s))
}

func Test_Meetings(t *testing.T) {
	f := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, f.srv.store.Upsert(ctx, meeting("A")))
	f.gw.meetings["A"] = meeting("A")

	code, res := call(t, "GET", f.url+"/meetings?user=user1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, res["data"], 1)

	code, res = call(t, "GET", f.url+"/meetings/A", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "meeting A", res["title"])

	code, _ = call(t, "GET", f.url+"/meetings/nope", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, res = call(t, "PATCH", f.url+"/meetings/A", `{"title":"retro"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "retro", res["title"])

	code, _ = call(t, "PATCH", f.url+"/meetings/A", `{"topic":"retro"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = call(t, "DELETE", f.url+"/meetings/A", "")
	require.Equal(t, http.StatusOK, code)
	code, _ = call(t, "GET", f.url+"/meetings/A", "")
	assert.Equal(t, http.StatusNotFound, code)

	// invalidations are in the event feed
	code, res = call(t, "GET", f.url+"/events", "")
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, res["data"])
}

func Test_Recordings(t *testing.T) {
	f := newTestServer(t)

	path := filepath.Join(t.TempDir(), "standup.m4a")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o600))

	code, res := call(t, "POST", f.url+"/recordings", `{"title":"standup","path":"`+path+`"}`)
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "user1", res["user_id"])

	require.Eventually(t, func() bool {
		m, err := f.srv.store.GetByKey(context.Background(), "ev1")
		return err == nil && m.Status == model.StatusSucceeded
	}, 5*time.Second, 10*time.Millisecond)
	f.srv.engine.Wait()

	code, res = call(t, "GET", f.url+"/jobs", "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, res["data"])

	code, _ = call(t, "POST", f.url+"/recordings", `{"title":"no artifact"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = call(t, "POST", f.url+"/recordings", `{"url":"ftp://example.com/rec.m4a"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = call(t, "POST", f.url+"/jobs/nope/cancel", "")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = call(t, "GET", f.url+"/jobs/nope", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func Test_Pending(t *testing.T) {
	f := newTestServer(t)
	m := model.PendingMarker{EventId: "ev9", UserId: "user1", Title: "late", SubmittedAt: time.Now().Add(-time.Hour)}
	require.NoError(t, f.markers.SaveMarker(context.Background(), m))

	code, res := call(t, "GET", f.url+"/pending", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, res["data"], 1)

	code, _ = call(t, "DELETE", f.url+"/pending/ev9", "")
	require.Equal(t, http.StatusOK, code)

	code, res = call(t, "GET", f.url+"/pending", "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, res["data"])

	code, _ = call(t, "POST", f.url+"/pending/ev9/resume", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func Test_SyncAndStatus(t *testing.T) {
	f := newTestServer(t)
	gw := f.gw
	gw.listed = []string{"ev1"}

	code, res := call(t, "POST", f.url+"/sync", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), res["saved"])

	code, res = call(t, "GET", f.url+"/meetings", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, res["data"], 1)

	gw.mx.Lock()
	gw.offline = true
	gw.mx.Unlock()

	code, _ = call(t, "POST", f.url+"/sync", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, res = call(t, "GET", f.url+"/status", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OFFLINE", res["status"])
	assert.Equal(t, false, res["online"])
	assert.NotNil(t, res["storage"])

	req, err := http.NewRequest("GET", f.url+"/ping", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(body))
}
