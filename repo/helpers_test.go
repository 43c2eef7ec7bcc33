package repo

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parMaster/meetsync/client"
	"github.com/parMaster/meetsync/config"
	"github.com/parMaster/meetsync/storage/bolt"
	"github.com/parMaster/meetsync/storage/model"
	"github.com/parMaster/meetsync/storage/sqlite"
)

type statusReply struct {
	report *model.StatusReport
	err    error
}

func pending() statusReply {
	return statusReply{report: &model.StatusReport{Status: model.JobPending}}
}

func succeeded() statusReply {
	return statusReply{report: &model.StatusReport{Status: model.JobSuccess, Summary: []byte(`{"text":"done"}`)}}
}

func failing(code int) statusReply {
	return statusReply{err: &client.StatusError{Code: code, Op: "get job status"}}
}

// fakeGateway is an in-memory remote meeting service
type fakeGateway struct {
	mx sync.Mutex

	offline   bool
	targetErr error

	submitErrs  []error // returned by the n-th submit, nil or out of range - success
	submitCalls int
	onSubmit    func(n int)
	eventId     string
	seqIds      bool // ev1, ev2... per successful submit
	accepted    int

	statuses    []statusReply // the last one repeats
	statusCalls int
	onStatus    func(ctx context.Context, n int) error

	remote      []model.MeetingSummary
	meetings    map[string]model.Meeting
	detailErrs  map[string]error
	detailCalls map[string]int
	listCalls   int
	onList      func(userId string)

	deleteErr error
	deleted   []string
	renamed   map[string]string
	updates   map[string]model.MeetingPatch
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		eventId:     "ev1",
		statuses:    []statusReply{succeeded()},
		meetings:    map[string]model.Meeting{},
		detailErrs:  map[string]error{},
		detailCalls: map[string]int{},
		renamed:     map[string]string{},
		updates:     map[string]model.MeetingPatch{},
	}
}

// addRemote makes the meeting visible in the remote list and detail
func (g *fakeGateway) addRemote(m model.Meeting) {
	g.mx.Lock()
	defer g.mx.Unlock()
	g.remote = append(g.remote, model.MeetingSummary{EventId: m.EventId, Title: m.Title, Date: m.Date, StartTime: m.StartTime})
	g.meetings[m.EventId] = m
}

// removeRemote drops the meeting from the remote list
func (g *fakeGateway) removeRemote(eventId string) {
	g.mx.Lock()
	defer g.mx.Unlock()
	res := []model.MeetingSummary{}
	for _, s := range g.remote {
		if s.EventId != eventId {
			res = append(res, s)
		}
	}
	g.remote = res
	delete(g.meetings, eventId)
}

func (g *fakeGateway) Online(ctx context.Context) bool {
	g.mx.Lock()
	defer g.mx.Unlock()
	return !g.offline && ctx.Err() == nil
}

func (g *fakeGateway) RequestUploadTarget(_ context.Context) (*model.UploadTarget, error) {
	g.mx.Lock()
	defer g.mx.Unlock()
	if g.targetErr != nil {
		return nil, g.targetErr
	}
	return &model.UploadTarget{UploadURL: "https://storage.example.com/put/f1", FileRef: "f1"}, nil
}

func (g *fakeGateway) SubmitProcessingJob(_ context.Context, _ model.SubmitRequest) (*model.JobTicket, error) {
	g.mx.Lock()
	g.submitCalls++
	n, hook := g.submitCalls, g.onSubmit
	var err error
	if n <= len(g.submitErrs) {
		err = g.submitErrs[n-1]
	}
	eventId := g.eventId
	if err == nil && g.seqIds {
		g.accepted++
		eventId = fmt.Sprintf("ev%d", g.accepted)
	}
	g.mx.Unlock()

	if hook != nil {
		hook(n)
	}
	if err != nil {
		return nil, err
	}
	return &model.JobTicket{EventId: eventId}, nil
}

func (g *fakeGateway) GetJobStatus(ctx context.Context, _ string) (*model.StatusReport, error) {
	g.mx.Lock()
	g.statusCalls++
	n, hook := g.statusCalls, g.onStatus
	reply := g.statuses[min(n, len(g.statuses))-1]
	g.mx.Unlock()

	if hook != nil {
		if err := hook(ctx, n); err != nil {
			return nil, err
		}
	}
	if reply.err != nil {
		return nil, reply.err
	}
	r := *reply.report
	return &r, nil
}

func (g *fakeGateway) ListMeetings(_ context.Context, userId string, _ model.MeetingFilter) ([]model.MeetingSummary, error) {
	g.mx.Lock()
	g.listCalls++
	hook := g.onList
	res := append([]model.MeetingSummary(nil), g.remote...)
	g.mx.Unlock()

	if hook != nil {
		hook(userId)
	}
	return res, nil
}

func (g *fakeGateway) GetMeetingDetail(_ context.Context, eventId string) (*model.Meeting, error) {
	g.mx.Lock()
	defer g.mx.Unlock()
	g.detailCalls[eventId]++
	if err := g.detailErrs[eventId]; err != nil {
		return nil, err
	}
	m, ok := g.meetings[eventId]
	if !ok {
		return nil, &client.StatusError{Code: 404, Op: "get meeting detail"}
	}
	return &m, nil
}

func (g *fakeGateway) DeleteMeeting(_ context.Context, eventId string) error {
	g.mx.Lock()
	defer g.mx.Unlock()
	if g.deleteErr != nil {
		return g.deleteErr
	}
	g.deleted = append(g.deleted, eventId)
	return nil
}

func (g *fakeGateway) RenameMeeting(_ context.Context, eventId, title string) error {
	g.mx.Lock()
	defer g.mx.Unlock()
	g.renamed[eventId] = title
	return nil
}

func (g *fakeGateway) UpdateMeeting(_ context.Context, eventId string, patch model.MeetingPatch) error {
	g.mx.Lock()
	defer g.mx.Unlock()
	g.updates[eventId] = patch
	return nil
}

func (g *fakeGateway) calls() (submit, status int) {
	g.mx.Lock()
	defer g.mx.Unlock()
	return g.submitCalls, g.statusCalls
}

// fakeTransfer accepts uploads, or blocks until cancelled when block is set
type fakeTransfer struct {
	mx      sync.Mutex
	block   bool
	err     error
	calls   int
	got     int64
	started chan struct{}
}

func (f *fakeTransfer) Put(ctx context.Context, _ string, body io.Reader, _ int64, _ string) error {
	f.mx.Lock()
	f.calls++
	block, err, started := f.block, f.err, f.started
	f.mx.Unlock()

	if block {
		if started != nil {
			started <- struct{}{}
		}
		<-ctx.Done()
		return ctx.Err()
	}
	n, _ := io.Copy(io.Discard, body)
	f.mx.Lock()
	f.got = n
	f.mx.Unlock()
	return err
}

// fakeClock never waits, it records the delays and moves the time forward
type fakeClock struct {
	mx     sync.Mutex
	now    time.Time
	delays []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mx.Lock()
	defer c.mx.Unlock()
	c.delays = append(c.delays, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Delays() []time.Duration {
	c.mx.Lock()
	defer c.mx.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

// events collects notifications
type events struct {
	mx   sync.Mutex
	list []model.Event
}

func (e *events) Notify(ev model.Event) {
	e.mx.Lock()
	defer e.mx.Unlock()
	e.list = append(e.list, ev)
}

func (e *events) Of(kind model.EventKind) []model.Event {
	e.mx.Lock()
	defer e.mx.Unlock()
	res := []model.Event{}
	for _, ev := range e.list {
		if ev.Kind == kind {
			res = append(res, ev)
		}
	}
	return res
}

func testConfig() *config.Parameters {
	cfg := config.Default()
	cfg.Upload.LargeSize = 100
	cfg.Upload.VeryLargeSize = 200
	return cfg
}

func newTestStores(t *testing.T) (*sqlite.SQLiteStorage, *bolt.MarkerStorage) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	dir := t.TempDir()
	store, err := sqlite.NewStorage(ctx, "file:"+filepath.Join(dir, "meetings.db")+"?mode=rwc&_journal_mode=WAL")
	require.NoError(t, err)
	markers, err := bolt.NewMarkerStorage(ctx, filepath.Join(dir, "markers.db"))
	require.NoError(t, err)
	return store, markers
}

func writeArtifact(t *testing.T, size int) Artifact {
	path := filepath.Join(t.TempDir(), "recording.m4a")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o600))
	return Artifact{Path: path, Name: "recording.m4a"}
}

func remoteMeeting(id, date, start string) model.Meeting {
	return model.Meeting{
		EventId:   id,
		UserId:    "user1",
		Title:     "meeting " + id,
		Date:      date,
		StartTime: start,
		EndTime:   "23:00",
		Organizer: "alice@example.com",
		Source:    "bot",
		Summary:   []byte(`{"text":"summary of ` + id + `"}`),
		Topics:    []byte(`["planning"]`),
		Status:    model.StatusSucceeded,
	}
}
