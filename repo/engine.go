package repo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"

	"github.com/parMaster/meetsync/config"
	"github.com/parMaster/meetsync/storage"
	"github.com/parMaster/meetsync/storage/model"
)

// Engine drives Recording Jobs through upload, submit and poll. Every job has its
// own driver goroutine, counters and cancel func; the arena only indexes them.
type Engine struct {
	uploader  *Uploader
	submitter *Submitter
	poller    *Poller
	store     storage.Storer
	markers   storage.MarkerStorer
	options

	mx      sync.Mutex
	jobs    map[string]*Job   // by local id
	byEvent map[string]string // event id -> local id
	wg      sync.WaitGroup
}

func NewEngine(gw Gateway, tr Transferer, store storage.Storer, markers storage.MarkerStorer, cfg *config.Parameters, opts ...Option) *Engine {
	return &Engine{
		uploader:  NewUploader(gw, tr, cfg.Upload, opts...),
		submitter: NewSubmitter(gw, cfg.Submit, opts...),
		poller:    NewPoller(gw, store, markers, cfg.Poll, opts...),
		store:     store,
		markers:   markers,
		options:   newOptions(opts),
		jobs:      make(map[string]*Job),
		byEvent:   make(map[string]string),
	}
}

func (e *Engine) add(job *Job) {
	e.mx.Lock()
	defer e.mx.Unlock()
	e.jobs[job.Id] = job
	if job.EventId != "" {
		e.byEvent[job.EventId] = job.Id
	}
}

func (e *Engine) bind(job *Job, eventId string) {
	job.update(func(j *Job) { j.EventId = eventId })
	e.mx.Lock()
	e.byEvent[eventId] = job.Id
	e.mx.Unlock()
}

func (e *Engine) release(job *Job) {
	s := job.Snapshot()
	e.mx.Lock()
	defer e.mx.Unlock()
	delete(e.jobs, s.Id)
	if s.EventId != "" && e.byEvent[s.EventId] == s.Id {
		delete(e.byEvent, s.EventId)
	}
}

// find looks the job up by local id, then by event id
func (e *Engine) find(id string) (*Job, error) {
	e.mx.Lock()
	defer e.mx.Unlock()
	if job, ok := e.jobs[id]; ok {
		return job, nil
	}
	if jid, ok := e.byEvent[id]; ok {
		return e.jobs[jid], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
}

func validate(req StartRequest) error {
	if req.UserId == "" {
		return fmt.Errorf("%w: user id is required", ErrBadRequest)
	}
	if req.Artifact.Path == "" {
		return fmt.Errorf("%w: artifact path is required", ErrBadRequest)
	}
	if _, err := os.Stat(req.Artifact.Path); err != nil {
		return fmt.Errorf("%w: bad artifact: %w", ErrBadRequest, err)
	}
	return nil
}

// Start registers a new job and drives it in the background. ctx bounds the
// job's lifetime and must outlive the caller's request.
func (e *Engine) Start(ctx context.Context, req StartRequest) (JobSnapshot, error) {
	if err := validate(req); err != nil {
		return JobSnapshot{}, err
	}
	job := newJob(req, e.clock.Now())
	e.add(job)
	e.spawn(ctx, job)
	return job.Snapshot(), nil
}

// Run registers a new job and drives it to the end
func (e *Engine) Run(ctx context.Context, req StartRequest) (JobSnapshot, error) {
	if err := validate(req); err != nil {
		return JobSnapshot{}, err
	}
	job := newJob(req, e.clock.Now())
	e.add(job)
	err := e.drive(ctx, job)
	return job.Snapshot(), err
}

func (e *Engine) spawn(ctx context.Context, job *Job) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.drive(ctx, job); err != nil {
			log.Printf("[DEBUG] job %s stopped: %v", job.Id, err)
		}
	}()
}

// Wait blocks until every background job driver has returned
func (e *Engine) Wait() {
	e.wg.Wait()
}

// phase runs fn with a context the user can cancel through the job
func (e *Engine) phase(ctx context.Context, job *Job, state JobState, fn func(ctx context.Context) error) error {
	pctx, cancel := context.WithCancel(ctx)
	defer cancel()
	job.update(func(j *Job) {
		j.State = state
		j.UpdatedAt = e.clock.Now()
		j.cancel = cancel
		if j.stopped || (state == StateUploading && j.cancelled) {
			cancel()
		}
	})
	err := fn(pctx)
	job.update(func(j *Job) { j.cancel = nil })
	return err
}

// drive is the single driver loop of a job: upload, submit, provisional record, poll.
// A job with a remote file skips the upload, a job with an event id only polls.
func (e *Engine) drive(ctx context.Context, job *Job) error {
	if job.Snapshot().FileRef == "" && job.Snapshot().EventId == "" {
		var ref *model.RemoteFileRef
		err := e.phase(ctx, job, StateUploading, func(ctx context.Context) (err error) {
			ref, err = e.uploader.Upload(ctx, job)
			return err
		})
		if errors.Is(err, ErrCancelled) {
			// kept in the arena, RetryUpload replays it
			job.finish(StateAbandoned, err, e.clock.Now())
			return err
		}
		if err != nil {
			job.finish(StateFailed, err, e.clock.Now())
			return err
		}
		// a cancel racing the end of the transfer is dropped with the upload phase
		job.update(func(j *Job) {
			j.RemoteFile = ref
			j.cancelled = false
		})
	}

	if job.Snapshot().EventId == "" {
		var eventId string
		err := e.phase(ctx, job, StateSubmitting, func(ctx context.Context) (err error) {
			job.mx.RLock()
			ref, title := *job.RemoteFile, job.Title
			job.mx.RUnlock()
			eventId, err = e.submitter.Submit(ctx, job, ref, title)
			return err
		})
		if err != nil {
			state := StateFailed
			if errors.Is(err, ErrCancelled) {
				state = StateAbandoned
			}
			job.finish(state, err, e.clock.Now())
			e.release(job)
			return err
		}
		e.bind(job, eventId)
		job.setState(StateProcessing, e.clock.Now())

		// visible to the user right away, reconciled by the poller under the same key
		if err := save(ctx, e.store, provisional(job.marker())); err != nil {
			log.Printf("[ERROR] can't save provisional meeting %s: %v", eventId, err)
		}
	}

	return e.watch(ctx, job)
}

func (e *Engine) watch(ctx context.Context, job *Job) error {
	marker := job.marker()
	if m, err := e.markers.GetMarker(ctx, marker.EventId); err == nil {
		marker.SubmittedAt = m.SubmittedAt // resumed, keep the original submission time
	}

	err := e.phase(ctx, job, StateProcessing, func(ctx context.Context) error {
		_, err := e.poller.Watch(ctx, job, marker)
		return err
	})
	defer e.release(job)

	switch {
	case err == nil:
		job.finish(StateSucceeded, nil, e.clock.Now())
	case errors.Is(err, ErrCancelled), errors.Is(err, ErrBudgetExhausted):
		job.finish(StateAbandoned, err, e.clock.Now())
		if errors.Is(err, ErrCancelled) {
			msg := "stopped watching"
			if job.isStopped() {
				msg = "abandoned by user"
			}
			e.emit(model.Event{Kind: model.EventAbandoned, JobId: job.Id, EventId: marker.EventId, UserId: marker.UserId, Message: msg})
		}
	default:
		job.finish(StateFailed, err, e.clock.Now())
	}
	return err
}

// Cancel stops the upload of the job. Uploaded and submitted jobs can only be abandoned.
func (e *Engine) Cancel(id string) error {
	job, err := e.find(id)
	if err != nil {
		return err
	}
	job.mx.Lock()
	defer job.mx.Unlock()
	if job.State != StateUploading && job.State != StateCapturing {
		return fmt.Errorf("%w: %s is %s", ErrNotCancellable, job.Id, job.State)
	}
	if job.RemoteFile != nil {
		return fmt.Errorf("%w: %s is already uploaded", ErrNotCancellable, job.Id)
	}
	job.cancelled = true
	if job.cancel != nil {
		job.cancel()
	}
	return nil
}

// RetryUpload replays a failed or cancelled upload from the same local artifact
func (e *Engine) RetryUpload(ctx context.Context, id string) (JobSnapshot, error) {
	job, err := e.find(id)
	if err != nil {
		return JobSnapshot{}, err
	}
	if !job.uploadPending() {
		return JobSnapshot{}, fmt.Errorf("%w: job %s is %s, nothing to retry", ErrBadRequest, job.Id, job.Snapshot().State)
	}
	job.update(func(j *Job) {
		j.State = StateCapturing
		j.Err = nil
		j.stopped = false
		j.cancelled = false
		j.UpdatedAt = e.clock.Now()
	})
	e.spawn(ctx, job)
	return job.Snapshot(), nil
}

// Abandon stops watching the job locally, the remote job is not cancelled and its
// marker is kept, so it can be resumed. Jobs with a failed upload are dropped.
func (e *Engine) Abandon(id string) error {
	job, err := e.find(id)
	if err != nil {
		return err
	}
	if job.uploadPending() {
		e.release(job)
		return nil
	}
	job.update(func(j *Job) {
		j.stopped = true
		if j.cancel != nil {
			j.cancel()
		}
	})
	return nil
}

// Recover returns markers of the jobs nobody is watching, read once at startup
func (e *Engine) Recover(ctx context.Context) ([]model.PendingMarker, error) {
	markers, err := e.markers.ListMarkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("can't list pending markers: %w", err)
	}

	e.mx.Lock()
	defer e.mx.Unlock()
	res := []model.PendingMarker{}
	for _, m := range markers {
		if _, watched := e.byEvent[m.EventId]; !watched {
			res = append(res, m)
		}
	}
	return res, nil
}

// Resume starts watching a pending job again
func (e *Engine) Resume(ctx context.Context, eventId string) (JobSnapshot, error) {
	if job, err := e.find(eventId); err == nil {
		return job.Snapshot(), nil
	}
	marker, err := e.markers.GetMarker(ctx, eventId)
	if errors.Is(err, storage.ErrNoRows) {
		return JobSnapshot{}, fmt.Errorf("%w: no pending marker for %s", ErrJobNotFound, eventId)
	}
	if err != nil {
		return JobSnapshot{}, err
	}

	job := newJob(StartRequest{UserId: marker.UserId, Title: marker.Title}, e.clock.Now())
	job.EventId = marker.EventId
	job.State = StateProcessing
	if marker.Large {
		job.Class = SizeLarge
	}
	e.add(job)
	log.Printf("[INFO] resuming %s, submitted at %s", marker.EventId, marker.SubmittedAt.Format("2006-01-02 15:04:05"))
	e.spawn(ctx, job)
	return job.Snapshot(), nil
}

// ResumeAll resumes every pending job, returns the number of resumed jobs
func (e *Engine) ResumeAll(ctx context.Context) (int, error) {
	markers, err := e.Recover(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range markers {
		if _, err := e.Resume(ctx, m.EventId); err != nil {
			log.Printf("[WARN] can't resume %s: %v", m.EventId, err)
			continue
		}
		n++
	}
	return n, nil
}

// Dismiss stops watching the job and forgets its marker, it won't be offered for resuming
func (e *Engine) Dismiss(ctx context.Context, eventId string) error {
	if job, err := e.find(eventId); err == nil {
		job.update(func(j *Job) {
			j.stopped = true
			if j.cancel != nil {
				j.cancel()
			}
		})
	}
	if err := e.markers.DeleteMarker(ctx, eventId); err != nil {
		return fmt.Errorf("can't delete pending marker %s: %w", eventId, err)
	}
	log.Printf("[INFO] dismissed pending job %s", eventId)
	return nil
}

// Job returns a snapshot of the job by local or event id
func (e *Engine) Job(id string) (JobSnapshot, error) {
	job, err := e.find(id)
	if err != nil {
		return JobSnapshot{}, err
	}
	return job.Snapshot(), nil
}

// Jobs returns snapshots of the jobs in the arena, oldest first
func (e *Engine) Jobs() []JobSnapshot {
	e.mx.Lock()
	res := make([]JobSnapshot, 0, len(e.jobs))
	for _, job := range e.jobs {
		res = append(res, job.Snapshot())
	}
	e.mx.Unlock()

	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].Id < res[j].Id
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res
}
