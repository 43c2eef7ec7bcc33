package repo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/parMaster/meetsync/client"
	"github.com/parMaster/meetsync/config"
	"github.com/parMaster/meetsync/storage"
	"github.com/parMaster/meetsync/storage/model"
)

// Poller watches a submitted job until it's terminal or the budget is spent.
// The Pending-Job Marker is saved before the first poll and removed only
// when the job reaches a terminal state.
type Poller struct {
	gw      Gateway
	store   storage.Storer
	markers storage.MarkerStorer
	cfg     config.Poll
	options
}

func NewPoller(gw Gateway, store storage.Storer, markers storage.MarkerStorer, cfg config.Poll, opts ...Option) *Poller {
	return &Poller{gw: gw, store: store, markers: markers, cfg: cfg, options: newOptions(opts)}
}

// Interval returns the wait after the poll attempt (1-based)
func (p *Poller) Interval(attempt int, large bool) time.Duration {
	if large && attempt >= p.cfg.LargeWidenAfter {
		return time.Duration(float64(p.cfg.Interval) * p.cfg.LargeWidenFactor)
	}
	return p.cfg.Interval
}

// Watch polls the marker's event until it's terminal and returns the stored meeting.
// Errors:
//   - ErrCancelled: ctx is done, watching abandoned, the marker is kept
//   - ErrBudgetExhausted: record marked failed, the marker is kept for resuming
//   - ErrTooManyErrors, ErrProcessingFailed: record marked failed, marker cleared
func (p *Poller) Watch(ctx context.Context, job *Job, marker model.PendingMarker) (*model.Meeting, error) {
	if err := p.markers.SaveMarker(ctx, marker); err != nil {
		log.Printf("[ERROR] can't save pending marker for %s: %v", marker.EventId, err)
	}

	maxErrors, notifyEvery := p.cfg.MaxErrors, p.cfg.NotifyEvery
	if marker.Large {
		maxErrors, notifyEvery = p.cfg.MaxErrorsLarge, p.cfg.NotifyEveryLarge
	}
	notifyEvery = max(notifyEvery, 1)
	maxAttempts := max(p.cfg.MaxAttempts, 1)

	errorsInRow := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		job.update(func(j *Job) { j.PollAttempts = attempt })

		report, err := p.gw.GetJobStatus(ctx, marker.EventId)
		var detail *model.Meeting
		detailFailed := false
		if err == nil && report.Terminal() && report.Status == model.JobSuccess {
			// the detail may lag behind the status, any failure here is retried
			detail, err = p.gw.GetMeetingDetail(ctx, marker.EventId)
			detailFailed = err != nil
		}

		switch {
		case err != nil:
			class := client.Classify(err)
			if class == client.ClassCancelled {
				return nil, ErrCancelled
			}
			if class == client.ClassPermanent && !detailFailed {
				return nil, p.fail(ctx, job, marker, fmt.Errorf("%w: %w", ErrProcessingFailed, err))
			}
			errorsInRow++
			log.Printf("[WARN] event %s: poll %d/%d failed (%s), %d errors in a row: %v",
				marker.EventId, attempt, maxAttempts, class, errorsInRow, err)
			if errorsInRow > maxErrors {
				return nil, p.fail(ctx, job, marker, fmt.Errorf("%w: %w", ErrTooManyErrors, err))
			}

		case report.Terminal() && report.Status == model.JobSuccess:
			return p.succeed(ctx, job, marker, detail, report)

		case report.Terminal():
			return nil, p.fail(ctx, job, marker, fmt.Errorf("%w: %s", ErrProcessingFailed, report.ErrorMessage))

		default:
			errorsInRow = 0
			log.Printf("[DEBUG] event %s: poll %d/%d, status %q", marker.EventId, attempt, maxAttempts, report.Status)
			if attempt%notifyEvery == 0 {
				p.emit(model.Event{Kind: model.EventPollProgress, JobId: job.Id, EventId: marker.EventId,
					Attempt: attempt, MaxAttempts: maxAttempts, Percent: attempt * 100 / maxAttempts})
			}
		}

		if attempt == maxAttempts {
			break
		}
		if err := p.clock.Sleep(ctx, p.Interval(attempt, marker.Large)); err != nil {
			return nil, ErrCancelled
		}
	}

	return nil, p.exhausted(ctx, job, marker)
}

// record returns the stored record of the event or a fresh one built from the marker
func (p *Poller) record(ctx context.Context, marker model.PendingMarker) model.Meeting {
	m, err := p.store.GetByKey(ctx, marker.EventId)
	if err == nil {
		return *m
	}
	if !errors.Is(err, storage.ErrNoRows) {
		log.Printf("[WARN] can't read %s: %v", marker.EventId, err)
	}
	return provisional(marker)
}

// provisional is the record shown while the job is processing
func provisional(marker model.PendingMarker) model.Meeting {
	return model.Meeting{
		EventId:   marker.EventId,
		UserId:    marker.UserId,
		Title:     marker.Title,
		Date:      marker.SubmittedAt.Format(time.DateOnly),
		StartTime: marker.SubmittedAt.Format(time.TimeOnly),
		Source:    "upload",
		Status:    model.StatusProcessing,
	}
}

// succeed persists the full record first, only then the marker is cleared
func (p *Poller) succeed(ctx context.Context, job *Job, marker model.PendingMarker, detail *model.Meeting, report *model.StatusReport) (*model.Meeting, error) {
	m := *detail
	m.EventId = marker.EventId
	if m.UserId == "" {
		m.UserId = marker.UserId
	}
	if m.Title == "" {
		m.Title = marker.Title
	}
	if len(m.Summary) == 0 {
		m.Summary = report.Summary
	}
	m.Status = model.StatusSucceeded
	m.ErrorMessage = ""

	if err := save(ctx, p.store, m); err != nil {
		return nil, fmt.Errorf("can't save meeting %s: %w", m.EventId, err)
	}
	if err := p.markers.DeleteMarker(ctx, marker.EventId); err != nil {
		log.Printf("[WARN] can't delete pending marker %s: %v", marker.EventId, err)
	}

	p.emit(model.Event{Kind: model.EventSucceeded, JobId: job.Id, EventId: m.EventId, UserId: m.UserId, Message: m.Title})
	log.Printf("[INFO] meeting %s is ready", m.EventId)
	return &m, nil
}

// fail marks the record failed and clears the marker, nothing is left to watch
func (p *Poller) fail(ctx context.Context, job *Job, marker model.PendingMarker, cause error) error {
	m := p.record(ctx, marker)
	m.Status = model.StatusFailed
	m.ErrorMessage = cause.Error()
	if err := save(ctx, p.store, m); err != nil {
		return errors.Join(cause, fmt.Errorf("can't save failed meeting %s: %w", m.EventId, err))
	}
	if err := p.markers.DeleteMarker(ctx, marker.EventId); err != nil {
		log.Printf("[WARN] can't delete pending marker %s: %v", marker.EventId, err)
	}

	p.emit(model.Event{Kind: model.EventFailed, JobId: job.Id, EventId: marker.EventId, UserId: marker.UserId, Message: cause.Error()})
	log.Printf("[WARN] meeting %s failed: %v", marker.EventId, cause)
	return cause
}

// exhausted marks the record failed but keeps the marker, the job may still finish remotely
func (p *Poller) exhausted(ctx context.Context, job *Job, marker model.PendingMarker) error {
	m := p.record(ctx, marker)
	m.Status = model.StatusFailed
	m.ErrorMessage = ErrBudgetExhausted.Error()
	if err := save(ctx, p.store, m); err != nil {
		log.Printf("[ERROR] can't save meeting %s: %v", m.EventId, err)
	}
	if err := p.markers.SaveMarker(ctx, marker); err != nil {
		log.Printf("[ERROR] can't save pending marker for %s: %v", marker.EventId, err)
	}

	p.emit(model.Event{Kind: model.EventAbandoned, JobId: job.Id, EventId: marker.EventId, UserId: marker.UserId, Message: ErrBudgetExhausted.Error()})
	log.Printf("[INFO] stopped watching %s after %d polls", marker.EventId, p.cfg.MaxAttempts)
	return ErrBudgetExhausted
}
