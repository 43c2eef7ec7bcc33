package repo

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/parMaster/meetsync/client"
	"github.com/parMaster/meetsync/config"
	"github.com/parMaster/meetsync/storage/model"
)

// Submitter starts remote processing of an uploaded file, retrying on its own
// within the configured budget
type Submitter struct {
	gw  Gateway
	cfg config.Submit
	options
}

func NewSubmitter(gw Gateway, cfg config.Submit, opts ...Option) *Submitter {
	return &Submitter{gw: gw, cfg: cfg, options: newOptions(opts)}
}

// Backoff returns the delay after the failed attempt (1-based).
// Overload signals grow the delay faster, both are capped by MaxDelay.
func (s *Submitter) Backoff(attempt int, class client.Class) time.Duration {
	f := s.cfg.Factor
	if class == client.ClassOverload {
		f = s.cfg.OverloadFactor
	}
	d := float64(s.cfg.BaseDelay) * math.Pow(f, float64(attempt-1))
	if d > float64(s.cfg.MaxDelay) {
		return s.cfg.MaxDelay
	}
	return time.Duration(d)
}

// Submit returns the event id of the accepted job or ErrSubmissionFailed.
// Permanent rejections and connectivity failures are not retried.
func (s *Submitter) Submit(ctx context.Context, job *Job, ref model.RemoteFileRef, title string) (string, error) {
	req := model.SubmitRequest{FileRef: ref.FileRef, Title: title}

	maxAttempts := max(s.cfg.MaxAttempts, 1)
	var lastErr error
	var delay time.Duration
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		job.update(func(j *Job) { j.SubmitAttempts = attempt })
		s.emit(model.Event{Kind: model.EventSubmitAttempt, JobId: job.Id, Attempt: attempt, MaxAttempts: maxAttempts, Delay: delay})

		ticket, err := s.gw.SubmitProcessingJob(ctx, req)
		if err == nil {
			s.emit(model.Event{Kind: model.EventSubmitted, JobId: job.Id, EventId: ticket.EventId, Attempt: attempt})
			return ticket.EventId, nil
		}
		lastErr = err

		class := client.Classify(err)
		if class == client.ClassCancelled {
			return "", ErrCancelled
		}
		if !class.Retryable() || attempt == maxAttempts {
			log.Printf("[ERROR] job %s: submit attempt %d/%d failed (%s), giving up: %v", job.Id, attempt, maxAttempts, class, err)
			break
		}

		delay = s.Backoff(attempt, class)
		log.Printf("[WARN] job %s: submit attempt %d/%d failed (%s), retrying in %v: %v", job.Id, attempt, maxAttempts, class, delay, err)
		if err := s.clock.Sleep(ctx, delay); err != nil {
			return "", ErrCancelled
		}
	}

	s.emit(model.Event{Kind: model.EventSubmitFailed, JobId: job.Id, Message: lastErr.Error()})
	return "", fmt.Errorf("%w: %w", ErrSubmissionFailed, lastErr)
}
