package repo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parMaster/meetsync/config"
	"github.com/parMaster/meetsync/storage/model"
)

// JobState is the lifecycle state of a Recording Job
type JobState string

const (
	StateCapturing  JobState = "capturing"
	StateUploading  JobState = "uploading"
	StateSubmitting JobState = "submitting"
	StateProcessing JobState = "processing"
	StateSucceeded  JobState = "succeeded"
	StateFailed     JobState = "failed"
	StateAbandoned  JobState = "abandoned"
)

// Done reports if the driver has nothing more to do for the job
func (s JobState) Done() bool {
	return s == StateSucceeded || s == StateFailed || s == StateAbandoned
}

// SizeClass only changes messaging and poll cadence
type SizeClass int

const (
	SizeNormal SizeClass = iota
	SizeLarge
	SizeVeryLarge
)

func (c SizeClass) String() string {
	switch c {
	case SizeLarge:
		return "large"
	case SizeVeryLarge:
		return "very large"
	}
	return "normal"
}

func classifySize(size model.FileSize, cfg config.Upload) SizeClass {
	switch {
	case size > cfg.VeryLargeSize:
		return SizeVeryLarge
	case size > cfg.LargeSize:
		return SizeLarge
	}
	return SizeNormal
}

// Artifact is a local audio file, captured or selected by the user
type Artifact struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
}

// StartRequest describes a new Recording Job
type StartRequest struct {
	UserId   string   `json:"user_id"`
	Title    string   `json:"title"`
	Artifact Artifact `json:"artifact"`
}

// Job is a Recording Job. Fields are advanced by the single driver goroutine
// of the job, everyone else reads them through Snapshot.
type Job struct {
	mx sync.RWMutex

	Id             string
	UserId         string
	Title          string
	Artifact       Artifact
	Size           model.FileSize
	Class          SizeClass
	RemoteFile     *model.RemoteFileRef
	EventId        string
	State          JobState
	UploadAttempts int
	SubmitAttempts int
	PollAttempts   int
	Err            error
	CreatedAt      time.Time
	UpdatedAt      time.Time

	cancel    context.CancelFunc // cancels the current phase
	stopped   bool               // the user asked to stop, honored by the next phase too
	cancelled bool               // the upload was cancelled, honored by the upload phase only
}

func newJob(req StartRequest, now time.Time) *Job {
	return &Job{
		Id:        uuid.NewString(),
		UserId:    req.UserId,
		Title:     req.Title,
		Artifact:  req.Artifact,
		State:     StateCapturing,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// update applies fn under the job lock
func (j *Job) update(fn func(j *Job)) {
	j.mx.Lock()
	defer j.mx.Unlock()
	fn(j)
}

func (j *Job) setState(s JobState, now time.Time) {
	j.update(func(j *Job) {
		j.State = s
		j.UpdatedAt = now
	})
}

func (j *Job) finish(s JobState, err error, now time.Time) {
	j.update(func(j *Job) {
		j.State = s
		j.Err = err
		j.UpdatedAt = now
		j.cancel = nil
	})
}

// uploadPending is true for jobs which failed or were cancelled before a remote file existed
func (j *Job) uploadPending() bool {
	j.mx.RLock()
	defer j.mx.RUnlock()
	return j.RemoteFile == nil && j.EventId == "" && j.State.Done()
}

func (j *Job) marker() model.PendingMarker {
	j.mx.RLock()
	defer j.mx.RUnlock()
	return model.PendingMarker{
		EventId:     j.EventId,
		UserId:      j.UserId,
		Title:       j.Title,
		Large:       j.Class >= SizeLarge,
		SubmittedAt: j.UpdatedAt,
	}
}

// JobSnapshot is a point-in-time copy of a Job
type JobSnapshot struct {
	Id             string         `json:"id"`
	UserId         string         `json:"user_id"`
	Title          string         `json:"title"`
	Artifact       Artifact       `json:"artifact"`
	Size           model.FileSize `json:"size"`
	SizeClass      string         `json:"size_class"`
	FileRef        string         `json:"file_ref,omitempty"`
	EventId        string         `json:"event_id,omitempty"`
	State          JobState       `json:"state"`
	UploadAttempts int            `json:"upload_attempts"`
	SubmitAttempts int            `json:"submit_attempts"`
	PollAttempts   int            `json:"poll_attempts"`
	Error          string         `json:"error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (j *Job) Snapshot() JobSnapshot {
	j.mx.RLock()
	defer j.mx.RUnlock()
	s := JobSnapshot{
		Id:             j.Id,
		UserId:         j.UserId,
		Title:          j.Title,
		Artifact:       j.Artifact,
		Size:           j.Size,
		SizeClass:      j.Class.String(),
		EventId:        j.EventId,
		State:          j.State,
		UploadAttempts: j.UploadAttempts,
		SubmitAttempts: j.SubmitAttempts,
		PollAttempts:   j.PollAttempts,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
	if j.RemoteFile != nil {
		s.FileRef = j.RemoteFile.FileRef
	}
	if j.Err != nil {
		s.Error = j.Err.Error()
	}
	return s
}

func (j *Job) isStopped() bool {
	j.mx.RLock()
	defer j.mx.RUnlock()
	return j.stopped
}
