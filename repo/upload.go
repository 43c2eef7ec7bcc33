package repo

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/parMaster/meetsync/client"
	"github.com/parMaster/meetsync/config"
	"github.com/parMaster/meetsync/storage/model"
)

// Uploader turns a local artifact into a remote file. Upload failures are
// never retried automatically, the user replays them with RetryUpload.
type Uploader struct {
	gw  Gateway
	tr  Transferer
	cfg config.Upload
	options
}

func NewUploader(gw Gateway, tr Transferer, cfg config.Upload, opts ...Option) *Uploader {
	return &Uploader{gw: gw, tr: tr, cfg: cfg, options: newOptions(opts)}
}

// settleDelay gives the remote storage time to make a fresh object visible
func (u *Uploader) settleDelay(c SizeClass) time.Duration {
	switch c {
	case SizeVeryLarge:
		return u.cfg.SettleVeryLarge
	case SizeLarge:
		return u.cfg.SettleLarge
	}
	return 0
}

// Upload measures and transfers the job's artifact. Cancelling ctx stops the
// transfer and returns ErrCancelled, the remote file is not assumed to exist then.
func (u *Uploader) Upload(ctx context.Context, job *Job) (*model.RemoteFileRef, error) {
	job.update(func(j *Job) { j.UploadAttempts++ })

	if !u.gw.Online(ctx) {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		return nil, &UploadError{Kind: UploadNoNetwork, Err: client.ErrNoNetwork}
	}

	f, err := os.Open(job.Artifact.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: can't open artifact: %w", ErrBadRequest, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: can't stat artifact: %w", ErrBadRequest, err)
	}

	size := model.FileSize(info.Size())
	class := classifySize(size, u.cfg)
	job.update(func(j *Job) {
		j.Size = size
		j.Class = class
	})
	u.emit(model.Event{Kind: model.EventUploadStarted, JobId: job.Id, UserId: job.UserId, Size: size, SizeClass: class.String()})

	target, err := u.gw.RequestUploadTarget(ctx)
	if err != nil {
		return nil, u.fail(job, UploadTargetRequestFailed, err)
	}
	log.Printf("[DEBUG] upload target for job %s: %s", job.Id, target.FileRef)

	contentType := job.Artifact.ContentType
	if contentType == "" {
		contentType = u.cfg.ContentType
	}
	if err := u.tr.Put(ctx, target.UploadURL, f, info.Size(), contentType); err != nil {
		return nil, u.fail(job, UploadTransferFailed, err)
	}

	if d := u.settleDelay(class); d > 0 {
		u.emit(model.Event{Kind: model.EventUploadSettling, JobId: job.Id, Delay: d, SizeClass: class.String()})
		if err := u.clock.Sleep(ctx, d); err != nil {
			return nil, u.fail(job, UploadTransferFailed, err)
		}
	}

	ref := &model.RemoteFileRef{FileRef: target.FileRef, Size: size}
	job.update(func(j *Job) { j.RemoteFile = ref })
	u.emit(model.Event{Kind: model.EventUploaded, JobId: job.Id, Size: size})
	log.Printf("[INFO] ↑ %s | %s uploaded as %s", size, job.Artifact.Name, ref.FileRef)
	return ref, nil
}

// fail maps a gateway or transfer error to the upload taxonomy
func (u *Uploader) fail(job *Job, kind UploadErrorKind, err error) error {
	switch client.Classify(err) {
	case client.ClassCancelled:
		u.emit(model.Event{Kind: model.EventUploadCancelled, JobId: job.Id})
		return ErrCancelled
	case client.ClassConnectivity:
		kind = UploadNoNetwork
	}
	ue := &UploadError{Kind: kind, Err: err}
	u.emit(model.Event{Kind: model.EventUploadFailed, JobId: job.Id, Message: ue.Error()})
	return ue
}
