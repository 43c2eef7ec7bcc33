package repo

import (
	"errors"
	"fmt"
)

var (
	ErrCancelled        = errors.New("cancelled")
	ErrSubmissionFailed = errors.New("submission failed")
	ErrBudgetExhausted  = errors.New("still processing, check back later")
	ErrTooManyErrors    = errors.New("too many consecutive polling errors")
	ErrProcessingFailed = errors.New("processing failed")
	ErrOffline          = errors.New("offline")
	ErrSyncInProgress   = errors.New("sync already in progress")
	ErrNotCancellable   = errors.New("job is past the upload phase")
	ErrJobNotFound      = errors.New("job not found")
	ErrNoSpace          = errors.New("not enough free space")
	ErrBadRequest       = errors.New("bad request")
)

// UploadErrorKind tells the user what to do about a failed upload
type UploadErrorKind int

const (
	UploadNoNetwork           UploadErrorKind = iota + 1 // nothing was sent, check connection
	UploadTargetRequestFailed                            // retry manually
	UploadTransferFailed                                 // retry replays the same local artifact
)

func (k UploadErrorKind) String() string {
	switch k {
	case UploadNoNetwork:
		return "no network"
	case UploadTargetRequestFailed:
		return "upload target request failed"
	case UploadTransferFailed:
		return "transfer failed"
	}
	return fmt.Sprintf("upload error(%d)", int(k))
}

type UploadError struct {
	Kind UploadErrorKind
	Err  error
}

func (e *UploadError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }
