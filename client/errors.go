package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// ErrNoNetwork is returned when the backend can't be reached at all
var ErrNoNetwork = errors.New("no network")

// StatusError is a non-2xx response of the backend or upload target
type StatusError struct {
	Code int
	Op   string
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: status %d, message: %s", e.Op, e.Code, e.Body)
}

// Class is the error taxonomy shared by the upload, submit and poll layers
type Class int

const (
	ClassNone Class = iota
	ClassCancelled
	ClassConnectivity // fail fast, no retry
	ClassOverload     // 503/504 and timeouts, retried with the longer backoff
	ClassTransient    // other 5xx, 429, garbage responses
	ClassPermanent    // 4xx, surfaced without retry
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassCancelled:
		return "cancelled"
	case ClassConnectivity:
		return "connectivity"
	case ClassOverload:
		return "overload"
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Retryable is true for the classes the submit and poll layers retry
func (c Class) Retryable() bool {
	return c == ClassOverload || c == ClassTransient
}

// Classify maps an error returned by this package to the taxonomy
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, context.Canceled) {
		return ClassCancelled
	}
	if errors.Is(err, ErrNoNetwork) {
		return ClassConnectivity
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == http.StatusServiceUnavailable || se.Code == http.StatusGatewayTimeout:
			return ClassOverload
		case se.Code == http.StatusTooManyRequests || se.Code == http.StatusRequestTimeout:
			return ClassTransient
		case se.Code >= 500:
			return ClassTransient
		case se.Code >= 400:
			return ClassPermanent
		}
		return ClassTransient
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassOverload
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ClassOverload
	}
	if isUnreachable(err) {
		return ClassConnectivity
	}
	return ClassTransient
}

// isUnreachable detects failures to even open a connection
func isUnreachable(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
