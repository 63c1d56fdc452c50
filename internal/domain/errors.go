package domain

import (
	"context"
	"errors"
)

var (
	ErrInvalidURL        = errors.New("invalid URL")
	ErrInvalidType       = errors.New("invalid job type")
	ErrJobNotFound       = errors.New("job not found")
	ErrNotClaimable      = errors.New("job is not queued")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrNoBackend         = errors.New("no backend for job type")
)

// ErrorKind classifies a backend failure for the retry policy.
type ErrorKind string

const (
	KindResolution         ErrorKind = "resolution"
	KindNetwork            ErrorKind = "network"
	KindStorage            ErrorKind = "storage"
	KindBackendUnavailable ErrorKind = "backend_unavailable"
	KindCancelled          ErrorKind = "cancelled"
)

// BackendError is a classified failure reported by a backend adapter.
type BackendError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// NewResolutionError reports a URL or magnet that cannot be resolved.
func NewResolutionError(msg string, err error) *BackendError {
	return &BackendError{Kind: KindResolution, Message: msg, Err: err}
}

// NewNetworkError reports a transient connectivity failure.
func NewNetworkError(msg string, err error) *BackendError {
	return &BackendError{Kind: KindNetwork, Message: msg, Err: err}
}

// NewStorageError reports a destination write failure.
func NewStorageError(msg string, err error) *BackendError {
	return &BackendError{Kind: KindStorage, Message: msg, Err: err}
}

// NewBackendUnavailableError reports a missing or uninitialized backend.
func NewBackendUnavailableError(msg string, err error) *BackendError {
	return &BackendError{Kind: KindBackendUnavailable, Message: msg, Err: err}
}

// NewCancelledError acknowledges an interrupted transfer.
func NewCancelledError(err error) *BackendError {
	return &BackendError{Kind: KindCancelled, Message: "cancelled", Err: err}
}

// KindOf classifies err. Unclassified errors count as network failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var be *BackendError
	if errors.As(err, &be) {
		return be.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindNetwork
}
