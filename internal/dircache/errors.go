package dircache

import (
	"context"
	"errors"
	"io/fs"

	"dirlister/internal/location"
)

type ErrorKind int

const (
	KindNotFound ErrorKind = iota + 1
	KindPermissionDenied
	KindProtocol
	KindCanceled
	KindRedirected
)

func (kind ErrorKind) String() string {
	switch kind {
	case KindNotFound:
		return "not_found"
	case KindPermissionDenied:
		return "permission_denied"
	case KindProtocol:
		return "protocol_error"
	case KindCanceled:
		return "canceled"
	case KindRedirected:
		return "redirected"
	default:
		return "unknown"
	}
}

var (
	ErrNotFound         = errors.New("location not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrProtocol         = errors.New("enumeration failed")
	ErrCanceled         = errors.New("listing canceled")
	ErrRedirected       = errors.New("location redirected")
	ErrNoSource         = errors.New("no source registered for scheme")
	ErrClosed           = errors.New("cache is closed")
)

// Error is what observers receive in Failed. It matches the sentinel of its
// kind with errors.Is and unwraps to the source error.
type Error struct {
	Kind     ErrorKind
	Location location.Location
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	message := e.Kind.String() + ": " + e.Location.String()
	if e.Err != nil {
		message += ": " + e.Err.Error()
	}
	return message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	return sentinelFor(e.Kind) == target
}

func sentinelFor(kind ErrorKind) error {
	switch kind {
	case KindNotFound:
		return ErrNotFound
	case KindPermissionDenied:
		return ErrPermissionDenied
	case KindProtocol:
		return ErrProtocol
	case KindCanceled:
		return ErrCanceled
	case KindRedirected:
		return ErrRedirected
	default:
		return nil
	}
}

// apiError matches remote SDK errors (smithy.APIError) without importing them.
type apiError interface {
	ErrorCode() string
}

// Classify maps an error returned by a Source to an ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return 0
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return KindNotFound
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, fs.ErrPermission):
		return KindPermissionDenied
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled):
		return KindCanceled
	}
	var coded apiError
	if errors.As(err, &coded) {
		switch coded.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return KindNotFound
		case "AccessDenied", "Forbidden", "AllAccessDisabled":
			return KindPermissionDenied
		}
	}
	return KindProtocol
}

func newError(loc location.Location, err error) *Error {
	return &Error{Kind: Classify(err), Location: loc, Err: err}
}
