package portal

import (
	"errors"
	"fmt"
)

var (
	// ErrElementNotFound means the portal did not present an expected control in time.
	ErrElementNotFound = errors.New("element not found")
	// ErrDownloadTimeout means the latest bill control was clicked but no file appeared.
	ErrDownloadTimeout = errors.New("download timed out")
	// ErrSessionFailure means the browser could not launch, navigate or the portal is unreachable.
	ErrSessionFailure = errors.New("browser session failure")
	// ErrUnknownFailure is everything else.
	ErrUnknownFailure = errors.New("unknown failure")
)

type Kind int

const (
	KindUnknown Kind = iota
	KindElementNotFound
	KindDownloadTimeout
	KindSession
)

func (k Kind) String() string {
	switch k {
	case KindElementNotFound:
		return "element_not_found"
	case KindDownloadTimeout:
		return "download_timeout"
	case KindSession:
		return "session_failure"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindElementNotFound:
		return ErrElementNotFound
	case KindDownloadTimeout:
		return ErrDownloadTimeout
	case KindSession:
		return ErrSessionFailure
	default:
		return ErrUnknownFailure
	}
}

// RetrievalError is returned by Engine.Retrieve for every failed attempt. It matches both
// its kind's sentinel and the underlying cause with errors.Is.
type RetrievalError struct {
	State State
	Kind  Kind
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("portal: %s in state %s: %v", e.Kind, e.State, e.Err)
}

func (e *RetrievalError) Unwrap() []error {
	return []error{e.Kind.sentinel(), e.Err}
}

// KindOf extracts the failure kind of an error returned by Retrieve.
func KindOf(err error) Kind {
	var rerr *RetrievalError
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return classify(err, KindUnknown)
}

// classify maps driver errors onto the taxonomy, `fallback` is used when nothing more
// specific is known about err.
func classify(err error, fallback Kind) Kind {
	switch {
	case errors.Is(err, ErrElementNotFound):
		return KindElementNotFound
	case errors.Is(err, ErrDownloadTimeout):
		return KindDownloadTimeout
	case errors.Is(err, ErrSessionFailure):
		return KindSession
	default:
		return fallback
	}
}
