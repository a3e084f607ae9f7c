package fetcher

import (
	"errors"
	"fmt"

	"campwatch/internal/model"
)

// Kind classifies an upstream failure for retry and reporting.
type Kind string

// Upstream failure kinds.
const (
	// KindConfig means the alert cannot be polled until the user edits it.
	KindConfig Kind = "config"
	// KindTransient covers timeouts, 5xx, 429 and network failures.
	KindTransient Kind = "transient"
	// KindNotFound means the upstream definitively does not serve the resource.
	KindNotFound Kind = "not_found"
	// KindRejected covers other definitive 4xx answers.
	KindRejected Kind = "rejected"
	// KindShape means the payload did not have the expected structure.
	KindShape Kind = "shape"
)

// UpstreamError is returned by every Fetcher when availability cannot be resolved.
type UpstreamError struct {
	System  model.ParkSystem
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.System, e.Kind, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		return false
	}
	return ue.Kind == KindTransient || ue.Kind == KindShape
}

// KindOf returns the failure kind of err, or the empty string for foreign errors.
func KindOf(err error) Kind {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return ""
}

// UserMessage renders err as a message suitable for showing to the alert owner.
func UserMessage(err error) string {
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		return "Availability check failed. Please try again later."
	}
	switch ue.Kind {
	case KindConfig, KindNotFound:
		return ue.Message
	case KindRejected:
		return "The reservation site rejected the availability request."
	default:
		return "The reservation site is not responding. We'll keep trying."
	}
}
