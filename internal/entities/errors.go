package entities

import (
	"errors"
	"fmt"
)

var (
	// ErrFetch indicates the attachment could not be downloaded from the provider.
	ErrFetch = errors.New("media fetch failed")
	// ErrRelay indicates the image host rejected or failed the upload.
	ErrRelay = errors.New("media relay failed")
	// ErrMediaTooLarge indicates the attachment exceeds the download limit.
	ErrMediaTooLarge = errors.New("media too large")
)

// ValidationReason names why a webhook payload could not become a turn.
type ValidationReason string

const (
	ReasonMissingSender ValidationReason = "missing_sender"
	ReasonEmptyTurn     ValidationReason = "empty_turn"
	ReasonMalformed     ValidationReason = "malformed_payload"
)

// ValidationError is returned by payload normalization.
type ValidationError struct {
	Reason ValidationReason
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("invalid turn: %s: %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("invalid turn: %s", e.Reason)
}

// Is lets errors.Is match on the reason alone.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Reason == e.Reason
}

var (
	ErrMissingSender = &ValidationError{Reason: ReasonMissingSender}
	ErrEmptyTurn     = &ValidationError{Reason: ReasonEmptyTurn}
)
