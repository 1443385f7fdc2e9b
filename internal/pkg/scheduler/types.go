package scheduler

import (
	"errors"
	"fmt"
)

// Sentinel errors of the admission and dispatch path. Business-rule
// rejections (insufficient credits, backpressure, cancel races) are final
// for the call; the client decides whether to resubmit.
var (
	ErrInsufficientCredits = errors.New("insufficient credit balance")
	ErrBackpressure        = errors.New("job backlog is full")
	ErrUnknownJob          = errors.New("job not found")
	ErrNotCancellable      = errors.New("job is no longer queued")
	ErrAttemptsExhausted   = errors.New("job attempts exhausted")
	ErrNoFreeSlot          = errors.New("no healthy worker slot available")
)

// TransientError wraps a failure that justifies another attempt: worker
// crashes, slot hardware faults, deadline expiry. Anything not wrapped is
// permanent and fails the job immediately.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err justifies a retry at original priority.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// SlotError is a transient failure that additionally reports the worker
// slot itself as unhealthy, e.g. an accelerator driver fault.
type SlotError struct {
	Slot int
	Err  error
}

func (e *SlotError) Error() string { return fmt.Sprintf("slot %d failed: %v", e.Slot, e.Err) }

func (e *SlotError) Unwrap() error { return e.Err }

// SubmitRequest is one generation request before admission.
type SubmitRequest struct {
	UserID    uint   `json:"user_id" validate:"required"`
	Prompt    string `json:"prompt" validate:"required,min=1,max=2000"`
	Style     string `json:"style" validate:"omitempty,max=50"`
	Tier      string `json:"tier" validate:"omitempty,oneof=fast standard high ultra"`
	ImageSize string `json:"image_size" validate:"omitempty,max=20"`
}
