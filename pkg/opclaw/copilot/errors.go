package copilot

import (
	"errors"

	"github.com/jholhewres/opclaw/pkg/opclaw/copilot/security"
)

// Failure kinds. Every handler failure wraps exactly one of these and is
// converted to a single reply.
var (
	// ErrModelUnavailable: a language-model call failed.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrDispatch: the model asked for a tool that does not exist or sent
	// arguments that do not fit it.
	ErrDispatch = errors.New("dispatch failed")

	// ErrPreconditionFailed: a media handler's precondition did not hold.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrSynthesisRejected: the synthesized program was refused before running.
	ErrSynthesisRejected = security.ErrSynthesisRejected

	// ErrExecutionFailed: a program step failed or the run timed out.
	ErrExecutionFailed = errors.New("execution failed")

	// ErrAttachmentFetchFailed: the attachment could not be downloaded or
	// is not an image.
	ErrAttachmentFetchFailed = errors.New("attachment fetch failed")
)

// PreconditionError carries the message shown to the operator.
type PreconditionError struct {
	Message string
}

func (e *PreconditionError) Error() string { return e.Message }

func (e *PreconditionError) Unwrap() error { return ErrPreconditionFailed }

func precondition(msg string) error { return &PreconditionError{Message: msg} }

// DispatchError names why a structured call could not be dispatched.
type DispatchError struct {
	Tool   string
	Reason string
}

func (e *DispatchError) Error() string { return e.Reason }

func (e *DispatchError) Unwrap() error { return ErrDispatch }
