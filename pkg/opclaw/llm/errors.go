package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies provider failures for logging and metrics.
// Callers never retry on any kind; the classification only shapes reports.
type ErrorKind int

const (
	ErrorTransient  ErrorKind = iota // 5xx and connection failures
	ErrorRateLimit                   // 429
	ErrorQuota                       // billing / quota exhausted
	ErrorTimeout                     // deadline exceeded
	ErrorAuth                        // 401, 403
	ErrorBadRequest                  // 400
	ErrorMalformed                   // response could not be interpreted
	ErrorBlocked                     // response withheld by a safety filter
	ErrorFatal                       // everything else
)

// String returns a short label used in logs and metric labels.
func (k ErrorKind) String() string {
	switch k {
	case ErrorTransient:
		return "transient"
	case ErrorRateLimit:
		return "rate_limit"
	case ErrorQuota:
		return "quota"
	case ErrorTimeout:
		return "timeout"
	case ErrorAuth:
		return "auth"
	case ErrorBadRequest:
		return "bad_request"
	case ErrorMalformed:
		return "malformed"
	case ErrorBlocked:
		return "blocked"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is returned by every provider call that fails.
type Error struct {
	Op       string // "chat", "generate", "describe"
	Provider string
	Kind     ErrorKind
	Status   int
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("llm %s %s: %s (status %d): %v", e.Provider, e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("llm %s %s: %s: %v", e.Provider, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of an llm error, or ErrorFatal for foreign errors.
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ErrorFatal
}

// errMalformed marks responses that carry neither text nor calls.
var errMalformed = errors.New("empty or malformed response")

// classifyStatus determines the error kind from an HTTP status and message body.
func classifyStatus(status int, body string) ErrorKind {
	lower := strings.ToLower(body)

	if status == 402 ||
		strings.Contains(lower, "quota") ||
		strings.Contains(lower, "billing") ||
		strings.Contains(lower, "resource_exhausted") && status != 429 {
		return ErrorQuota
	}

	if status == 429 ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "rate_limit") ||
		strings.Contains(lower, "too many requests") {
		return ErrorRateLimit
	}

	if strings.Contains(lower, "deadline") ||
		strings.Contains(lower, "timed out") ||
		strings.Contains(lower, "timeout") {
		return ErrorTimeout
	}

	switch {
	case status == 400:
		return ErrorBadRequest
	case status == 401 || status == 403:
		return ErrorAuth
	case status >= 500:
		return ErrorTransient
	default:
		return ErrorFatal
	}
}

// classifyTransport maps errors without an HTTP status.
func classifyTransport(err error) ErrorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTimeout
	case errors.Is(err, errMalformed):
		return ErrorMalformed
	}
	return ErrorTransient
}
