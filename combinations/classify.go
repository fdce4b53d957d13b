package combinations

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorKind string

const (
	ErrorKindQuota        ErrorKind = "quota_exceeded"
	ErrorKindInvalidInput ErrorKind = "invalid_input"
	ErrorKindCancelled    ErrorKind = "cancelled"
	ErrorKindUnknown      ErrorKind = "unknown"
)

const (
	QuotaExceededMessage = "Generation quota exceeded. This limit is temporary and applies to the whole batch, so the remaining looks may fail too. Please try again later."
	InvalidInputMessage  = "Invalid request. Please check your reference images and try again."
	CancelledMessage     = "Generation was cancelled before this look finished."
	GenericErrorMessage  = "Failed to generate look."
)

// ErrEmptyArtifact is reported when the visual client returns no image and no error.
var ErrEmptyArtifact = errors.New("visual synthesis returned an empty artifact")

// SynthesisError carries structured metadata about a failed remote call so the
// classifier does not have to parse error text.
type SynthesisError struct {
	Kind       ErrorKind
	StatusCode int
	Status     string
	Message    string
	Err        error
}

func (e *SynthesisError) Error() string {
	var b strings.Builder
	b.WriteString("synthesis failed")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (%d", e.StatusCode)
		if e.Status != "" {
			b.WriteString(" " + e.Status)
		}
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	} else if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// ClassificationRule maps a matching error onto a kind and a user message.
type ClassificationRule struct {
	Kind    ErrorKind
	Match   func(err error) bool
	Message func(err error) string
}

// Classifier evaluates its rules in order; the first match wins. Errors that
// match nothing are ErrorKindUnknown with a best-effort message.
type Classifier struct {
	Rules []ClassificationRule
}

func DefaultClassifier() *Classifier {
	return &Classifier{Rules: []ClassificationRule{
		{Kind: ErrorKindCancelled, Match: isCancelled, Message: fixedMessage(CancelledMessage)},
		{Kind: ErrorKindQuota, Match: isQuota, Message: fixedMessage(QuotaExceededMessage)},
		{Kind: ErrorKindInvalidInput, Match: isInvalidInput, Message: fixedMessage(InvalidInputMessage)},
	}}
}

func (c *Classifier) Classify(err error) (ErrorKind, string) {
	if err == nil {
		return "", ""
	}
	for _, rule := range c.Rules {
		if rule.Match(err) {
			return rule.Kind, rule.Message(err)
		}
	}
	return ErrorKindUnknown, genericMessage(err)
}

func fixedMessage(msg string) func(error) string {
	return func(error) string { return msg }
}

func asSynthesisError(err error) (*SynthesisError, bool) {
	var synthErr *SynthesisError
	if errors.As(err, &synthErr) {
		return synthErr, true
	}
	return nil, false
}

func isCancelled(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	synthErr, ok := asSynthesisError(err)
	return ok && synthErr.Kind == ErrorKindCancelled
}

func isQuota(err error) bool {
	synthErr, ok := asSynthesisError(err)
	if !ok {
		return false
	}
	return synthErr.Kind == ErrorKindQuota ||
		synthErr.StatusCode == http.StatusTooManyRequests ||
		synthErr.Status == "RESOURCE_EXHAUSTED"
}

func isInvalidInput(err error) bool {
	synthErr, ok := asSynthesisError(err)
	if !ok {
		return false
	}
	return synthErr.Kind == ErrorKindInvalidInput ||
		synthErr.StatusCode == http.StatusBadRequest ||
		synthErr.Status == "INVALID_ARGUMENT" ||
		synthErr.Status == "FAILED_PRECONDITION"
}

func genericMessage(err error) string {
	if synthErr, ok := asSynthesisError(err); ok && strings.TrimSpace(synthErr.Message) != "" {
		return strings.TrimSpace(synthErr.Message)
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return GenericErrorMessage
}
