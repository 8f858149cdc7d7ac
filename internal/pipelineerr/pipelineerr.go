// Package pipelineerr defines the tagged error vocabulary shared by every
// pipeline stage, so callers can branch on Kind instead of string-matching
// error messages.
package pipelineerr

import (
	"errors"
	"fmt"
)

// Kind tags the category of failure, independent of which stage raised it.
type Kind string

const (
	KindParse               Kind = "parse_error"
	KindValidation           Kind = "validation_error"
	KindProviderNotFound     Kind = "provider_not_found"
	KindFileTooLarge         Kind = "file_too_large"
	KindTooManyConversations Kind = "too_many_conversations"
	KindDetectionFailed      Kind = "detection_failed"
	KindLLM                  Kind = "llm_error"
	KindEmbedding            Kind = "embedding_error"
	KindStorage              Kind = "storage_error"
	KindTemplateNotFound     Kind = "template_not_found"
	KindSearch               Kind = "search_error"
)

// Error is the concrete error type raised by pipeline components.
type Error struct {
	Kind     Kind
	Provider string
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error without a wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error around an existing error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithProvider attaches a provider name (e.g. "anthropic", "qdrant") for
// diagnostics, returning the same *Error for chaining.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// Is reports whether err is a pipelineerr.Error of the given kind.
func Is(err error, kind Kind) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}
