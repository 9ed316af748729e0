package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound    = errors.New("document not found")
	ErrRunNotFound         = errors.New("evaluation run not found")
	ErrDuplicateDocument   = errors.New("duplicate document")
	ErrInvalidInput        = errors.New("invalid input")
	ErrConfiguration       = errors.New("invalid configuration")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrModelUnavailable    = errors.New("model unavailable")
	ErrChunking            = errors.New("chunking failed")
	ErrRetrievalFailed     = errors.New("retrieval failed")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// IsUpstream reports whether err originates from an unavailable or slow dependency.
func IsUpstream(err error) bool {
	return IsKind(err, ErrUpstreamUnavailable) || IsKind(err, ErrUpstreamTimeout) || IsKind(err, ErrModelUnavailable)
}
