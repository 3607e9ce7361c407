package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrTemporary           = errors.New("temporary failure")
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrMalformedResponse   = errors.New("malformed upstream response")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrUnknownTier         = errors.New("unknown model tier")
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

// IsTimeout reports whether err stems from an exhausted time budget.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrUpstreamTimeout) || errors.Is(err, context.DeadlineExceeded)
}
