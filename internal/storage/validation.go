// Package storage provides the terminal configuration store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Validation errors.
var (
	ErrNilContext  = errors.New("context cannot be nil")
	ErrEmptyString = errors.New("string parameter cannot be empty")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}
