package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrIntegrity   = errors.New("integrity violation")
	ErrValidation  = errors.New("validation failed")
	ErrUnavailable = errors.New("storage unavailable")
)

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// classify wraps a driver error with the matching kind so callers can use errors.Is.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{ErrNotFound, ErrIntegrity, ErrValidation, ErrUnavailable} {
		if errors.Is(err, kind) {
			return err
		}
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrConstraint:
			return fmt.Errorf("%s: %w: %v", op, ErrIntegrity, err)
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen, sqlite3.ErrReadonly, sqlite3.ErrIoErr:
			return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
		}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "23":
			return fmt.Errorf("%s: %w: %v", op, ErrIntegrity, err)
		case pqErr.Code.Class() == "08", pqErr.Code.Class() == "53", pqErr.Code.Class() == "57":
			return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
		}
	}

	if strings.Contains(err.Error(), "connection refused") {
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
