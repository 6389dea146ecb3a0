package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/fieldline/commerce/internal/repositories"
)

const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

type storeError struct {
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

var _ repositories.RepositoryError = (*storeError)(nil)

func (e *storeError) Error() string        { return e.err.Error() }
func (e *storeError) Unwrap() error        { return e.err }
func (e *storeError) IsNotFound() bool     { return e.notFound }
func (e *storeError) IsConflict() bool     { return e.conflict }
func (e *storeError) IsUnavailable() bool  { return e.unavailable }

func notFoundError(entity string, id string) error {
	return &storeError{err: fmt.Errorf("%s %s not found", entity, id), notFound: true}
}

func conflictError(entity string, id string) error {
	return &storeError{err: fmt.Errorf("%s %s was modified concurrently", entity, id), conflict: true}
}

// mapError classifies a database error into the repository taxonomy.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &storeError{err: fmt.Errorf("%s: %w", op, err), notFound: true}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqUniqueViolation:
			return &storeError{err: fmt.Errorf("%s: %w", op, err), conflict: true}
		case pqSerializationFailure, pqDeadlockDetected:
			return &storeError{err: fmt.Errorf("%s: %w", op, err), conflict: true}
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &storeError{err: fmt.Errorf("%s: %w", op, err), unavailable: true}
	}
	return &storeError{err: fmt.Errorf("%s: %w", op, err), unavailable: true}
}
