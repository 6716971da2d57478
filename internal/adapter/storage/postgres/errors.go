package postgres

import (
	"context"
	"errors"
	"fmt"

	"marketplace-escrow/pkg/apperror"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes after which the whole transaction may be retried.
var transientCodes = map[string]bool{
	"55P03": true, // lock_not_available (lock_timeout)
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"57014": true, // query_canceled (statement_timeout)
	"57P01": true, // admin_shutdown
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exception.
		return transientCodes[pgErr.Code] || (len(pgErr.Code) == 5 && pgErr.Code[:2] == "08")
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}

// uniqueViolation returns the violated constraint name for SQLSTATE 23505.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

// storeError wraps err with op and marks it retryable when the store says so.
func storeError(op string, err error) error {
	if isTransient(err) {
		return apperror.ErrTransientStore(fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}
