package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the ledger service.
var (
	ErrInsufficientCredits     = errors.New("insufficient credits")
	ErrNotFound                = errors.New("not found")
	ErrAccountNotFound         = fmt.Errorf("account %w", ErrNotFound)
	ErrTransactionNotFound     = fmt.Errorf("transaction %w", ErrNotFound)
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrStorage                 = errors.New("storage failure")
	ErrConsistencyViolation    = errors.New("balance diverges from transaction log")
	ErrInvalidAccountID        = errors.New("invalid account id")
	ErrInvalidJobID            = errors.New("invalid job id")
	ErrInvalidTransactionID    = errors.New("invalid transaction id")
	ErrInvalidIdempotencyKey   = errors.New("invalid idempotency key")
	ErrInvalidDescription      = errors.New("invalid description")
	ErrInvalidReference        = errors.New("invalid reference")
	ErrInvalidCredits          = errors.New("invalid credits")
	ErrInvalidTransactionKind  = errors.New("invalid transaction kind")
	ErrInvalidTransaction      = errors.New("invalid transaction")
	ErrInvalidMetadataJSON     = errors.New("invalid metadata json")
	ErrInvalidPage             = errors.New("invalid page")
	ErrInvalidPageSize         = errors.New("invalid page size")
	ErrInvalidServiceConfig    = errors.New("invalid service config")
)

var validationErrors = []error{
	ErrInvalidAccountID,
	ErrInvalidJobID,
	ErrInvalidTransactionID,
	ErrInvalidIdempotencyKey,
	ErrInvalidDescription,
	ErrInvalidReference,
	ErrInvalidCredits,
	ErrInvalidTransactionKind,
	ErrInvalidTransaction,
	ErrInvalidMetadataJSON,
	ErrInvalidPage,
	ErrInvalidPageSize,
}

// IsValidationError reports whether err was caused by rejected caller input.
func IsValidationError(err error) bool {
	for _, validationErr := range validationErrors {
		if errors.Is(err, validationErr) {
			return true
		}
	}
	return false
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// WrapStorageError marks err as a storage failure while keeping the driver error reachable.
func WrapStorageError(subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return WrapError("store", subject, code, fmt.Errorf("%w: %w", ErrStorage, err))
}
