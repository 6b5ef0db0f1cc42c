package wallet

import (
	"errors"
	"fmt"
	"strings"
)

// ErrStructuralValidation marks requests rejected before any ledger state is read.
var ErrStructuralValidation = errors.New("structural validation failed")

// Domain-level error values returned by the wallet service.
var (
	ErrInvalidAccountID         = errors.New("invalid account id")
	ErrInvalidAmount            = fmt.Errorf("%w: invalid amount", ErrStructuralValidation)
	ErrInvalidTransactionID     = fmt.Errorf("%w: invalid transaction id", ErrStructuralValidation)
	ErrInvalidCurrency          = fmt.Errorf("%w: invalid currency", ErrStructuralValidation)
	ErrInvalidAction            = fmt.Errorf("%w: invalid action", ErrStructuralValidation)
	ErrInvalidBatch             = fmt.Errorf("%w: invalid settlement batch", ErrStructuralValidation)
	ErrInvalidStream            = fmt.Errorf("%w: invalid ledger stream", ErrStructuralValidation)
	ErrDuplicateReference       = errors.New("duplicate transaction reference")
	ErrInsufficientBalance      = errors.New("insufficient balance")
	ErrAccountNotFound          = errors.New("account not found")
	ErrTransactionNotFound      = errors.New("transaction not found")
	ErrVoidTargetNotFound       = errors.New("void target not found")
	ErrTransactionAlreadyVoided = errors.New("transaction already voided")
	ErrInvalidVoidTarget        = errors.New("invalid void target")
	ErrCorruptRecord            = errors.New("corrupt account record")
	ErrCorruptLogLine           = errors.New("corrupt log line")
	ErrInvalidServiceConfig     = errors.New("invalid service config")
)

// DuplicateTransactionsError lists the settlement references that were already seen.
type DuplicateTransactionsError struct {
	TransactionIDs []string
}

// Error returns the formatted error message.
func (duplicateError DuplicateTransactionsError) Error() string {
	return fmt.Sprintf("%v: %s", ErrDuplicateReference, strings.Join(duplicateError.TransactionIDs, ","))
}

// Unwrap returns ErrDuplicateReference.
func (duplicateError DuplicateTransactionsError) Unwrap() error {
	return ErrDuplicateReference
}

// OperationError tags a storage or service failure with the step that produced it.
// It renders as "operation.subject.code: cause" and unwraps to the cause, so sentinel
// checks such as errors.Is(err, ErrAccountNotFound) see through it.
type OperationError struct {
	operation string
	subject   string
	code      string
	cause     error
}

func (failure OperationError) Error() string {
	return strings.Join([]string{failure.operation, failure.subject, failure.code}, ".") + ": " + failure.cause.Error()
}

func (failure OperationError) Unwrap() error {
	return failure.cause
}

// Operation names the layer, e.g. "store" or "service".
func (failure OperationError) Operation() string {
	return failure.operation
}

// Subject names what was being touched: "account" or "journal".
func (failure OperationError) Subject() string {
	return failure.subject
}

// Code is the stable step identifier, e.g. "save" or "append".
func (failure OperationError) Code() string {
	return failure.code
}

// WrapError returns nil for a nil cause, otherwise an OperationError around it.
func WrapError(operation string, subject string, code string, cause error) error {
	if cause == nil {
		return nil
	}
	return OperationError{operation: operation, subject: subject, code: code, cause: cause}
}
