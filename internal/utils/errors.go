package utils

import (
	"errors"
	"fmt"
)

// Common application errors used across services. Handlers match on these
// with errors.Is; the typed errors below unwrap to them.
var (
	ErrValidation         = errors.New("VALIDATION_ERROR")
	ErrInvalidInput       = errors.New("INVALID_INPUT")
	ErrProductNotFound    = errors.New("PRODUCT_NOT_FOUND")
	ErrUserNotFound       = errors.New("USER_NOT_FOUND")
	ErrSaleNotFound       = errors.New("SALE_NOT_FOUND")
	ErrCategoryNotFound   = errors.New("CATEGORY_NOT_FOUND")
	ErrInsufficientStock  = errors.New("INSUFFICIENT_STOCK")
	ErrTransactionTimeout = errors.New("TRANSACTION_TIMEOUT")
	ErrDuplicate          = errors.New("DUPLICATE")
	ErrInUse              = errors.New("IN_USE")
	ErrInvalidCredentials = errors.New("INVALID_CREDENTIALS")
	ErrInvalidToken       = errors.New("INVALID_TOKEN")
)

// ValidationError reports malformed or missing request input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// StockError is returned when a product has less stock than a checkout
// line asks for at the time its row is locked.
type StockError struct {
	ProductID   int
	ProductName string
	Requested   int
	Available   int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.ProductName, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

// ProductNotFound wraps ErrProductNotFound with the unresolved salable product id.
func ProductNotFound(salableProductID int) error {
	return fmt.Errorf("%w: salable product %d", ErrProductNotFound, salableProductID)
}
