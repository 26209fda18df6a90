// Package errors provides the categorized error taxonomy for the
// reconciliation engine. Every error carries a category, a stable code and
// optional context so a scheduler can discriminate retryable conditions
// (feed or storage unavailable) from terminal ones (inactive card, invalid
// record) without string matching.
package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryCard       ErrorCategory = "card"
	CategoryFeed       ErrorCategory = "feed"
	CategoryValidation ErrorCategory = "validation"
	CategoryMatching   ErrorCategory = "matching"
	CategoryStorage    ErrorCategory = "storage"
	CategoryConfig     ErrorCategory = "configuration"
	CategoryInternal   ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// Card errors
	CodeCardInactive ErrorCode = "card_inactive"
	CodeCardNotFound ErrorCode = "card_not_found"

	// Feed errors
	CodeFeedUnavailable ErrorCode = "feed_unavailable"
	CodeFeedTimeout     ErrorCode = "feed_timeout"
	CodeInvalidRecord   ErrorCode = "invalid_record"

	// Validation errors
	CodeInvalidAmount ErrorCode = "invalid_amount"
	CodeInvalidDate   ErrorCode = "invalid_date"
	CodeMissingField  ErrorCode = "missing_field"

	// Matching errors
	CodeLinkConflict    ErrorCode = "link_conflict"
	CodeMatchingFailed  ErrorCode = "matching_failed"
	CodeProcessingError ErrorCode = "processing_error"

	// Storage errors
	CodeStorageUnavailable ErrorCode = "storage_unavailable"
	CodeNotFound           ErrorCode = "not_found"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// Context provides additional information about the error
type Context map[string]interface{}

// EngineError is the base error type for all engine errors
type EngineError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate process exit code for the error
func (e *EngineError) GetExitCode() int {
	switch e.Category {
	case CategoryCard, CategoryValidation:
		return 2
	case CategoryFeed:
		return 3
	case CategoryConfig:
		return 4
	case CategoryMatching, CategoryInternal:
		return 5
	case CategoryStorage:
		return 6
	default:
		return 1
	}
}

// IsRetryable reports whether the error is a transient downstream condition
// that a scheduler may retry with backoff.
func (e *EngineError) IsRetryable() bool {
	switch e.Code {
	case CodeFeedUnavailable, CodeFeedTimeout, CodeStorageUnavailable:
		return true
	}
	return false
}

// WithContext adds context information to the error
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *EngineError) WithSuggestion(suggestion string) *EngineError {
	e.Suggestion = suggestion
	return e
}

// stackTracer interface for extracting stack traces
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// New creates a new EngineError
func New(category ErrorCategory, code ErrorCode, message string) *EngineError {
	return &EngineError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with EngineError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *EngineError {
	if err == nil {
		return nil
	}

	return &EngineError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// Specific error constructors

// CardInactive creates the fatal precondition error for imports against an
// inactive card.
func CardInactive(cardID string) *EngineError {
	return New(CategoryCard, CodeCardInactive,
		fmt.Sprintf("card %s is inactive", cardID)).
		WithSuggestion("reactivate the card or skip it in the import schedule").
		WithContext("card_id", cardID)
}

// CardNotFound creates a card lookup error
func CardNotFound(cardID string) *EngineError {
	return New(CategoryCard, CodeCardNotFound,
		fmt.Sprintf("card %s not found", cardID)).
		WithContext("card_id", cardID)
}

// LinkConflict creates the recoverable error for a link claim that lost the
// race: the transaction or expense was already linked by another run.
func LinkConflict(transactionID, expenseID string) *EngineError {
	return New(CategoryMatching, CodeLinkConflict,
		fmt.Sprintf("transaction %s or expense %s is already linked", transactionID, expenseID)).
		WithSuggestion("drop this candidate and continue with the next ranked match").
		WithContext("transaction_id", transactionID).
		WithContext("expense_id", expenseID)
}

// FeedError creates a feed-related error
func FeedError(code ErrorCode, source string, err error) *EngineError {
	var message, suggestion string

	switch code {
	case CodeFeedUnavailable:
		message = fmt.Sprintf("transaction feed unavailable: %s", source)
		suggestion = "retry with backoff once the provider recovers"
	case CodeFeedTimeout:
		message = fmt.Sprintf("transaction feed timed out: %s", source)
		suggestion = "increase the feed timeout or retry later"
	case CodeInvalidRecord:
		message = fmt.Sprintf("malformed record in feed: %s", source)
		suggestion = "the record was skipped; inspect the provider export"
	default:
		message = fmt.Sprintf("feed error: %s", source)
		suggestion = "check the feed source and try again"
	}

	var result *EngineError
	if err != nil {
		result = Wrap(err, CategoryFeed, code, message)
	} else {
		result = New(CategoryFeed, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("source", source)
}

// ValidationError creates a validation-related error
func ValidationError(code ErrorCode, field string, value interface{}) *EngineError {
	var message, suggestion string

	switch code {
	case CodeInvalidAmount:
		message = fmt.Sprintf("invalid amount in field '%s': %v", field, value)
		suggestion = "ensure amounts are valid decimal numbers"
	case CodeInvalidDate:
		message = fmt.Sprintf("invalid date in field '%s': %v", field, value)
		suggestion = "use RFC3339 or YYYY-MM-DD timestamps"
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	default:
		message = fmt.Sprintf("validation error in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	return New(CategoryValidation, code, message).
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// StorageError creates a storage-related error
func StorageError(code ErrorCode, operation string, err error) *EngineError {
	message := fmt.Sprintf("storage error during %s", operation)
	if code == CodeNotFound {
		message = fmt.Sprintf("record not found during %s", operation)
	}

	var result *EngineError
	if err != nil {
		result = Wrap(err, CategoryStorage, code, message)
	} else {
		result = New(CategoryStorage, code, message)
	}
	return result.WithContext("operation", operation)
}

// ConfigError creates a configuration-related error
func ConfigError(setting string, value interface{}, err error) *EngineError {
	message := fmt.Sprintf("invalid configuration for '%s': %v", setting, value)

	var result *EngineError
	if err != nil {
		result = Wrap(err, CategoryConfig, CodeInvalidConfig, message)
	} else {
		result = New(CategoryConfig, CodeInvalidConfig, message)
	}
	return result.
		WithSuggestion("check the configuration documentation for valid values").
		WithContext("setting", setting).
		WithContext("value", value)
}

// Utility functions

// AsEngineError extracts an EngineError from an error chain
func AsEngineError(err error) (*EngineError, bool) {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr, true
	}
	return nil, false
}

// HasCode reports whether the error chain contains an EngineError with the
// given code.
func HasCode(err error, code ErrorCode) bool {
	engineErr, ok := AsEngineError(err)
	return ok && engineErr.Code == code
}

// IsCardInactive reports whether the error is the inactive-card precondition
func IsCardInactive(err error) bool {
	return HasCode(err, CodeCardInactive)
}

// IsLinkConflict reports whether the error is a recoverable link conflict
func IsLinkConflict(err error) bool {
	return HasCode(err, CodeLinkConflict)
}

// IsNotFound reports whether the error is a missing-record lookup
func IsNotFound(err error) bool {
	return HasCode(err, CodeNotFound)
}

// IsRetryable reports whether the error chain holds a retryable engine error
func IsRetryable(err error) bool {
	engineErr, ok := AsEngineError(err)
	return ok && engineErr.IsRetryable()
}
