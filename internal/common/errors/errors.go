// Package errors provides standardized error handling for BPMN workflow integration.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	ErrCodeOracleUnavailable ErrorCode = "ORACLE_UNAVAILABLE"
	ErrCodeOracleTimeout     ErrorCode = "ORACLE_TIMEOUT"

	ErrCodeCatalogLoadFailed      ErrorCode = "CATALOG_LOAD_FAILED"
	ErrCodeRecentOrdersLoadFailed ErrorCode = "RECENT_ORDERS_LOAD_FAILED"
	ErrCodeOrderCommitFailed      ErrorCode = "ORDER_COMMIT_FAILED"
	ErrCodeDuplicateMessage       ErrorCode = "DUPLICATE_MESSAGE"

	ErrCodeLockTimeout ErrorCode = "LOCK_TIMEOUT"

	ErrCodeEventPublishFailed ErrorCode = "EVENT_PUBLISH_FAILED"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is and errors.As.
func (e *StandardError) Unwrap() error {
	return e.cause
}

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

func newError(code ErrorCode, message string, cause error, retryable bool) *StandardError {
	e := &StandardError{
		Code:      code,
		Message:   message,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

// NewInvalidInputError rejects a malformed message. Not retryable.
func NewInvalidInputError(details string) *StandardError {
	e := newError(ErrCodeInvalidInput, "Invalid message input", nil, false)
	e.Details = details
	return e
}

func NewOracleUnavailableError(err error) *StandardError {
	return newError(ErrCodeOracleUnavailable, "Language model oracle unavailable", err, true)
}

func NewOracleTimeoutError(err error) *StandardError {
	return newError(ErrCodeOracleTimeout, "Language model oracle timeout", err, true)
}

func NewCatalogLoadFailedError(err error) *StandardError {
	return newError(ErrCodeCatalogLoadFailed, "Catalog could not be loaded", err, true)
}

func NewRecentOrdersLoadFailedError(conversationID string, err error) *StandardError {
	e := newError(ErrCodeRecentOrdersLoadFailed, "Recent orders could not be loaded", err, true)
	e.Metadata = map[string]interface{}{"conversationId": conversationID}
	return e
}

func NewOrderCommitFailedError(err error) *StandardError {
	return newError(ErrCodeOrderCommitFailed, "Order could not be committed", err, true)
}

// NewDuplicateMessageError marks a redelivered message whose decision was
// already committed.
func NewDuplicateMessageError(messageID string) *StandardError {
	e := newError(ErrCodeDuplicateMessage, "Message already processed", nil, false)
	e.Details = fmt.Sprintf("messageId: %s", messageID)
	return e
}

func NewLockTimeoutError(key string, err error) *StandardError {
	e := newError(ErrCodeLockTimeout, "Conversation lock not acquired in time", err, true)
	e.Metadata = map[string]interface{}{"lockKey": key}
	return e
}

func NewEventPublishFailedError(err error) *StandardError {
	return newError(ErrCodeEventPublishFailed, "Order event could not be published", err, false)
}

func NewInternalError(err error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", err, false)
}

// GetRetryCount returns the recommended retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeOrderCommitFailed,
		ErrCodeCatalogLoadFailed,
		ErrCodeRecentOrdersLoadFailed:
		return 3

	case ErrCodeLockTimeout,
		ErrCodeOracleUnavailable,
		ErrCodeOracleTimeout:
		return 2

	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
// BPMN codes are the internal codes.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"errorCategory":     GetErrorCategory(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           string(stdErr.Code),
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// AsStandardError finds a StandardError in err's chain or wraps err as an
// internal error.
func AsStandardError(err error) *StandardError {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return NewInternalError(err)
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	var stdErr *StandardError
	return stderrors.As(err, &stdErr) && stdErr.Code == code
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "ORACLE"):
		return "AI"
	case strings.Contains(codeStr, "CATALOG") || strings.Contains(codeStr, "ORDER"):
		return "DATABASE"
	case strings.Contains(codeStr, "LOCK"):
		return "CONCURRENCY"
	case strings.Contains(codeStr, "EVENT"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "INVALID") || strings.Contains(codeStr, "DUPLICATE"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
