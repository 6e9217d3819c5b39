// Package errors provides structured error handling for azula operations.
// It defines error codes, error types for scanning, address resolution and
// configuration, and helpers to classify errors as fatal or retryable.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"syscall"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"

	// Address resolution errors.
	CodeResolutionFailed ErrorCode = "RESOLUTION_FAILED"
	CodeNoAddresses      ErrorCode = "NO_ADDRESSES"

	// Probe errors.
	CodeProbeFailed       ErrorCode = "PROBE_FAILED"
	CodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"

	// Post-scan script errors.
	CodeScriptFailed ErrorCode = "SCRIPT_FAILED"

	// File system errors.
	CodeFileNotFound ErrorCode = "FILE_NOT_FOUND"
)

// ScanError represents an error that occurred during scanning operations.
type ScanError struct {
	Code    ErrorCode
	Message string
	Target  string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("[%s] %s (target: %s)", e.Code, e.Message, e.Target)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *ScanError) WithContext(key string, value interface{}) *ScanError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewScanError creates a new scan error with the specified code and message.
func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// WrapScanErrorWithTarget wraps an error with target information.
func WrapScanErrorWithTarget(code ErrorCode, message, target string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// ResolveError represents a failure to turn an address token into IPs.
type ResolveError struct {
	Code    ErrorCode
	Message string
	Token   string
	Cause   error
}

// Error implements the error interface.
func (e *ResolveError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("[%s] %s (token: %s)", e.Code, e.Message, e.Token)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ResolveError) Unwrap() error {
	return e.Cause
}

// NewResolveError creates a resolution error for a token.
func NewResolveError(code ErrorCode, message, token string) *ResolveError {
	return &ResolveError{
		Code:    code,
		Message: message,
		Token:   token,
	}
}

// WrapResolveError wraps an existing error as a resolution error.
func WrapResolveError(code ErrorCode, message, token string, err error) *ResolveError {
	return &ResolveError{
		Code:    code,
		Message: message,
		Token:   token,
		Cause:   err,
	}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new configuration error.
func NewConfigError(code ErrorCode, message string) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
	}
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Utility functions for common error operations

// GetCode extracts the error code from an error chain if it has one.
func GetCode(err error) ErrorCode {
	var scanErr *ScanError
	if stderrors.As(err, &scanErr) {
		return scanErr.Code
	}
	var resolveErr *ResolveError
	if stderrors.As(err, &resolveErr) {
		return resolveErr.Code
	}
	var configErr *ConfigError
	if stderrors.As(err, &configErr) {
		return configErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

// IsRetryable determines if an error indicates a retryable condition.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeTimeout, CodeProbeFailed:
		return true
	default:
		return false
	}
}

// IsFatal determines if an error indicates a fatal condition that should stop execution.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodeResourceExhausted, CodeNoAddresses, CodeConfiguration:
		return true
	default:
		return false
	}
}

// IsTooManyOpenFiles reports whether err means the process ran out of file descriptors.
func IsTooManyOpenFiles(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, syscall.EMFILE) || stderrors.Is(err, syscall.ENFILE) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "too many open files")
}

// Common error creation functions

// ErrResourceExhausted creates the fatal error raised when the descriptor budget is exceeded.
func ErrResourceExhausted(batchSize int, cause error) *ScanError {
	suggested := batchSize / 2
	if suggested < 1 {
		suggested = 1
	}
	msg := fmt.Sprintf("too many open files, lower the batch size (currently %d), e.g. -b %d",
		batchSize, suggested)
	return WrapScanError(CodeResourceExhausted, msg, cause).WithContext("batch_size", batchSize)
}

// ErrNoAddresses creates the error returned when no address could be resolved.
func ErrNoAddresses() *ResolveError {
	return NewResolveError(CodeNoAddresses, "no IPs could be resolved, aborting scan", "")
}

// ErrUnresolvable creates an error for a token that yielded no address.
func ErrUnresolvable(token string, err error) *ResolveError {
	return WrapResolveError(CodeResolutionFailed, "host could not be resolved", token, err)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "invalid configuration value", field, value)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "required configuration field missing", field, nil)
}
