package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is checks if an error is of a specific type
func Is(err error, target error) bool {
	return errors.Is(err, target)
}

// As checks if an error can be assigned to a target type
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsCode checks if an error is a SettlementError with the given code
func IsCode(err error, code ErrorCode) bool {
	var settlementErr *SettlementError
	if errors.As(err, &settlementErr) {
		return settlementErr.Code == code
	}
	return false
}

// CodeOf returns the code of the first SettlementError in the chain, or INTERNAL.
func CodeOf(err error) ErrorCode {
	var settlementErr *SettlementError
	if errors.As(err, &settlementErr) {
		return settlementErr.Code
	}
	return ErrCodeInternal
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var settlementErr *SettlementError
	if errors.As(err, &settlementErr) {
		return settlementErr.IsRetryable()
	}

	// Foreign errors from the RPC or HTTP layers
	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"too many requests",
		"rate limit",
		"blockhash not found",
		"eof",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// UserMessage returns a human-readable message for any error.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var settlementErr *SettlementError
	if errors.As(err, &settlementErr) {
		return settlementErr.UserMessage()
	}
	return "Something went wrong. Please try again later."
}
