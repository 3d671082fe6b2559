package errors

import (
	"fmt"
)

// ErrorCode represents different categories of settlement errors
type ErrorCode string

const (
	// ErrCodeUserRejection indicates the user declined the request in their wallet
	ErrCodeUserRejection ErrorCode = "USER_REJECTION"

	// ErrCodeTransientNetwork indicates a network failure that may succeed on retry
	ErrCodeTransientNetwork ErrorCode = "TRANSIENT_NETWORK"

	// ErrCodeValidation indicates a structurally invalid transaction or request
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeProgramNotDeployed indicates the target program has no executable account
	ErrCodeProgramNotDeployed ErrorCode = "PROGRAM_NOT_DEPLOYED"

	// ErrCodeTransactionTooLarge indicates the serialized transaction exceeds the packet limit
	ErrCodeTransactionTooLarge ErrorCode = "TRANSACTION_TOO_LARGE"

	// ErrCodeGoalExceeded indicates a contribution would overshoot the funding goal
	ErrCodeGoalExceeded ErrorCode = "GOAL_EXCEEDED"

	// ErrCodeDuplicateSettlement indicates the settlement was already recorded
	ErrCodeDuplicateSettlement ErrorCode = "DUPLICATE_SETTLEMENT"

	// ErrCodeRegistryUnavailable indicates program identifiers could not be resolved
	ErrCodeRegistryUnavailable ErrorCode = "REGISTRY_UNAVAILABLE"

	// ErrCodeDefinitionNotFound indicates no interface definition exists for a program
	ErrCodeDefinitionNotFound ErrorCode = "DEFINITION_NOT_FOUND"

	// ErrCodeAccountUndefined indicates a required instruction account resolved to nothing
	ErrCodeAccountUndefined ErrorCode = "ACCOUNT_UNDEFINED"

	// ErrCodeArgumentLengthMismatch indicates encoded arguments do not match the definition
	ErrCodeArgumentLengthMismatch ErrorCode = "ARGUMENT_LENGTH_MISMATCH"

	// ErrCodeConfig indicates configuration errors
	ErrCodeConfig ErrorCode = "CONFIG"

	// ErrCodeInternal indicates internal system errors
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// Severity represents the severity level of an error
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// SettlementError is the error type shared by every settlement component.
type SettlementError struct {
	Code     ErrorCode              `json:"code"`
	Message  string                 `json:"message"`
	Network  string                 `json:"network,omitempty"`
	Severity Severity               `json:"severity"`
	Cause    error                  `json:"-"`
	Context  map[string]interface{} `json:"context,omitempty"`
}

// New creates a new SettlementError
func New(code ErrorCode, message string, cause error) *SettlementError {
	return &SettlementError{
		Code:     code,
		Message:  message,
		Severity: determineSeverity(code),
		Cause:    cause,
		Context:  make(map[string]interface{}),
	}
}

// Newf creates a new SettlementError with a formatted message and no cause
func Newf(code ErrorCode, format string, args ...interface{}) *SettlementError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Error implements the error interface
func (e *SettlementError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	if e.Network != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Network, e.Code, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

// Unwrap returns the underlying cause
func (e *SettlementError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *SettlementError) WithContext(key string, value interface{}) *SettlementError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithNetwork records the cluster the error occurred on
func (e *SettlementError) WithNetwork(network string) *SettlementError {
	e.Network = network
	return e
}

// WithSeverity overrides the default severity
func (e *SettlementError) WithSeverity(severity Severity) *SettlementError {
	e.Severity = severity
	return e
}

// IsRetryable returns true if the error is retryable
func (e *SettlementError) IsRetryable() bool {
	return e.Code == ErrCodeTransientNetwork
}

// IsFatal reports whether the error must stop the current intent.
// Duplicate settlements are idempotent no-ops and transient failures may be retried.
func (e *SettlementError) IsFatal() bool {
	switch e.Code {
	case ErrCodeTransientNetwork, ErrCodeDuplicateSettlement:
		return false
	default:
		return true
	}
}

// UserMessage returns text suitable for showing to the person who started the intent.
func (e *SettlementError) UserMessage() string {
	switch e.Code {
	case ErrCodeUserRejection:
		return "You declined the transaction in your wallet."
	case ErrCodeTransientNetwork:
		return "The network is not responding right now. Please try again."
	case ErrCodeGoalExceeded:
		return e.Message
	case ErrCodeProgramNotDeployed:
		return fmt.Sprintf("The settlement program is not available on %s. Please contact support.", networkOrDefault(e.Network))
	case ErrCodeDuplicateSettlement:
		return "This contribution has already been recorded."
	default:
		return "Something went wrong while preparing the transaction. Please try again later."
	}
}

func networkOrDefault(network string) string {
	if network == "" {
		return "this network"
	}
	return network
}

// determineSeverity determines the default severity based on error code
func determineSeverity(code ErrorCode) Severity {
	switch code {
	case ErrCodeInternal, ErrCodeProgramNotDeployed:
		return SeverityCritical
	case ErrCodeRegistryUnavailable, ErrCodeDefinitionNotFound, ErrCodeTransactionTooLarge:
		return SeverityHigh
	case ErrCodeValidation, ErrCodeAccountUndefined, ErrCodeArgumentLengthMismatch, ErrCodeTransientNetwork:
		return SeverityMedium
	case ErrCodeGoalExceeded, ErrCodeConfig, ErrCodeUserRejection:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// Common error constructors

// NewUserRejectionError creates a user rejection error
func NewUserRejectionError(cause error) *SettlementError {
	return New(ErrCodeUserRejection, "user rejected the request", cause)
}

// NewTransientError creates a retryable network error
func NewTransientError(message string, cause error) *SettlementError {
	return New(ErrCodeTransientNetwork, message, cause)
}

// NewValidationError creates a validation error
func NewValidationError(message string) *SettlementError {
	return New(ErrCodeValidation, message, nil)
}

// NewProgramNotDeployedError names both the network and program so an operator can redeploy.
func NewProgramNotDeployedError(network, program, programID string) *SettlementError {
	return New(ErrCodeProgramNotDeployed,
		fmt.Sprintf("%s program %s is not deployed on %s", program, programID, network), nil).
		WithNetwork(network).
		WithContext("program", program).
		WithContext("program_id", programID)
}

// NewTransactionTooLargeError creates a size ceiling error
func NewTransactionTooLargeError(size, limit int) *SettlementError {
	return New(ErrCodeTransactionTooLarge,
		fmt.Sprintf("transaction is %d bytes, limit is %d; reduce the number of instructions", size, limit), nil).
		WithContext("size", size).
		WithContext("limit", limit)
}

// NewGoalExceededError creates a user-facing funding goal error
func NewGoalExceededError(message string) *SettlementError {
	return New(ErrCodeGoalExceeded, message, nil)
}

// NewDuplicateSettlementError marks an already recorded signature
func NewDuplicateSettlementError(signature string) *SettlementError {
	return New(ErrCodeDuplicateSettlement, "settlement already recorded", nil).
		WithContext("signature", signature)
}

// NewRegistryUnavailableError creates a registry error
func NewRegistryUnavailableError(message string, cause error) *SettlementError {
	return New(ErrCodeRegistryUnavailable, message, cause)
}

// NewDefinitionNotFoundError creates a missing interface definition error
func NewDefinitionNotFoundError(programID string) *SettlementError {
	return New(ErrCodeDefinitionNotFound,
		fmt.Sprintf("no interface definition for program %s", programID), nil).
		WithContext("program_id", programID)
}

// NewAccountUndefinedError creates an error for an unresolved instruction account
func NewAccountUndefinedError(instruction, account string) *SettlementError {
	return New(ErrCodeAccountUndefined,
		fmt.Sprintf("account %q of instruction %q is undefined", account, instruction), nil)
}

// NewArgumentLengthMismatchError creates an argument layout error
func NewArgumentLengthMismatchError(instruction string, expected, actual int) *SettlementError {
	return New(ErrCodeArgumentLengthMismatch,
		fmt.Sprintf("instruction %q expects %d argument bytes, encoded %d", instruction, expected, actual), nil).
		WithContext("expected", expected).
		WithContext("actual", actual)
}

// NewConfigError creates a configuration error
func NewConfigError(message string) *SettlementError {
	return New(ErrCodeConfig, message, nil)
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *SettlementError {
	return New(ErrCodeInternal, message, cause)
}
