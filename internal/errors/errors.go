package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// ConfigurationError indicates an invalid policy or engine configuration
	ConfigurationError ErrorCode = "CONFIGURATION_ERROR"
	// ProviderError indicates a metric or version-control provider failed
	ProviderError ErrorCode = "PROVIDER_ERROR"
	// CacheError indicates cache I/O or corruption; never surfaced by the gate
	CacheError ErrorCode = "CACHE_ERROR"
	// StratificationViolation indicates an unsafe self-analysis level transition
	StratificationViolation ErrorCode = "STRATIFICATION_VIOLATION"
	// Cancelled indicates the evaluation was cancelled cooperatively
	Cancelled ErrorCode = "CANCELLED"
	// AnalysisUnreliable indicates too many files were degraded to decide
	AnalysisUnreliable ErrorCode = "ANALYSIS_UNRELIABLE"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FixActionType represents the type of fix action
type FixActionType string

const (
	// RunCommand suggests running a command
	RunCommand FixActionType = "run-command"
	// OpenDocs suggests opening documentation
	OpenDocs FixActionType = "open-docs"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Type        FixActionType `json:"type"`
	Command     string        `json:"command,omitempty"`
	Safe        bool          `json:"safe,omitempty"`
	Description string        `json:"description,omitempty"`
	URL         string        `json:"url,omitempty"`
}

// GateError represents a qgate error with code, message, and suggestions
type GateError struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	Details        interface{} `json:"details,omitempty"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	cause          error       // Underlying error (not exported to JSON)
}

// New creates a new GateError with the default suggested fixes for its code
func New(code ErrorCode, message string, cause error) *GateError {
	return &GateError{
		Code:           code,
		Message:        message,
		cause:          cause,
		SuggestedFixes: GetSuggestedFixes(code),
	}
}

// Newf creates a new GateError with a formatted message and no cause
func Newf(code ErrorCode, format string, args ...interface{}) *GateError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Error implements the error interface
func (e *GateError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *GateError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *GateError) WithDetails(details interface{}) *GateError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first GateError in err's chain.
// Context cancellation that was never wrapped maps to Cancelled.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var ge *GateError
	if stderrors.As(err, &ge) {
		return ge.Code
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return Cancelled
	}
	return InternalError
}

// IsCode reports whether err carries the given code
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// Outcome is the caller-facing classification of a gate invocation.
type Outcome string

const (
	// OutcomeAdmitted means a decision was produced and it passed
	OutcomeAdmitted Outcome = "admitted"
	// OutcomeRejected means a decision was produced and the code is below the bar
	OutcomeRejected Outcome = "rejected"
	// OutcomeMisconfigured means the analysis was misconfigured or unsafe to start
	OutcomeMisconfigured Outcome = "misconfigured"
	// OutcomeIncomplete means the analysis could not complete reliably
	OutcomeIncomplete Outcome = "incomplete"
)

// Classify maps the result of a gate invocation to an Outcome.
func Classify(passed bool, err error) Outcome {
	if err == nil {
		if passed {
			return OutcomeAdmitted
		}
		return OutcomeRejected
	}
	switch CodeOf(err) {
	case ConfigurationError, StratificationViolation:
		return OutcomeMisconfigured
	default:
		return OutcomeIncomplete
	}
}

// ExitCode returns the process exit code the CLI uses for an outcome
func (o Outcome) ExitCode() int {
	switch o {
	case OutcomeAdmitted:
		return 0
	case OutcomeRejected:
		return 1
	case OutcomeMisconfigured:
		return 2
	default:
		return 3
	}
}

// ErrorActions maps error codes to suggested fix actions
var ErrorActions = map[ErrorCode][]FixAction{
	ConfigurationError: {
		{
			Type:        RunCommand,
			Command:     "qgate policy validate",
			Safe:        true,
			Description: "Validate the policy file and report the offending field",
		},
	},
	StratificationViolation: {
		{
			Type:        RunCommand,
			Command:     "qgate evaluate --self",
			Safe:        true,
			Description: "Validate level 1 before requesting a level 2 meta-check",
		},
	},
	AnalysisUnreliable: {
		{
			Type:        RunCommand,
			Command:     "qgate evaluate -vv",
			Safe:        true,
			Description: "Inspect provider failures for degraded files",
		},
	},
}

// GetSuggestedFixes returns suggested fixes for an error code
func GetSuggestedFixes(code ErrorCode) []FixAction {
	if fixes, ok := ErrorActions[code]; ok {
		return fixes
	}
	return nil
}
