package entity

import (
	"errors"
	"fmt"
)

// ErrorCode classifies engine failures for callers and HTTP mapping.
type ErrorCode string

const (
	// Resolution errors
	CodeNoApplicableRule ErrorCode = "NO_APPLICABLE_RULE"
	CodeAmbiguousRule    ErrorCode = "AMBIGUOUS_RULE"

	// Transition errors
	CodeNotAuthorized          ErrorCode = "NOT_AUTHORIZED"
	CodeAlreadyFinalized       ErrorCode = "ALREADY_FINALIZED"
	CodeConcurrentModification ErrorCode = "CONCURRENT_MODIFICATION"
	CodeInvalidOverride        ErrorCode = "INVALID_OVERRIDE"

	// Configuration errors
	CodeOverlappingBands       ErrorCode = "OVERLAPPING_BANDS"
	CodeDuplicateSequenceOrder ErrorCode = "DUPLICATE_SEQUENCE_ORDER"
	CodeEntityInUse            ErrorCode = "ENTITY_IN_USE"
	CodeInvalidConfiguration   ErrorCode = "INVALID_CONFIGURATION"
)

// ResolutionError reports that no single rule governs a document. It is never
// defaulted: a document with no applicable rule stays blocked.
type ResolutionError struct {
	Code         ErrorCode
	Category     Category
	Currency     string
	Amount       float64
	ConflictIDs  []int64 // rule ids whose bands both contain the amount
	DepartmentID *int64
}

func (e *ResolutionError) Error() string {
	if e.Code == CodeAmbiguousRule {
		return fmt.Sprintf("%s: rules %v all match %s %.2f %s", e.Code, e.ConflictIDs, e.Category, e.Amount, e.Currency)
	}
	return fmt.Sprintf("%s: no rule matches %s %.2f %s", e.Code, e.Category, e.Amount, e.Currency)
}

// TransitionError reports a rejected workflow state transition.
type TransitionError struct {
	Code       ErrorCode
	WorkflowID int64
	Reason     string
}

func (e *TransitionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: workflow %d", e.Code, e.WorkflowID)
	}
	return fmt.Sprintf("%s: workflow %d: %s", e.Code, e.WorkflowID, e.Reason)
}

// ConfigurationError reports a rejected matrix edit, naming the constraint
// that failed and the conflicting entity so operators can remediate.
type ConfigurationError struct {
	Code       ErrorCode
	EntityType string
	EntityID   int64
	ConflictID int64
	Detail     string
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("%s: %s %d", e.Code, e.EntityType, e.EntityID)
	if e.ConflictID != 0 {
		msg += fmt.Sprintf(" conflicts with %s %d", e.EntityType, e.ConflictID)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// CodeOf extracts the error code from any engine error, or "" for other
// errors.
func CodeOf(err error) ErrorCode {
	var re *ResolutionError
	if errors.As(err, &re) {
		return re.Code
	}
	var te *TransitionError
	if errors.As(err, &te) {
		return te.Code
	}
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsCode reports whether err carries the given engine error code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
