package proofrequest

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("proof request not found")
	ErrDuplicateID      = errors.New("proof request id already exists")
	ErrTemplateNotFound = errors.New("proof request template not found")
	ErrUnknownEvent     = errors.New("unknown lifecycle event")
	ErrUnknownAction    = errors.New("unknown bulk action")
)

type ValidationCode string

const (
	ValidationMissingPatient   ValidationCode = "missing_patient"
	ValidationEmptyPurpose     ValidationCode = "empty_purpose"
	ValidationNoFieldsSelected ValidationCode = "no_fields_selected"
	ValidationInvalidUrgency   ValidationCode = "invalid_urgency"
	ValidationInvalidExpiry    ValidationCode = "invalid_expiry"
)

type ValidationError struct {
	Code ValidationCode
}

func (e *ValidationError) Error() string {
	switch e.Code {
	case ValidationMissingPatient:
		return "patient is required"
	case ValidationEmptyPurpose:
		return "purpose is required"
	case ValidationNoFieldsSelected:
		return "at least one data field must be requested"
	case ValidationInvalidUrgency:
		return "urgency must be one of low, normal, high, urgent"
	case ValidationInvalidExpiry:
		return "expiry must be after creation time"
	}
	return string(e.Code)
}

// InvalidTransitionError is returned when an event is not allowed from the
// record's effective status. The record is left untouched.
type InvalidTransitionError struct {
	From      Status
	Attempted Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s a request that is %s", e.Attempted, e.From)
}

// Failure reasons reported per id in a BulkResult.
const (
	ReasonInvalidTransition = "invalid_transition"
	ReasonNotFound          = "not_found"
	ReasonStoreError        = "store_error"
)

func failureReason(err error) string {
	var transitionErr *InvalidTransitionError
	switch {
	case errors.As(err, &transitionErr):
		return ReasonInvalidTransition
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	default:
		return ReasonStoreError
	}
}
