// internal/services/errors.go
package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/javajoker/fanvault-backend/internal/utils"
)

var (
	// ErrInvalidStateTransition is returned when an operation does not apply
	// to the transaction or subscription in its current state.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrForbidden              = errors.New("forbidden")
	// ErrPartialRefund is a provider refund that does not cover the whole
	// transaction. Only full reversals are booked automatically.
	ErrPartialRefund = errors.New("partial refund requires manual handling")
)

// ValidationError rejects a request before anything is persisted.
type ValidationError struct {
	Message string                  `json:"message"`
	Fields  []utils.ValidationError `json:"fields,omitempty"`
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Message)
	}
	return e.Message + ": " + strings.Join(msgs, "; ")
}

func invalidf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// validateRequest runs the struct validator and converts its failures.
func validateRequest(req interface{}) error {
	if err := utils.ValidateStruct(req); err != nil {
		fields := utils.GetValidationErrors(err)
		if len(fields) == 0 {
			return &ValidationError{Message: err.Error()}
		}
		return &ValidationError{Message: "invalid request", Fields: fields}
	}
	return nil
}
