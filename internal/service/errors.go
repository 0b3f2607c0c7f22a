package service

import (
	"errors"
	"fmt"

	"github.com/raphaelgruber/livability/internal/models"
)

// ValidationError reports bad input or an address that could not be
// resolved. It is never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ConflictError reports a job transition that is not allowed from the
// job's current status.
type ConflictError struct {
	JobID  string
	Status models.JobStatus
	Action string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cannot %s job %s in status %s", e.Action, e.JobID, e.Status)
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsConflict reports whether err is a *ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}
