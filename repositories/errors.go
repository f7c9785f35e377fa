package repositories

import "errors"

// Store-level error kinds. Implementations wrap these so services can map
// them onto the failure taxonomy with errors.Is.
var (
	ErrNotFound          = errors.New("record not found")
	ErrUniqueViolation   = errors.New("unique constraint violated")
	ErrForeignKey        = errors.New("foreign key constraint violated")
	ErrNotNull           = errors.New("required field missing")
	ErrSerialization     = errors.New("concurrent transaction conflict")
	ErrDuplicateRollback = errors.New("action log already rolled back")
	ErrUnknownEntity     = errors.New("unknown entity")
)

