package entrepreneurs

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("emprendedor not found")

const (
	FieldEmail    = "correo"
	FieldUsername = "usuario"
)

const msgMissingFields = "Faltan campos requeridos: correo, usuario y nombre del proyecto"

// ValidationError reports invalid or missing input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// DuplicateError reports a unique-field collision.
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string {
	switch e.Field {
	case FieldEmail:
		return "El correo ya está registrado"
	case FieldUsername:
		return "El nombre de usuario ya está en uso"
	default:
		return fmt.Sprintf("El valor de %s ya está en uso", e.Field)
	}
}

// StateConflictError is returned when a guarded report write finds the report
// in a state that does not permit the transition.
type StateConflictError struct {
	From ReportState
	To   ReportState
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("report transition %s -> %s not allowed", e.From, e.To)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsDuplicate reports whether err is a DuplicateError.
func IsDuplicate(err error) bool {
	var d *DuplicateError
	return errors.As(err, &d)
}
