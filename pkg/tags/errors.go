package tags

import "github.com/cockroachdb/errors"

var (
	// ErrValidation marks a tag, catalog or registry that was built with an
	// empty or conflicting field.
	ErrValidation = errors.New("tag validation failed")

	// ErrTypeMismatch marks a default or value whose runtime type does not
	// match the tag's declared data type. It is also an ErrValidation.
	ErrTypeMismatch = errors.New("tag data type mismatch")

	// ErrUnknownDepartment is returned when a department name is not in the
	// registry.
	ErrUnknownDepartment = errors.New("unknown department")
)

func validationErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrValidation, format, args...)
}

func typeMismatchf(format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(ErrTypeMismatch, format, args...), ErrValidation)
}
