package utils

import (
	"fmt"

	"github.com/pkg/errors"
)

type fieldRequiredError struct {
	path  string
	field string
}

func (e *fieldRequiredError) Error() string {
	return fmt.Sprintf("%s: %q is required", e.path, e.field)
}

// NewConfigValidationFieldRequiredError returns an error for a config field that is missing.
func NewConfigValidationFieldRequiredError(path, field string) error {
	return &fieldRequiredError{path: path, field: field}
}

// GetFieldFromFieldRequiredError returns the name of the missing field, or "" if err is not a
// field required error.
func GetFieldFromFieldRequiredError(err error) string {
	var fieldErr *fieldRequiredError
	if errors.As(err, &fieldErr) {
		return fieldErr.field
	}
	return ""
}

// NewConfigValidationError returns an error for a config field that is set but unusable.
func NewConfigValidationError(path string, err error) error {
	return errors.Wrapf(err, "error validating %q", path)
}
