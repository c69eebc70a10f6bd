package api

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

type requestValidator struct {
	validator *validator.Validate
}

func newRequestValidator() *requestValidator {
	return &requestValidator{validator: validator.New(validator.WithRequiredStructEnabled())}
}

func (v *requestValidator) Validate(i any) error {
	return v.validator.Struct(i)
}

// FormatValidationErrors maps each failing field to a readable message.
func (v *requestValidator) FormatValidationErrors(err error) map[string]string {
	out := make(map[string]string)

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		out["body"] = err.Error()
		return out
	}

	for _, e := range validationErrors {
		field := e.Field()
		switch e.Tag() {
		case "required":
			out[field] = field + " is required"
		case "uuid":
			out[field] = field + " must be a valid UUID"
		case "datetime":
			out[field] = field + " must match " + e.Param()
		case "min":
			out[field] = field + " must contain at least " + e.Param() + " item(s)"
		case "max":
			out[field] = field + " must contain at most " + e.Param() + " item(s)"
		default:
			out[field] = field + " is invalid"
		}
	}
	return out
}
