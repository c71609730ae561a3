package application

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// RegisterConfigValidators registers the custom validation functions
// used by configuration struct tags.
func RegisterConfigValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("modelformat", validateModelFormat); err != nil {
		return fmt.Errorf("failed to register modelformat validator: %w", err)
	}
	return nil
}

// validateModelFormat validates that a model string matches the required format:
// ^[a-z0-9]+/[A-Za-z0-9\-_\.]+(@[A-Za-z0-9\-_\.]+)?$
// This ensures the model follows the pattern provider/model or provider/model@version.
func validateModelFormat(fl validator.FieldLevel) bool {
	model := fl.Field().String()

	if model == "" {
		return true
	}

	// Basic validation - must contain a slash if not empty.
	for i, ch := range model {
		if ch == '/' {
			if i == 0 {
				return false // provider name cannot be empty
			}
			if i == len(model)-1 {
				return false // model name cannot be empty
			}
			return true
		}
	}

	return false
}
