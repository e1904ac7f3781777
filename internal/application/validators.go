package application

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-rubric/infrastructure/llm"
)

// RegisterConfigValidators registers the custom struct tag validators used
// by Config on v.
// RegisterConfigValidators returns an error if any validator registration
// fails.
func RegisterConfigValidators(v *validator.Validate) error {
	// Register judge identifier validator.
	if err := v.RegisterValidation("judgemodel", validateJudgeModel); err != nil {
		return fmt.Errorf("failed to register judgemodel validator: %w", err)
	}
	return nil
}

// validateJudgeModel reports whether a judge identifier resolves against
// the default provider table: a bare model such as "gemini-2.5-pro", a
// provider name, or "provider/model".
func validateJudgeModel(fl validator.FieldLevel) bool {
	_, _, err := llm.ResolveSpec(llm.DefaultProviders, fl.Field().String())
	return err == nil
}
