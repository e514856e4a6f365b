package validator

import (
	"fmt"

	playground "github.com/go-playground/validator/v10"
)

// Validator validates request structs against their `validate` tags.
type Validator interface {
	Validate(interface{}) error
}

type validator struct {
	v *playground.Validate
}

func New() Validator {
	return &validator{v: playground.New(playground.WithRequiredStructEnabled())}
}

func (val *validator) Validate(obj interface{}) error {
	if err := val.v.Struct(obj); err != nil {
		var verrs playground.ValidationErrors
		if ok := asValidationErrors(err, &verrs); ok && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("field %s failed on %q", first.Field(), first.Tag())
		}
		return err
	}
	return nil
}

func asValidationErrors(err error, target *playground.ValidationErrors) bool {
	verrs, ok := err.(playground.ValidationErrors)
	if ok {
		*target = verrs
	}
	return ok
}
