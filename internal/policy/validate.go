package policy

import (
	stderrors "errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError names the offending policy field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "policy error in field '" + e.Field + "': " + e.Message
}

// policyValidate checks struct tags on Policy. Initialized in init() with
// the custom glob validation.
var policyValidate *validator.Validate

func init() {
	policyValidate = validator.New()

	// Report fields by their json names so errors match the policy file.
	policyValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = policyValidate.RegisterValidation("glob", validateGlob)
}

func validateGlob(fl validator.FieldLevel) bool {
	return validPattern(fl.Field().String())
}

func validateStruct(p *Policy) *ValidationError {
	err := policyValidate.Struct(p)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Field: "policy", Message: err.Error()}
	}
	fe := fieldErrs[0]
	field := strings.TrimPrefix(fe.Namespace(), "Policy.")
	msg := "failed '" + fe.Tag() + "' check"
	if fe.Param() != "" {
		msg += " (" + fe.Param() + ")"
	}
	return &ValidationError{Field: field, Message: msg}
}
