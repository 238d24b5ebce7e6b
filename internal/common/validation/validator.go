// Package validation wraps go-playground/validator with the rules the bridge
// applies to configuration and webhook input.
package validation

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"line-flex-bridge/internal/common/errors"
)

var (
	instance *validator.Validate
	once     sync.Once
)

func get() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())

		// report form or json names instead of Go field names
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			for _, tag := range []string{"form", "json"} {
				name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
				if name != "" && name != "-" {
					return name
				}
			}
			return fld.Name
		})

		_ = v.RegisterValidation("sid", validateSID)
		instance = v
	})
	return instance
}

// validateSID checks a Twilio resource SID: the prefix given as parameter
// followed by 32 lowercase hex digits. Without a parameter any two letter
// prefix is accepted.
func validateSID(fl validator.FieldLevel) bool {
	sid := fl.Field().String()
	prefix := fl.Param()
	if len(sid) != 34 {
		return false
	}
	if prefix != "" && !strings.HasPrefix(sid, prefix) {
		return false
	}
	for _, r := range sid[2:] {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return false
		}
	}
	return true
}

// Struct validates s against its validate tags
func Struct(s interface{}) error {
	return format(get().Struct(s), "")
}

// Var validates a single value; name is used in the error message
func Var(value interface{}, tag, name string) error {
	return format(get().Var(value, tag), name)
}

func format(err error, name string) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return errors.ValidationError(err.Error())
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := fe.Field()
		if name != "" {
			field = name
		}
		msgs = append(msgs, describe(field, fe))
	}
	return errors.ValidationError(strings.Join(msgs, "; "))
}

func describe(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "sid":
		if fe.Param() != "" {
			return fmt.Sprintf("%s must be a Twilio SID starting with %s", field, fe.Param())
		}
		return field + " must be a Twilio SID"
	case "startswith":
		return fmt.Sprintf("%s must start with %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", field, fe.Param())
	case "url", "http_url":
		return field + " must be an absolute URL"
	default:
		return fmt.Sprintf("%s failed the %s check", field, fe.Tag())
	}
}
