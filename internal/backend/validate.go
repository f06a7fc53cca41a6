package backend

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"attendboard/internal/apperr"
	"attendboard/internal/model"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		// Report json field names so messages match what the form sent.
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		_ = v.RegisterValidation("eventclock", func(fl validator.FieldLevel) bool {
			s := strings.TrimSpace(fl.Field().String())
			if s == "" {
				return false
			}
			_, ok := model.ParseClock(s)
			return ok
		})
		validate = v
	})
	return validate
}

// ValidateNewEvent checks a create-event payload before it is sent.
func ValidateNewEvent(ev model.NewEvent) error {
	err := validatorInstance().Struct(ev)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperr.Validation("create_event", err.Error())
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return apperr.Validation("create_event", strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "datetime":
		return fe.Field() + " must be a date like 2025-03-01"
	case "eventclock":
		return fe.Field() + " must be a time like 18:30"
	case "max":
		return fe.Field() + " is too long"
	default:
		return fe.Field() + " is invalid (" + fe.Tag() + ")"
	}
}
