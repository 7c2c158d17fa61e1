package utils

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// validatorInstance returns the shared validator. Field names in errors come
// from the mapstructure tag, so messages name the configuration key.
func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("mapstructure"), ",", 2)[0]
			if name == "" || name == "-" {
				return field.Name
			}
			return name
		})
	})
	return validate
}

// ValidateStruct validates a struct using the validator package
// It returns a single error with all validation errors combined
// Used to validate configs when we start the agent and on every reload
func ValidateStruct(s interface{}) error {
	if s == nil {
		return fmt.Errorf("invalid validation: input is nil")
	}

	err := validatorInstance().Struct(s)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return fmt.Errorf("invalid validation: %v", err)
	}

	var errMsgs []string
	for _, fe := range err.(validator.ValidationErrors) {
		switch fe.Tag() {
		case "required":
			errMsgs = append(errMsgs, fmt.Sprintf("%s is required", fe.Field()))
		case "min", "max", "gte", "lte":
			errMsgs = append(errMsgs, fmt.Sprintf("%s must satisfy %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
		default:
			errMsgs = append(errMsgs, fmt.Sprintf("%s is invalid. %v", fe.Field(), fe.Error()))
		}
	}

	return errors.New(strings.Join(errMsgs, ", "))
}
