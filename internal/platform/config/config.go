package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// ParseEnv loads `env` and `envDefault` struct tags into target. Every bad
// variable is reported in one error.
func ParseEnv(target any) error {
	err := env.Parse(target)
	if err == nil {
		return nil
	}
	var aggregate env.AggregateError
	if !errors.As(err, &aggregate) {
		return fmt.Errorf("parse env: %w", err)
	}
	parts := make([]string, 0, len(aggregate.Errors))
	for _, fieldErr := range aggregate.Errors {
		parts = append(parts, fieldErr.Error())
	}
	return fmt.Errorf("parse env: %s", strings.Join(parts, "; "))
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks `validate` struct tags on a parsed configuration value.
// Field failures are reported together as one error.
func Validate(target any) error {
	err := validatorInstance().Struct(target)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("validate config: %s", strings.Join(parts, "; "))
}

// Load parses environment variables into target and validates the result.
func Load(target any) error {
	if err := ParseEnv(target); err != nil {
		return err
	}
	return Validate(target)
}
