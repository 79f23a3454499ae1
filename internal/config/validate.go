package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/dray-io/housekeeper/internal/housekeeping"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func v() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(yamlName)
		_ = validate.RegisterValidation("period", periodValidator)
		_ = validate.RegisterValidation("lifecycle", lifecycleValidator)
	})
	return validate
}

// yamlName reports fields by their YAML key so errors match the file.
func yamlName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

// periodValidator accepts ISO-8601 durations such as P30D or PT3H.
func periodValidator(fl validator.FieldLevel) bool {
	_, err := housekeeping.ParsePeriod(fl.Field().String())
	return err == nil
}

func lifecycleValidator(fl validator.FieldLevel) bool {
	_, err := housekeeping.ParseLifecycleType(fl.Field().String())
	return err == nil
}

// Validate checks the configuration and reports every invalid field.
func (c *Config) Validate() error {
	err := v().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, fmt.Errorf("config: invalid %s: %s", fieldPath(fe), describe(fe)))
	}
	return errors.Join(errs...)
}

// fieldPath drops the root type name: "Config.cleanup.pageSize" -> "cleanup.pageSize".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "value is required"
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("at least %s entries required", fe.Param())
		}
		return fmt.Sprintf("must be at least %s, got %v", fe.Param(), fe.Value())
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fe.Value())
	case "period":
		return fmt.Sprintf("%q is not an ISO-8601 period", fe.Value())
	case "lifecycle":
		return fmt.Sprintf("unknown lifecycle type %q", fe.Value())
	case "hostname_port":
		return fmt.Sprintf("%q is not host:port", fe.Value())
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}
