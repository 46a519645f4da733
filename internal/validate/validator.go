// Package validate checks operation requests and classifies document sources.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/ppiankov/concordia/internal/model"
)

var (
	once     sync.Once
	instance *validator.Validate
)

// validate returns the shared validator with the domain tags registered
func validate() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())

		// Report fields by their JSON names
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return fld.Name
			}
			return name
		})

		mustRegister(v, "strategy", func(fl validator.FieldLevel) bool {
			return model.Strategy(fl.Field().String()).Valid()
		})
		mustRegister(v, "doctype", func(fl validator.FieldLevel) bool {
			return model.DocumentType(fl.Field().String()).Valid()
		})
		mustRegister(v, "conflict_status", func(fl validator.FieldLevel) bool {
			switch model.ConflictStatus(fl.Field().String()) {
			case model.ConflictInvestigating, model.ConflictResolved, model.ConflictIgnored, model.ConflictEscalated:
				return true
			}
			return false
		})
		mustRegister(v, "resolution", func(fl validator.FieldLevel) bool {
			return model.Resolution(fl.Field().String()).Valid()
		})
		mustRegister(v, "source", func(fl validator.FieldLevel) bool {
			s := strings.TrimSpace(fl.Field().String())
			if strings.Contains(s, "://") {
				return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
			}
			return s != ""
		})

		instance = v
	})
	return instance
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register validation %q: %v", tag, err))
	}
}

// Struct validates a request against its struct tags. Failures come back as a
// validation error listing every offending field.
func Struct(req interface{}) error {
	err := validate().Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return model.NewError(model.KindValidation, err, "invalid request: %v", err)
	}

	fields := make(map[string]string, len(fieldErrs))
	names := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		name := fieldPath(fe)
		fields[name] = describe(fe)
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = n + " " + fields[n]
	}
	return model.ValidationError("invalid request: %s", strings.Join(parts, "; ")).WithDetail("fields", fields)
}

// fieldPath drops the top-level struct name from the namespace
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return fe.Field()
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if", "required_without":
		return "is required"
	case "min":
		switch fe.Kind() {
		case reflect.Slice:
			return fmt.Sprintf("needs at least %s items", fe.Param())
		case reflect.String:
			return fmt.Sprintf("needs at least %s characters", fe.Param())
		}
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gte":
		return "must be >= " + fe.Param()
	case "lte":
		return "must be <= " + fe.Param()
	case "gt":
		return "must be > " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "strategy":
		return "must be merge_all, prefer_authority or prefer_newest"
	case "doctype":
		return "is not a known document type"
	case "conflict_status":
		return "must be investigating, resolved, ignored or escalated"
	case "resolution":
		return "must be chose_a, chose_b, merged or flagged"
	case "source":
		return "must be a file path or an http(s) URL"
	case "unique":
		return "must not contain duplicates"
	}
	return fmt.Sprintf("failed %q validation", fe.Tag())
}
