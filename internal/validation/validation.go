// Package validation checks struct-tag rules with go-playground/validator and
// reports failures as apperr.ValidationError field lists keyed by JSON name.
//
// Two tag sets are read. `validate` holds rules for every field that is
// present; `create` lists the fields a create call must supply. Pointer fields
// that are nil count as absent, which is how partial updates skip them.
package validation

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"rhgestor.org/internal/apperr"
)

var (
	rules    = newValidator("validate")
	presence = newValidator("create")
	enums    = map[string][]string{}
)

func newValidator(tag string) *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.SetTagName(tag)
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return f.Name
		}
		return name
	})
	if err := v.RegisterValidation("digits", digits); err != nil {
		panic(err)
	}
	return v
}

// digits=N accepts exactly N ASCII digits.
func digits(fl validator.FieldLevel) bool {
	n, err := strconv.Atoi(fl.Param())
	s := fl.Field().String()
	return err == nil && len(s) == n && strings.Trim(s, "0123456789") == ""
}

// RegisterEnum adds a rule named tag accepting only the listed values. It must
// run during package initialization, before any Struct call.
func RegisterEnum(tag string, allowed []string) {
	values := append([]string(nil), allowed...)
	err := rules.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		for _, a := range values {
			if a == s {
				return true
			}
		}
		return false
	})
	if err != nil {
		panic(err)
	}
	enums[tag] = values
}

// Struct validates s. With creating set, the `create` presence rules run too.
func Struct(s any, creating bool) error {
	var out apperr.ValidationError
	seen := map[string]bool{}
	if creating {
		if err := collect(presence.Struct(s), &out, seen); err != nil {
			return err
		}
	}
	if err := collect(rules.Struct(s), &out, seen); err != nil {
		return err
	}
	return out.Err()
}

// Email reports whether s is a well-formed address.
func Email(s string) bool {
	return rules.Var(s, "required,email") == nil
}

// collect appends one message per field; the first failure wins. Errors other
// than rule failures are returned as is.
func collect(err error, out *apperr.ValidationError, seen map[string]bool) error {
	if err == nil {
		return nil
	}
	failures, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	for _, fe := range failures {
		if seen[fe.Field()] {
			continue
		}
		seen[fe.Field()] = true
		out.Add(fe.Field(), message(fe))
	}
	return nil
}

func message(fe validator.FieldError) string {
	f := fe.Field()
	switch fe.Tag() {
	case "required":
		return f + " is required"
	case "min":
		if fe.Param() == "1" {
			return f + " cannot be empty"
		}
		return fmt.Sprintf("%s must have at least %s characters", f, fe.Param())
	case "len":
		return fmt.Sprintf("%s must have exactly %s characters", f, fe.Param())
	case "digits":
		return fmt.Sprintf("%s must have exactly %s digits", f, fe.Param())
	case "gte":
		if fe.Param() == "0" {
			return f + " must be zero or greater"
		}
		return fmt.Sprintf("%s must be at least %s", f, fe.Param())
	case "datetime":
		return f + " must use the YYYY-MM-DD format"
	case "email":
		return f + " must be a valid email address"
	}
	if allowed, ok := enums[fe.Tag()]; ok {
		return f + " must be one of: " + strings.Join(allowed, ", ")
	}
	return f + " is invalid"
}
