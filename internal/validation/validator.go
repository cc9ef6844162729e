package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/ariefcatur/go-cached-orders/internal/apperr"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("money", validateMoney)
}

// Struct validates v and converts the first violation into an *apperr.ValidationError.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	e := verrs[0]
	return &apperr.ValidationError{Field: fieldPath(e), Msg: message(e)}
}

// validateMoney accepts non-negative decimals with at most two fractional digits.
func validateMoney(fl validator.FieldLevel) bool {
	d, ok := fl.Field().Interface().(decimal.Decimal)
	if !ok {
		return false
	}
	return !d.IsNegative() && d.Equal(d.Round(2))
}

func fieldPath(e validator.FieldError) string {
	// Namespace is "<Struct>.<field>..."; drop the root struct name.
	ns := e.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return e.Field()
}

func message(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must contain at least %s element(s)", e.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "money":
		return "must be a non-negative amount with at most 2 decimals"
	default:
		return fmt.Sprintf("violates rule '%s'", e.Tag())
	}
}
