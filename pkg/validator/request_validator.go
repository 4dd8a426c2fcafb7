package validator

import (
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/go-playground/validator/v10"
)

var ErrValidation = errors.New("validation failed")

// RequestValidator checks inbound request structs. Besides the stock tags it
// understands uint256, a base-10 integer string in [0, 2^256).
type RequestValidator struct {
	validate *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("uint256", isUint256)

	return &RequestValidator{validate: v}
}

func (v *RequestValidator) Struct(s interface{}) error {
	if err := v.validate.Struct(s); err != nil {
		msgs := FormatValidationError(err)
		if len(msgs) == 0 {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
	}
	return nil
}

// Var validates a single value against tag.
func (v *RequestValidator) Var(field interface{}, tag string) error {
	if err := v.validate.Var(field, tag); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func FormatValidationError(err error) []string {
	var errs []string

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, e := range validationErrors {
			field := e.Field()
			tag := e.Tag()

			switch tag {
			case "required":
				errs = append(errs, fmt.Sprintf("%s is required", field))
			case "eth_addr":
				errs = append(errs, fmt.Sprintf("%s must be a 0x-prefixed 20-byte address", field))
			case "uint256":
				errs = append(errs, fmt.Sprintf("%s must be a non-negative integer below 2^256", field))
			case "min":
				errs = append(errs, fmt.Sprintf("%s must be at least %s", field, e.Param()))
			case "max":
				errs = append(errs, fmt.Sprintf("%s must be at most %s", field, e.Param()))
			default:
				errs = append(errs, fmt.Sprintf("%s is invalid (%s)", field, tag))
			}
		}
	}
	return errs
}

func isUint256(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" || strings.HasPrefix(s, "+") {
		return false
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return false
	}
	return n.Cmp(math.MaxBig256) <= 0
}
