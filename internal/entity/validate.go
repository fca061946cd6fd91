package entity

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"bustrack/internal/apperr"
)

var (
	// RegNoPattern is the student registration number format, e.g. 23BCE7426.
	RegNoPattern = regexp.MustCompile(`^\d{2}[A-Z]{3}\d{4}$`)
	// BarcodePattern is the printed barcode format on student and faculty cards.
	BarcodePattern = regexp.MustCompile(`^[A-Z0-9-]{4,32}$`)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("regno", func(fl validator.FieldLevel) bool {
		return RegNoPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("barcode", func(fl validator.FieldLevel) bool {
		return BarcodePattern.MatchString(fl.Field().String())
	})
	return v
}

// NormalizeCode trims and uppercases a scanned or typed identifier.
func NormalizeCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Validate checks the struct tags of v and reports failures as a validation error.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation("invalid input: %v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return apperr.Validation("%s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "regno":
		return fe.Field() + " must look like 23BCE7426"
	case "barcode":
		return fe.Field() + " must be 4-32 letters, digits or dashes"
	case "email":
		return fe.Field() + " must be a valid email"
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param()
	case "gte", "lte":
		return fe.Field() + " is out of range"
	case "datetime":
		return fe.Field() + " must match " + fe.Param()
	default:
		return fe.Field() + " is invalid (" + fe.Tag() + ")"
	}
}
