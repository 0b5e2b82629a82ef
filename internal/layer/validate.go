package layer

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

func engine() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		v.SetTagName("rule")
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
		_ = v.RegisterValidation("layertype", func(fl validator.FieldLevel) bool {
			return Type(fl.Field().String()).Valid()
		})
		validate = v
	})
	return validate
}

// Normalize validates f and returns the copy that should be stored.
// A tahun sent for a type that does not use one is dropped, so a stored
// layer has a tahun exactly when its type is Peta Ajudikasi.
func (f Fields) Normalize() (Fields, error) {
	f.Type = Type(strings.TrimSpace(string(f.Type)))
	if !f.Type.RequiresYear() {
		f.Year = nil
	}

	if err := engine().Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return Fields{}, fmt.Errorf("%w: %s", ErrValidation, describe(verrs[0], f))
		}
		return Fields{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if f.Type.RequiresYear() && f.Year == nil {
		return Fields{}, fmt.Errorf("%w: tahun is required for %s (%d-%d)",
			ErrValidation, f.Type, MinAdjudicationYear, MaxAdjudicationYear)
	}
	return f, nil
}

func describe(fe validator.FieldError, f Fields) string {
	switch fe.Field() {
	case "type":
		if fe.Tag() == "required" {
			return "type is required"
		}
		return fmt.Sprintf("unknown layer type %q", f.Type)
	case "tahun":
		return fmt.Sprintf("tahun must be between %d and %d for %s",
			MinAdjudicationYear, MaxAdjudicationYear, TypePetaAjudikasi)
	}
	return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
}
