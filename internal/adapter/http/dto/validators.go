package dto

import (
	"html"
	"reflect"
	"strings"

	"marketplace-escrow/internal/core/domain"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// Binding tags understood by the escrow DTOs on top of the validator
// built-ins.
var escrowValidations = map[string]validator.Func{
	"delivery_method": oneOf(string(domain.DeliveryPickup), string(domain.DeliveryShipping)),
	"entry_kind": func(fl validator.FieldLevel) bool {
		return domain.EntryKind(fl.Field().String()).Valid()
	},
}

func init() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	for tag, fn := range escrowValidations {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic("dto: registering " + tag + ": " + err.Error())
		}
	}
}

func oneOf(allowed ...string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		got := fl.Field().String()
		for _, a := range allowed {
			if got == a {
				return true
			}
		}
		return false
	}
}

// SanitizeStruct cleans the free-text fields of a bound request in place:
// surrounding whitespace goes and HTML is escaped. Addresses and notes are
// shown to the counterparty, so nothing user-typed is stored raw.
func SanitizeStruct(v any) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return
	}
	sanitizeValue(rv.Elem())
}

func sanitizeValue(rv reflect.Value) {
	switch rv.Kind() {
	case reflect.String:
		if rv.CanSet() {
			rv.SetString(html.EscapeString(strings.TrimSpace(rv.String())))
		}
	case reflect.Pointer:
		if !rv.IsNil() {
			sanitizeValue(rv.Elem())
		}
	case reflect.Struct:
		t := rv.Type()
		for i := range rv.NumField() {
			// Unexported fields cover library values such as decimal.Decimal.
			if t.Field(i).IsExported() {
				sanitizeValue(rv.Field(i))
			}
		}
	}
}
