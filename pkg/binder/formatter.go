package binder

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/schema"
	"github.com/segmentio/encoding/json"
)

// Validation tags with a tailored message.
const (
	catalogID = "catalogid"
	gt        = "gt"
	gte       = "gte"
	mx        = "max"
	mn        = "min"
	ne        = "ne"
	oneof     = "oneof"
	required  = "required"
	urlTag    = "url"
)

func formatUnmarshalTypeError(err *json.UnmarshalTypeError) string {
	field := strings.Trim(err.Field, ".")
	if field == "" {
		return fmt.Sprintf("value should be of type %s", err.Type)
	}
	return fmt.Sprintf("%q should be of type %s", field, err.Type)
}

func formatSchemaConversionError(err schema.ConversionError) string {
	return fmt.Sprintf("%q should be of type %s", err.Key, err.Type)
}

func isNumeric(k reflect.Kind) bool {
	switch k { //nolint:exhaustive
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func plural(word, n string) string {
	if n == "1" {
		return word
	}
	return word + "s"
}

// bound renders a min or max failure. cmp is "less" or "greater".
func bound(err validator.FieldError, cmp string) string {
	field, n := err.Field(), err.Param()
	switch {
	case isNumeric(err.Kind()):
		return fmt.Sprintf("%q must be %s than or equal to %s", field, cmp, n)
	case err.Kind() == reflect.Slice:
		return fmt.Sprintf("%q length must be %s than or equal to %s %s", field, cmp, n, plural("element", n))
	default:
		return fmt.Sprintf("%q length must be %s than or equal to %s %s", field, cmp, n, plural("character", n))
	}
}

func formatValidationError(err validator.FieldError) string {
	field := err.Field()

	switch err.Tag() {
	case catalogID:
		return fmt.Sprintf("%q must be a numeric catalog ID", field)
	case gt:
		return fmt.Sprintf("%q must be greater than %s", field, err.Param())
	case gte:
		return fmt.Sprintf("%q must be greater than or equal to %s", field, err.Param())
	case mx:
		return bound(err, "less")
	case mn:
		return bound(err, "greater")
	case ne:
		return fmt.Sprintf("%q can't be %q", field, err.Param())
	case oneof:
		valids := make([]string, 0)
		for _, p := range strings.Fields(err.Param()) {
			valids = append(valids, fmt.Sprintf("%q", p))
		}
		return fmt.Sprintf("%q must be one of the following: %s", field, strings.Join(valids, ", "))
	case required:
		return fmt.Sprintf("%q is required", field)
	case urlTag:
		return fmt.Sprintf("%q must be a valid URL", field)
	default:
		return fmt.Sprintf("%q failed the %q check", field, err.Tag())
	}
}
