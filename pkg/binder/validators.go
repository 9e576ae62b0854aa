package binder

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

var catalogIDRE = regexp.MustCompile(`^[0-9]{1,10}$`)

// catalogIDValidator accepts the numeric gallery IDs the catalog issues.
func catalogIDValidator(fl validator.FieldLevel) bool {
	return catalogIDRE.MatchString(fl.Field().String())
}
