package course

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/academia/core"
)

var (
	courseRoleTag  = "courserole"
	courseRoleText = "unknown course role"
)

// InitValidators registers this package's custom validation tags.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(courseRoleTag, courseRoleValidation)
	core.RegisterCustomTranslation(validate, translator, courseRoleTag, courseRoleText)
}

func courseRoleValidation(fl validator.FieldLevel) bool {
	return Role(core.CleanString(fl.Field().String(), true /* lower */)).Valid()
}
