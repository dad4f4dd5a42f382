package course

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-courses/core"
	"github.com/trezcool/masomo-courses/core/slug"
)

var (
	slugTitleTag  = "slugtitle"
	slugTitleText = slug.ErrInvalidTitle.Error()
)

// InitValidators registers the course validators. core.InitValidators must have been called first.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(slugTitleTag, slugTitleValidation)
	core.RegisterCustomTranslation(validate, translator, slugTitleTag, slugTitleText)
}

// slugTitleValidation checks that the title yields a non-empty slug.
func slugTitleValidation(fl validator.FieldLevel) bool {
	_, err := slug.Normalize(fl.Field().String())
	return err == nil
}
