package httpapi

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"kincore/pkg/domain"
)

// Custom binding validations for graph value types, registered once on gin's
// shared validator engine.
func init() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	_ = v.RegisterValidation("gender", func(fl validator.FieldLevel) bool {
		return domain.Gender(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("reltype", func(fl validator.FieldLevel) bool {
		return domain.RelType(fl.Field().String()).Valid()
	})
}
