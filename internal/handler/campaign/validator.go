package campaign

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// columnLetter accepts spreadsheet column references like "A" or "AC".
var columnLetter validator.Func = func(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" || len(s) > 2 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("column_letter", columnLetter)
	}
}
