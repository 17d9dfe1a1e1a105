package middleware

import (
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/moderation-engine/internal/model"
)

var registerOnce sync.Once

// RegisterValidators installs the domain binding tags on gin's validator and
// reports fields by their json names. Safe to call more than once.
func RegisterValidators() error {
	var err error
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}

		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})

		custom := map[string]validator.Func{
			"moderation_action": func(fl validator.FieldLevel) bool {
				switch model.Action(fl.Field().String()) {
				case model.ActionApprove, model.ActionReject, model.ActionInvestigate,
					model.ActionResolve, model.ActionDismiss, model.ActionWithdraw:
					return true
				}
				return false
			},
			"notification_type": func(fl validator.FieldLevel) bool {
				return model.NotificationType(fl.Field().String()).Valid()
			},
			"entity_kind": func(fl validator.FieldLevel) bool {
				return model.EntityKind(fl.Field().String()).Valid()
			},
		}
		for tag, fn := range custom {
			if err = v.RegisterValidation(tag, fn); err != nil {
				return
			}
		}
	})
	return err
}
