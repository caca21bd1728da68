package handlers

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/workspace-service/pkg/util/errorutil"
)

// Binder parses and validates request bodies.
type Binder struct {
	validate *validator.Validate
}

// NewBinder returns a binder reporting fields by their json names.
func NewBinder() *Binder {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Binder{validate: v}
}

// Bind decodes the body of c into out and validates it.
func (b *Binder) Bind(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return apperrors.NewBadRequest("INVALID_PAYLOAD", "invalid payload")
	}
	if err := b.validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make(map[string]any, len(verrs))
			for _, fe := range verrs {
				details[fe.Field()] = fe.Tag()
			}
			return apperrors.NewValidationError("request validation failed", details)
		}
		return apperrors.NewBadRequest("INVALID_PAYLOAD", err.Error())
	}
	return nil
}
