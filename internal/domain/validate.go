package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/fathima-sithara/chat-fanout/internal/errs"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	_ = v.RegisterValidation("reaction_kind", func(fl validator.FieldLevel) bool {
		return ReactionKind(fl.Field().String()).Valid()
	})
	return v
}

// Validate checks field constraints of ev. Failures wrap errs.ErrInvalidEvent.
func Validate(ev RoomEvent) error {
	if ev == nil {
		return fmt.Errorf("%w: nil event", errs.ErrInvalidEvent)
	}
	if err := validate.Struct(ev); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s %s", errs.ErrInvalidEvent, ev.Type(), strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", errs.ErrInvalidEvent, err)
	}
	return nil
}
