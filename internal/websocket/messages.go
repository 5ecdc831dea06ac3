package websocket

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"
)

var ErrInvalidMessage = errors.New("invalid outbound message")

// OutboundValidator checks outbound messages before they reach the wire.
// Structs are validated by their `validate` tags; ad hoc map messages only
// need to be non-empty.
type OutboundValidator struct {
	validate *validator.Validate
}

func NewOutboundValidator() *OutboundValidator {
	return &OutboundValidator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate returns an error wrapping ErrInvalidMessage when msg must not be sent.
func (v *OutboundValidator) Validate(msg any) error {
	if msg == nil {
		return fmt.Errorf("%w: nil message", ErrInvalidMessage)
	}

	rv := reflect.ValueOf(msg)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return fmt.Errorf("%w: nil message", ErrInvalidMessage)
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Struct:
		if err := v.validate.Struct(rv.Interface()); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidMessage, describe(err))
		}
		return nil
	case reflect.Map:
		if rv.Len() == 0 {
			return fmt.Errorf("%w: empty message", ErrInvalidMessage)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported kind %s", ErrInvalidMessage, rv.Kind())
	}
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	first := verrs[0]
	return fmt.Sprintf("%s failed on %s", first.Namespace(), first.Tag())
}
