// Package validate normalizes and rejects room names and message bodies.
package validate

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/weiawesome/wes-chat/internal/domain"
)

// MaxRoomLength bounds room names, in characters.
const MaxRoomLength = 64

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Registration only fails for an empty tag or a nil func.
	_ = v.RegisterValidation("room", func(fl validator.FieldLevel) bool {
		return isRoomName(fl.Field().String())
	})
	return v
}

func isRoomName(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == ':', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// NormalizeRoom trims raw and accepts it if it is 1 to 64 characters of
// ASCII letters, digits, ':', '_' or '-'.
func NormalizeRoom(raw string) (string, error) {
	room := strings.TrimSpace(raw)
	if err := validate.Var(room, fmt.Sprintf("required,max=%d,room", MaxRoomLength)); err != nil {
		return "", fmt.Errorf("%w: room %q: %v", domain.ErrInvalidPayload, raw, err)
	}
	return room, nil
}

// NormalizeMessage trims raw and accepts it if it is non-empty and at most
// maxLen characters long.
func NormalizeMessage(raw string, maxLen int) (string, error) {
	content := strings.TrimSpace(raw)
	if maxLen <= 0 {
		return "", fmt.Errorf("%w: message length limit %d", domain.ErrInvalidPayload, maxLen)
	}
	if err := validate.Var(content, fmt.Sprintf("required,max=%d", maxLen)); err != nil {
		return "", fmt.Errorf("%w: message: %v", domain.ErrInvalidPayload, err)
	}
	return content, nil
}
