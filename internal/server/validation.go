package server

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	maxNameLength   = 64
	maxTitleLength  = 64
	maxPromptLength = 500
)

var (
	validate      = validator.New()
	roomCodeRegex = regexp.MustCompile(`^[A-Z0-9]{6}$`)
)

func validateRequest(req any) error {
	if err := validate.Struct(req); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) && len(invalid) > 0 {
			field := strings.ToLower(invalid[0].Field())
			return errValidation(fmt.Sprintf("invalid or missing %s", field))
		}
		return errValidation("invalid request")
	}
	return nil
}

func validateRoomCode(code string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if !roomCodeRegex.MatchString(trimmed) {
		return "", errValidation("invalid room code format")
	}
	return trimmed, nil
}

func validateTitle(title string) (string, error) {
	trimmed := normalizeText(title)
	if trimmed == "" {
		return "", errValidation("title is required")
	}
	if len(trimmed) > maxTitleLength {
		return "", errValidation(fmt.Sprintf("title must be %d characters or fewer", maxTitleLength))
	}
	return trimmed, nil
}

func validateUserName(name string) (string, error) {
	trimmed := normalizeText(name)
	if trimmed == "" {
		return "", errValidation("name is required")
	}
	if len(trimmed) > maxNameLength {
		return "", errValidation(fmt.Sprintf("name must be %d characters or fewer", maxNameLength))
	}
	return trimmed, nil
}

// validatePromptText trims and bounds a submission. Empty text is legal: it
// is how a timed-out player's auto-submission is represented.
func validatePromptText(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) > maxPromptLength {
		return "", errValidation(fmt.Sprintf("prompt must be %d characters or fewer", maxPromptLength))
	}
	return trimmed, nil
}

// clampTotalRounds bounds a requested round count to [1, max], falling back
// to the default when unset.
func clampTotalRounds(requested, fallback, max int) int {
	if requested <= 0 {
		return fallback
	}
	if requested > max {
		return max
	}
	return requested
}

func normalizeText(text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	return strings.Join(fields, " ")
}
