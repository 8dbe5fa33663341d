// Package security screens free-text input before it reaches a language
// model prompt
package security

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	ErrInputEmpty          = errors.New("input is empty")
	ErrInputTooLarge       = errors.New("input exceeds maximum size")
	ErrNullByteDetected    = errors.New("null byte detected in input")
	ErrControlCharacter    = errors.New("control character in input")
	ErrHighWhitespaceRatio = errors.New("suspicious whitespace ratio")
	ErrRepetitiveContent   = errors.New("excessive repetition detected")
)

// InputValidator applies size and shape checks to a short text field
type InputValidator struct {
	MaxSize            int // runes
	MaxWhitespaceRatio float64
	MaxRepetition      int
	AllowNewlines      bool
}

// NewInputValidator returns the limits used for food item names
func NewInputValidator(maxSize int) *InputValidator {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &InputValidator{
		MaxSize:            maxSize,
		MaxWhitespaceRatio: 0.5,
		MaxRepetition:      8,
	}
}

func (v *InputValidator) Validate(input string) error {
	if strings.TrimSpace(input) == "" {
		return ErrInputEmpty
	}
	if v.MaxSize > 0 && utf8.RuneCountInString(input) > v.MaxSize {
		return ErrInputTooLarge
	}

	whitespace := 0
	total := 0
	for _, r := range input {
		total++
		switch {
		case r == 0:
			return ErrNullByteDetected
		case (r == '\n' || r == '\r') && !v.AllowNewlines:
			return ErrControlCharacter
		case unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t':
			return ErrControlCharacter
		case unicode.IsSpace(r):
			whitespace++
		}
	}

	if v.MaxWhitespaceRatio > 0 && total > 4 {
		if float64(whitespace)/float64(total) > v.MaxWhitespaceRatio {
			return ErrHighWhitespaceRatio
		}
	}

	if v.MaxRepetition > 0 && hasExcessiveRepetition(input, v.MaxRepetition) {
		return ErrRepetitiveContent
	}

	return nil
}

func hasExcessiveRepetition(input string, maxLen int) bool {
	var prev rune
	count := 0
	for i, r := range input {
		if i > 0 && r == prev {
			count++
			if count > maxLen {
				return true
			}
		} else {
			count = 1
		}
		prev = r
	}
	return false
}

// ValidateFoodItem checks a free-text food name for an interaction lookup.
// It returns the trimmed item.
func ValidateFoodItem(item string, maxSize int) (string, error) {
	item = strings.TrimSpace(item)
	if err := NewInputValidator(maxSize).Validate(item); err != nil {
		return "", err
	}
	if err := ValidatePrompt(item); err != nil {
		return "", err
	}
	return item, nil
}
