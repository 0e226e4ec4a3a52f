package imagegen

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"imagebot/internal/domain"
)

const (
	MaxPromptLength = 500
	summaryLength   = 50

	enhancementSuffix = "high quality, detailed, professional, enhanced, 4k resolution"
	editSuffix        = "high quality, detailed"
)

var (
	ErrPromptEmpty   = errors.New("prompt is required")
	ErrPromptTooLong = fmt.Errorf("prompt must be at most %d characters", MaxPromptLength)
)

var titleCaser = cases.Title(language.English)

// NormalizePrompt composes the text to NFC, drops control characters and
// collapses runs of whitespace.
func NormalizePrompt(raw string) (string, error) {
	s := norm.NFC.String(raw)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "", ErrPromptEmpty
	}
	if utf8.RuneCountInString(s) > MaxPromptLength {
		return "", ErrPromptTooLong
	}
	return s, nil
}

// BuildGenerationPrompt validates a free-form text prompt.
func BuildGenerationPrompt(prompt string) (string, error) {
	return NormalizePrompt(prompt)
}

// BuildEnhancementPrompt derives a prompt that re-renders a finished task at
// higher quality.
func BuildEnhancementPrompt(source *domain.TaskRecord) string {
	if source == nil {
		return enhancementSuffix
	}
	base, err := NormalizePrompt(source.Prompt)
	if err != nil {
		return enhancementSuffix
	}
	return truncateRunes(base, MaxPromptLength-len(enhancementSuffix)-2) + ", " + enhancementSuffix
}

// BuildEditPrompt turns a user edit instruction into a generation prompt.
func BuildEditPrompt(instruction string) (string, error) {
	s, err := NormalizePrompt(instruction)
	if err != nil {
		return "", err
	}
	return truncateRunes(s, MaxPromptLength-len(editSuffix)-2) + ", " + editSuffix, nil
}

// Summary shortens a prompt for list views.
func Summary(prompt string) string {
	if utf8.RuneCountInString(prompt) <= summaryLength {
		return prompt
	}
	return truncateRunes(prompt, summaryLength) + "..."
}

// KindLabel renders a job kind for display, e.g. "Enhancement".
func KindLabel(kind domain.JobKind) string {
	return titleCaser.String(string(kind))
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n]))
}
