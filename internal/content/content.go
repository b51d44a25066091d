package content

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	policy = bluemonday.UGCPolicy()

	markdown = goldmark.New(
		goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
	)

	ErrEmpty = errors.New("content is empty")
)

type TooLargeError struct {
	Size, Limit int
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("content is %d bytes, limit is %d", e.Size, e.Limit)
}

// Validate rejects empty and oversized message content.
func Validate(input string, limit int) error {
	if strings.TrimSpace(input) == "" {
		return ErrEmpty
	}
	if len(input) > limit {
		return &TooLargeError{Size: len(input), Limit: limit}
	}
	return nil
}

// Sanitize removes unsafe HTML from the input string using a strict policy.
// It is applied to everything user-controlled before it is stored or broadcast.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// Render converts markdown message content to HTML and sanitizes the result.
// Raw HTML embedded in the markdown does not survive the sanitizer.
func Render(input string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(input), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return policy.Sanitize(buf.String()), nil
}
