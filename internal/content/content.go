// Package content validates outgoing chat text and strips unsafe HTML
// from server-sent text before it reaches listener callbacks.
package content

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxMessageLength bounds outgoing message text. The backend rejects
// longer texts anyway; checking locally keeps the failure synchronous.
const MaxMessageLength = 32000

var policy = bluemonday.UGCPolicy()

var (
	ErrEmptyText   = errors.New("message text is empty")
	ErrTooLongText = errors.New("message text exceeds maximum length")
)

// Sanitize removes unsafe HTML from server-sent text. Operator messages
// may legitimately carry markup; everything outside the UGC policy goes.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// ValidateOutgoing checks text the visitor is about to send.
func ValidateOutgoing(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return ErrTooLongText
	}
	return nil
}
