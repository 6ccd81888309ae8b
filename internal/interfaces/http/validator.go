package http

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Input validation constants
const (
	MaxSenderLength = 64
	MaxInboundText  = 4096
)

var senderPattern = regexp.MustCompile(`^(whatsapp:)?\+?[0-9]{4,20}$`)

// ValidSender checks a sender id path parameter (WhatsApp id or Twilio address).
func ValidSender(s string) bool {
	return s != "" && len(s) <= MaxSenderLength && senderPattern.MatchString(s)
}

// SanitizeString removes null bytes, invalid UTF-8 and caps the length in runes.
func SanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")

	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for _, r := range s {
			if r != utf8.RuneError {
				v = append(v, r)
			}
		}
		s = string(v)
	}
	if utf8.RuneCountInString(s) > MaxInboundText {
		s = string([]rune(s)[:MaxInboundText])
	}
	return s
}
