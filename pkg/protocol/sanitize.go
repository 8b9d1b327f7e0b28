package protocol

import (
	"strings"
	"unicode/utf8"
)

var controlReplacer = strings.NewReplacer("\r", " ", "\n", " ", "\t", " ")

// sanitizeName normalizes a user-supplied identifier: CR, LF and TAB
// become spaces, surrounding whitespace is trimmed, and the result is
// clamped to max characters. Blank input sanitizes to "", which callers
// treat as invalid. Sanitizing is idempotent.
func sanitizeName(s string, max int) string {
	s = controlReplacer.Replace(s)
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > max {
		s = string([]rune(s)[:max])
	}
	return strings.TrimSpace(s)
}

// SanitizeUsername normalizes a username, clamping to MaxUsernameChars.
func SanitizeUsername(s string) string {
	return sanitizeName(s, MaxUsernameChars)
}

// SanitizeRoomName normalizes a room name, clamping to MaxRoomChars.
func SanitizeRoomName(s string) string {
	return sanitizeName(s, MaxRoomChars)
}

// TextTooLong reports whether chat text exceeds MaxTextChars characters.
func TextTooLong(s string) bool {
	return utf8.RuneCountInString(s) > MaxTextChars
}
