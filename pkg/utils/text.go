package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Digits keeps only the ASCII digits of s. "+55 (11) 99999-9999" becomes "5511999999999".
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PhoneFromJID strips a WhatsApp JID server part and device suffix.
func PhoneFromJID(jid string) string {
	user := jid
	if i := strings.IndexByte(user, '@'); i >= 0 {
		user = user[:i]
	}
	if i := strings.IndexByte(user, ':'); i >= 0 {
		user = user[:i]
	}
	return Digits(user)
}

// NormalizeEmail lower-cases and trims an address. Returns "" when s has no '@'.
func NormalizeEmail(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.Contains(s, "@") {
		return ""
	}
	return s
}

// LastN returns the last n runes of s, or s itself when shorter.
func LastN(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

// ContainsWord reports whether text contains word as a whole word, ignoring case.
// word may contain spaces, in which case the phrase must match on word boundaries.
// Only letters and digits join words; emoji, punctuation and any kind of space separate them.
func ContainsWord(text, word string) bool {
	text = strings.ToLower(text)
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" {
		return false
	}
	for start := 0; start < len(text); {
		i := strings.Index(text[start:], word)
		if i < 0 {
			return false
		}
		i += start
		before, _ := utf8.DecodeLastRuneInString(text[:i])
		after, _ := utf8.DecodeRuneInString(text[i+len(word):])
		if !isWordRune(before) && !isWordRune(after) {
			return true
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		start = i + size
	}
	return false
}

// isWordRune is false for utf8.RuneError, which both decoders return at the string edges.
func isWordRune(r rune) bool {
	return r != utf8.RuneError && (unicode.IsLetter(r) || unicode.IsDigit(r))
}
