package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDigits(t *testing.T) {
	assert.Equal(t, "5511999999999", Digits("+55 (11) 99999-9999"))
	assert.Equal(t, "", Digits("no digits"))
}

func TestPhoneFromJID(t *testing.T) {
	assert.Equal(t, "5511999999999", PhoneFromJID("5511999999999@s.whatsapp.net"))
	assert.Equal(t, "5511999999999", PhoneFromJID("5511999999999:12@s.whatsapp.net"))
	assert.Equal(t, "5511999999999", PhoneFromJID("5511999999999"))
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "ana@example.com", NormalizeEmail("  Ana@Example.COM "))
	assert.Equal(t, "", NormalizeEmail("not-an-email"))
}

func TestLastN(t *testing.T) {
	assert.Equal(t, "9999", LastN("5511999999999", 4))
	assert.Equal(t, "12", LastN("12", 4))
}

func TestContainsWord(t *testing.T) {
	tests := []struct {
		text, word string
		want       bool
	}{
		{"I want to talk to an AGENT now", "agent", true},
		{"the agency called", "agent", false},
		{"quero falar com um atendente humano", "atendente humano", true},
		{"quero falar com um atendente humano", "humano", true},
		{"urgent!", "urgent", true},
		{"urgently", "urgent", false},
		{"anything", "", false},
		{"quero um humano…", "humano", true},
		{"humano🙂", "humano", true},
		{"um\u00a0humano", "humano", true},
		{"falar com atendente, por favor", "atendente", true},
		{"nação", "na", false},
		{"ação humana", "ação", true},
		{"desumano", "humano", false},
		{"humanoção", "humano", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ContainsWord(tt.text, tt.word), "%q in %q", tt.word, tt.text)
	}
}
