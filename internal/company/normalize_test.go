package company

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple", "Acme Corp", "ACME"},
		{"ampersand equals and", "Acme & Co.", "ACME AND"},
		{"suffix stripped", "Initech, Inc.", "INITECH"},
		{"llc stripped", "Globex LLC", "GLOBEX"},
		{"extra whitespace", "  Hooli   Industries ", "HOOLI INDUSTRIES"},
		{"diacritics folded", "Café Müller GmbH", "CAFE MULLER"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeName(tt.in))
		})
	}
}

func TestNormalizeName_EquivalentSpellings(t *testing.T) {
	assert.Equal(t, NormalizeName("Acme & Co."), NormalizeName("acme and co"))
	assert.Equal(t, NormalizeName("Initech Inc"), NormalizeName("INITECH, INC."))
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Acme Corp", "acme-corp"},
		{"Acme & Co.", "acme-and-co"},
		{"  Spaced   Out  ", "spaced-out"},
		{"Café Müller", "cafe-muller"},
		{"---", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Slug(tt.in))
		})
	}
}

func TestPlaceholderName(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	name := PlaceholderName(now)

	assert.True(t, IsPlaceholder(name))
	assert.Contains(t, name, "1787918400000000")
	assert.False(t, IsPlaceholder("Acme Corp"))
}
