package vault

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"example.com", "example.com"},
		{"https://example.com", "example.com"},
		{"https://Example.COM:8443/login?next=/", "example.com"},
		{"http://user:pw@accounts.example.org/", "accounts.example.org"},
		{"example.com:8080/path", "example.com"},
		{"https://example.com./", "example.com"},
		{"http://[::1]:8080/", "::1"},
		{"  https://example.com  ", "example.com"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), tt.in)
	}
}

func TestGeneratePasswordDefaults(t *testing.T) {
	pw, err := GeneratePassword(DefaultGeneratorOptions())
	require.NoError(t, err)
	assert.Len(t, pw, DefaultPasswordLength)

	all := Lowercase + Uppercase + Digits + Symbols
	for _, r := range pw {
		assert.True(t, strings.ContainsRune(all, r), "unexpected %q", r)
	}
}

func TestGeneratePasswordRestrictsClasses(t *testing.T) {
	pw, err := GeneratePassword(GeneratorOptions{Length: 64, Digits: true})
	require.NoError(t, err)
	assert.Len(t, pw, 64)
	assert.Empty(t, strings.Trim(pw, Digits))

	pw, err = GeneratePassword(GeneratorOptions{Lowercase: true, Uppercase: true})
	require.NoError(t, err)
	assert.Len(t, pw, DefaultPasswordLength)
	assert.False(t, strings.ContainsAny(pw, Digits+Symbols))
}

func TestGeneratePasswordNoClasses(t *testing.T) {
	_, err := GeneratePassword(GeneratorOptions{Length: 8})
	assert.ErrorIs(t, err, ErrEmptyCharset)
}

func TestGeneratePasswordVaries(t *testing.T) {
	a, err := GeneratePassword(DefaultGeneratorOptions())
	require.NoError(t, err)
	b, err := GeneratePassword(DefaultGeneratorOptions())
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
