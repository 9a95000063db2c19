package vault

import (
	"crypto/rand"
	"errors"
	"math/big"
)

// Character classes available to the password generator.
const (
	Lowercase = "abcdefghijklmnopqrstuvwxyz"
	Uppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	Digits    = "0123456789"
	Symbols   = "!@#$%^&*()_+-=[]{}|;:,.<>?"
)

// DefaultPasswordLength is the generator length when none is given.
const DefaultPasswordLength = 16

// ErrEmptyCharset is returned when every character class is disabled.
var ErrEmptyCharset = errors.New("no character class selected")

// GeneratorOptions selects the length and the character classes to draw from.
type GeneratorOptions struct {
	Length    int
	Lowercase bool
	Uppercase bool
	Digits    bool
	Symbols   bool
}

// DefaultGeneratorOptions draws 16 characters from every class.
func DefaultGeneratorOptions() GeneratorOptions {
	return GeneratorOptions{
		Length:    DefaultPasswordLength,
		Lowercase: true,
		Uppercase: true,
		Digits:    true,
		Symbols:   true,
	}
}

func (o GeneratorOptions) charset() string {
	var cs string
	if o.Lowercase {
		cs += Lowercase
	}
	if o.Uppercase {
		cs += Uppercase
	}
	if o.Digits {
		cs += Digits
	}
	if o.Symbols {
		cs += Symbols
	}
	return cs
}

// GeneratePassword draws uniformly from the selected classes using the system CSPRNG.
func GeneratePassword(opts GeneratorOptions) (string, error) {
	cs := opts.charset()
	if cs == "" {
		return "", ErrEmptyCharset
	}
	if opts.Length <= 0 {
		opts.Length = DefaultPasswordLength
	}

	max := big.NewInt(int64(len(cs)))
	out := make([]byte, opts.Length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = cs[n.Int64()]
	}
	return string(out), nil
}
