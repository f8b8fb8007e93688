package names

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		max    int
		policy Policy
		want   string
	}{
		{"blank passes through", "   ", 5, Throw, "   "},
		{"fits after trim", "  orders ", 6, Throw, "orders"},
		{"truncate", "hi", 1, Truncate, "h"},
		{"truncate counts bytes", "größe", 4, Truncate, "grö"},
		{"truncate keeps whole runes", "größe", 3, Truncate, "gr"},
		{"abbreviate every segment", "secondary-accounts-failed-payments-payday-tradeline", 32, Abbreviate, "scndryaccntsfldpymntspydytrdln"},
		{"abbreviate first segment only", "clear-subprime-idfraud-validation", 32, Abbreviate, "clr-subprime-idfraud-validation"},
		{"abbreviate whole name keeps leading vowel", "accountholder", 10, Abbreviate, "accnthldr"},
		{"y is not a vowel", "yearly", 5, Abbreviate, "yrly"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.raw, tt.max, tt.policy)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveFailures(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		max    int
		policy Policy
	}{
		{"throw", "toolong", 3, Throw},
		{"abbreviation still too long", "secondary-accounts-failed-payments-payday-tradeline", 12, Abbreviate},
		{"undelimited abbreviation too long", "thisnameisfartoolong", 4, Abbreviate},
		{"multibyte name over the byte limit", strings.Repeat("ä", 40), 63, Throw},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.raw, tt.max, tt.policy)
			var nameErr *InvalidNameError
			require.True(t, errors.As(err, &nameErr))
			assert.Equal(t, tt.max, nameErr.MaxLength)
		})
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	inputs := []string{
		"clear-subprime-idfraud-validation",
		"secondary-accounts-failed-payments-payday-tradeline",
		"short",
	}
	for _, in := range inputs {
		once, err := Resolve(in, 32, Abbreviate)
		require.NoError(t, err)
		twice, err := Resolve(once, 32, Abbreviate)
		require.NoError(t, err)
		assert.Equal(t, once, twice, in)
	}
}

func TestResolvePanicsOnInvalidLength(t *testing.T) {
	assert.Panics(t, func() { _, _ = Resolve("name", 0, Throw) })
}

func TestCheckLength(t *testing.T) {
	assert.NoError(t, CheckLength(63, 0))
	assert.NoError(t, CheckLength(4, 3))
	assert.NoError(t, CheckLength(1, 0))
	assert.Error(t, CheckLength(64, 0))
	assert.Error(t, CheckLength(3, 3))
	assert.Error(t, CheckLength(0, 0))
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("Abbreviate")
	require.NoError(t, err)
	assert.Equal(t, Abbreviate, p)

	_, err = ParsePolicy("shorten")
	assert.Error(t, err)
}
