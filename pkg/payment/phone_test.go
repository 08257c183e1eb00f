package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"0712345678":       "254712345678",
		"+254712345678":    "254712345678",
		"254712345678":     "254712345678",
		"712345678":        "254712345678",
		"0112345678":       "254112345678",
		"+254 712 345 678": "254712345678",
	}
	for in, want := range cases {
		got, err := NormalizePhone(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestNormalizePhone_Invalid(t *testing.T) {
	for _, in := range []string{"", "abc", "07123", "0812345678", "2547123456789"} {
		_, err := NormalizePhone(in)
		assert.ErrorIs(t, err, ErrInvalidPhone, in)
	}
}
