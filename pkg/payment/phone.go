package payment

import (
	"regexp"
	"strings"
)

var nonDigits = regexp.MustCompile(`\D`)

// NormalizePhone converts Kenyan mobile numbers (0712345678, +254712345678,
// 712345678, 254 712 345 678) to the 2547XXXXXXXX / 2541XXXXXXXX form Daraja expects.
func NormalizePhone(s string) (string, error) {
	s = nonDigits.ReplaceAllString(s, "")
	switch {
	case s == "":
		return "", ErrInvalidPhone
	case strings.HasPrefix(s, "254"):
	case strings.HasPrefix(s, "0"):
		s = "254" + s[1:]
	default:
		s = "254" + s
	}
	if len(s) != 12 || (s[3] != '7' && s[3] != '1') {
		return "", ErrInvalidPhone
	}
	return s, nil
}
