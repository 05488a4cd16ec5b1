package storeauth

import (
	"net/mail"
	"regexp"
	"strings"

	"github.com/MrEthical07/storeauth/totp"
)

const maxEmailLength = 255

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,32}$`)
	phonePattern    = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)
)

// normalizeEmail trims and lower-cases an address and checks it is a bare
// addr-spec.
func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" || len(email) > maxEmailLength {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", ErrInvalidEmail
	}
	return email, nil
}

func normalizeUsername(raw string) (string, error) {
	username := strings.TrimSpace(raw)
	if !usernamePattern.MatchString(username) {
		return "", ErrInvalidUsername
	}
	return username, nil
}

// normalizePhone accepts E.164 numbers, ignoring spaces, dashes and parentheses.
func normalizePhone(raw string) (string, error) {
	phone := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')':
			return -1
		}
		return r
	}, raw)
	if !phonePattern.MatchString(phone) {
		return "", ErrInvalidPhone
	}
	return phone, nil
}

func validateCode(code string, digits int) error {
	if len(code) != digits {
		return ErrInvalidCode
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return ErrInvalidCode
		}
	}
	return nil
}

func validateRecoveryCode(code string) error {
	if len(totp.CanonicalRecoveryCode(code)) != totp.RecoveryCodeLength {
		return ErrInvalidCode
	}
	return nil
}
