package password

import (
	"context"
	"errors"
	"log"
	"strings"
	"unicode"
)

var (
	// ErrTooShort is returned for passwords under the policy minimum.
	ErrTooShort = errors.New("password is too short")
	// ErrTooLong is returned for passwords over the policy maximum.
	ErrTooLong = errors.New("password is too long")
	// ErrTooSimple is returned when too few character classes are used.
	ErrTooSimple = errors.New("password uses too few character classes")
	// ErrContainsIdentifier is returned when the password embeds the account's email or username.
	ErrContainsIdentifier = errors.New("password contains account identifier")
	// ErrBreached is returned when the password appears in a known breach corpus.
	ErrBreached = errors.New("password found in data breach")
)

// Policy decides whether a new password is acceptable.
type Policy struct {
	MinLength  int
	MaxLength  int
	MinClasses int
	Breach     BreachChecker
}

// DefaultPolicy accepts 8 to 255 bytes spanning at least two character
// classes and checks nothing against breach corpora.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:  8,
		MaxLength:  MaxPasswordBytes,
		MinClasses: 2,
		Breach:     NoBreachCheck{},
	}
}

// Check returns nil when candidate satisfies the policy. identifiers are the
// account's email and username; an email contributes only its local part.
// A failing breach lookup is logged and treated as a pass.
func (p Policy) Check(ctx context.Context, candidate string, identifiers ...string) error {
	if len(candidate) < p.MinLength {
		return ErrTooShort
	}
	max := p.MaxLength
	if max <= 0 || max > MaxPasswordBytes {
		max = MaxPasswordBytes
	}
	if len(candidate) > max {
		return ErrTooLong
	}
	if characterClasses(candidate) < p.MinClasses {
		return ErrTooSimple
	}

	lowered := strings.ToLower(candidate)
	for _, id := range identifiers {
		if local, _, ok := strings.Cut(id, "@"); ok {
			id = local
		}
		id = strings.ToLower(strings.TrimSpace(id))
		if len(id) >= 3 && strings.Contains(lowered, id) {
			return ErrContainsIdentifier
		}
	}

	if p.Breach == nil {
		return nil
	}
	breached, err := p.Breach.Breached(ctx, candidate)
	if err != nil {
		log.Print("storeauth: breach check unavailable, accepting password")
		return nil
	}
	if breached {
		return ErrBreached
	}
	return nil
}

func characterClasses(s string) int {
	var lower, upper, digit, other bool
	for _, r := range s {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			other = true
		}
	}
	n := 0
	for _, b := range []bool{lower, upper, digit, other} {
		if b {
			n++
		}
	}
	return n
}
