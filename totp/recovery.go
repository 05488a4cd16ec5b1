package totp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/hex"
	"strings"
)

// RecoveryCodeCount is how many recovery codes a user holds at once.
const RecoveryCodeCount = 10

// RecoveryCodeLength is the number of significant characters in a code.
const RecoveryCodeLength = 10

var recoveryEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateRecoveryCodes returns n fresh codes formatted XXXXX-XXXXX.
func GenerateRecoveryCodes(n int) ([]string, error) {
	codes := make([]string, 0, n)
	seen := make(map[string]struct{}, n)
	for len(codes) < n {
		raw := make([]byte, 7)
		if _, err := rand.Read(raw); err != nil {
			return nil, err
		}
		code := recoveryEncoding.EncodeToString(raw)[:RecoveryCodeLength]
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code[:5]+"-"+code[5:])
	}
	return codes, nil
}

// CanonicalRecoveryCode normalizes user input: case-folded, without dashes
// or whitespace.
func CanonicalRecoveryCode(code string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(code) {
		if r == '-' || r == ' ' || r == '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// HashRecoveryCode binds a code to its owner and returns the hex SHA-256
// digest that is persisted.
func HashRecoveryCode(userID, code string) string {
	sum := sha256.Sum256([]byte(userID + ":" + CanonicalRecoveryCode(code)))
	return hex.EncodeToString(sum[:])
}

// HashRecoveryCodes hashes every code in codes.
func HashRecoveryCodes(userID string, codes []string) []string {
	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = HashRecoveryCode(userID, c)
	}
	return hashes
}

// MatchRecoveryCode returns the index of the stored hash that code matches,
// or -1. Every hash is compared so timing does not reveal the position.
func MatchRecoveryCode(userID, code string, hashes []string) int {
	if len(CanonicalRecoveryCode(code)) != RecoveryCodeLength {
		return -1
	}
	candidate := HashRecoveryCode(userID, code)
	match := -1
	for i, h := range hashes {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(h)) == 1 && match < 0 {
			match = i
		}
	}
	return match
}
