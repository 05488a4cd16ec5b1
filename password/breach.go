package password

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// BreachChecker reports whether a password is present in a breach corpus.
type BreachChecker interface {
	Breached(ctx context.Context, password string) (bool, error)
}

// NoBreachCheck never reports a breach.
type NoBreachCheck struct{}

// Breached always returns false.
func (NoBreachCheck) Breached(context.Context, string) (bool, error) { return false, nil }

// DefaultPwnedEndpoint is the public Pwned Passwords range API.
const DefaultPwnedEndpoint = "https://api.pwnedpasswords.com/range/"

// PwnedPasswords queries a k-anonymity range API. Only the first five hex
// characters of the SHA-1 digest leave the process.
type PwnedPasswords struct {
	Client   *http.Client
	Endpoint string
}

// NewPwnedPasswords returns a checker against endpoint with a short timeout.
func NewPwnedPasswords(endpoint string) *PwnedPasswords {
	if endpoint == "" {
		endpoint = DefaultPwnedEndpoint
	}
	return &PwnedPasswords{
		Client:   &http.Client{Timeout: 3 * time.Second},
		Endpoint: endpoint,
	}
}

// Breached looks up the digest suffix in the range returned for its prefix.
func (p *PwnedPasswords) Breached(ctx context.Context, password string) (bool, error) {
	sum := sha1.Sum([]byte(password))
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	prefix, suffix := digest[:5], digest[5:]

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.Endpoint+prefix, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Add-Padding", "true")

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("pwned passwords: unexpected status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		hashSuffix, count, ok := strings.Cut(strings.TrimSpace(scanner.Text()), ":")
		if !ok || hashSuffix != suffix {
			continue
		}
		// Padding entries carry a zero count.
		return count != "0", nil
	}
	return false, scanner.Err()
}
