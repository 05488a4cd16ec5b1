package password

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type stubBreach struct {
	breached bool
	err      error
}

func (s stubBreach) Breached(context.Context, string) (bool, error) { return s.breached, s.err }

func TestPolicyCheck(t *testing.T) {
	ctx := context.Background()
	p := DefaultPolicy()

	cases := []struct {
		name string
		pw   string
		ids  []string
		want error
	}{
		{"ok", "Harbor-lights-9", []string{"ana@example.com", "ana"}, nil},
		{"short", "Ab1", nil, ErrTooShort},
		{"long", strings.Repeat("aB", 200), nil, ErrTooLong},
		{"single class", "lowercaseonly", nil, ErrTooSimple},
		{"email local part", "Mybrand-owner-7", []string{"owner@example.com"}, ErrContainsIdentifier},
		{"username", "xXstorefrontXx1", []string{"a@b.co", "Storefront"}, ErrContainsIdentifier},
		{"short identifier ignored", "Ab-cdefgh", []string{"ab@example.com"}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := p.Check(ctx, tc.pw, tc.ids...)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Check(%q) = %v, want %v", tc.pw, err, tc.want)
			}
		})
	}
}

func TestPolicyBreach(t *testing.T) {
	ctx := context.Background()
	p := DefaultPolicy()

	p.Breach = stubBreach{breached: true}
	if err := p.Check(ctx, "Password123"); !errors.Is(err, ErrBreached) {
		t.Fatalf("expected ErrBreached, got %v", err)
	}

	p.Breach = stubBreach{err: errors.New("timeout")}
	if err := p.Check(ctx, "Password123"); err != nil {
		t.Fatalf("breach lookup failure must fail open, got %v", err)
	}
}

func TestPwnedPasswordsRange(t *testing.T) {
	sum := sha1.Sum([]byte("hunter22"))
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprintf(w, "0000000000000000000000000000000000A:0\r\n%s:42\r\n", digest[5:])
	}))
	defer srv.Close()

	checker := NewPwnedPasswords(srv.URL + "/range/")
	breached, err := checker.Breached(context.Background(), "hunter22")
	if err != nil {
		t.Fatalf("Breached error: %v", err)
	}
	if !breached {
		t.Fatal("expected match in range response")
	}
	if gotPath != "/range/"+digest[:5] {
		t.Fatalf("only the 5 char prefix may be sent, got path %q", gotPath)
	}

	clean, err := checker.Breached(context.Background(), "a-password-not-listed")
	if err != nil || clean {
		t.Fatalf("expected no match, breached=%v err=%v", clean, err)
	}
}
