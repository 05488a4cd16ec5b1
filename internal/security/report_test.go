package security

import (
	"strings"
	"testing"
	"time"
)

func hardened() ReportInput {
	return ReportInput{
		RedisConfigured:      true,
		CookieSecure:         true,
		TOTPEncryptionKeySet: true,
		SetupSigningMethod:   "ed25519",
		SetupSigningKeySet:   true,
		Password:             PasswordReport{Memory: 64 * 1024, Time: 3, Parallelism: 2, SaltLength: 16, KeyLength: 32},
		MinPasswordLength:    12,
		LoginDelays:          []time.Duration{time.Second},
		LoginIPMax:           20,
		AuditEnabled:         true,
		TrustedProxyCount:    1,
		VerificationCodeTTL:  10 * time.Minute,
	}
}

func TestBuildReportHardenedHasNoWarnings(t *testing.T) {
	r := BuildReport(hardened())
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", r.Warnings)
	}
	if !r.SharedState || !r.SecureCookies || !r.LoginThrottleActive || !r.AuditActive {
		t.Fatalf("unexpected report: %+v", r)
	}
}

func TestBuildReportWarnings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ReportInput)
		want   string
	}{
		{"memory state", func(in *ReportInput) { in.RedisConfigured = false }, "process memory"},
		{"insecure cookies", func(in *ReportInput) { in.CookieSecure = false }, "Secure attribute"},
		{"ephemeral totp key", func(in *ReportInput) { in.TOTPEncryptionKeySet = false }, "TOTP encryption key"},
		{"ephemeral setup key", func(in *ReportInput) { in.SetupSigningKeySet = false }, "setup ticket"},
		{"weak argon2", func(in *ReportInput) { in.Password.Memory = 8 * 1024 }, "argon2 memory"},
		{"short passwords", func(in *ReportInput) { in.MinPasswordLength = 6 }, "password length"},
		{"long codes", func(in *ReportInput) { in.VerificationCodeTTL = time.Hour }, "15 minutes"},
		{"lossy audit", func(in *ReportInput) { in.AuditDropIfFull = true }, "dropped"},
		{"no proxies", func(in *ReportInput) { in.TrustedProxyCount = 0 }, "trusted proxies"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := hardened()
			tt.mutate(&in)
			r := BuildReport(in)
			if len(r.Warnings) != 1 || !strings.Contains(r.Warnings[0], tt.want) {
				t.Fatalf("expected one warning containing %q, got %v", tt.want, r.Warnings)
			}
		})
	}
}

func TestLoginThrottleNeedsDelaysAndBucket(t *testing.T) {
	in := hardened()
	in.LoginDelays = nil
	if BuildReport(in).LoginThrottleActive {
		t.Fatal("expected throttle inactive without delays")
	}
}
