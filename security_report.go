package storeauth

import (
	"github.com/MrEthical07/storeauth/internal/security"
)

// SecurityReport is a read-only snapshot of the engine's security posture,
// returned by [Engine.SecurityReport].
type SecurityReport = security.Report

// PasswordConfigReport mirrors the configured Argon2id parameters.
type PasswordConfigReport = security.PasswordReport

// SecurityReport summarizes the effective configuration and lists settings
// that are unsafe for production. It never includes key material.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	return BuildSecurityReport(e.config, e.redis != nil)
}

// BuildSecurityReport reports on cfg without building an engine.
func BuildSecurityReport(cfg Config, redisConfigured bool) SecurityReport {
	hash := cfg.Password.Hash
	return security.BuildReport(security.ReportInput{
		RedisConfigured:      redisConfigured,
		CookieSecure:         cfg.Cookie.Secure,
		TOTPEncryptionKeySet: cfg.TOTP.EncryptionKey != "",
		SetupSigningMethod:   cfg.TOTP.SetupSigningMethod,
		SetupSigningKeySet:   cfg.TOTP.SetupSigningKey != "",
		SessionLifetime:      cfg.Session.Lifetime,
		RememberMeLifetime:   cfg.Session.RememberMeLifetime,
		ResetLifetime:        cfg.Session.ResetLifetime,
		Password: PasswordConfigReport{
			Memory:      hash.Memory,
			Time:        hash.Time,
			Parallelism: hash.Parallelism,
			SaltLength:  hash.SaltLength,
			KeyLength:   hash.KeyLength,
		},
		MinPasswordLength:   cfg.Password.MinLength,
		BreachCheck:         cfg.Password.BreachCheck,
		LoginDelays:         cfg.RateLimit.LoginDelays,
		LoginIPMax:          cfg.RateLimit.LoginIP.Max,
		AuditEnabled:        cfg.Audit.Enabled,
		AuditDropIfFull:     cfg.Audit.DropIfFull,
		TrustedProxyCount:   len(cfg.HTTP.TrustedProxies),
		VerificationCodeTTL: cfg.Verification.CodeTTL,
	})
}
