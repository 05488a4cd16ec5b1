package security

import "time"

type PasswordReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

type Report struct {
	SharedState           bool
	SecureCookies         bool
	PersistentTOTPKey     bool
	PersistentSetupKey    bool
	SetupSigningAlgorithm string
	SessionLifetime       time.Duration
	RememberMeLifetime    time.Duration
	ResetLifetime         time.Duration
	Argon2                PasswordReport
	BreachCheckActive     bool
	LoginThrottleActive   bool
	AuditActive           bool
	Warnings              []string
}

type ReportInput struct {
	RedisConfigured      bool
	CookieSecure         bool
	TOTPEncryptionKeySet bool
	SetupSigningMethod   string
	SetupSigningKeySet   bool
	SessionLifetime      time.Duration
	RememberMeLifetime   time.Duration
	ResetLifetime        time.Duration
	Password             PasswordReport
	MinPasswordLength    int
	BreachCheck          bool
	LoginDelays          []time.Duration
	LoginIPMax           int64
	AuditEnabled         bool
	AuditDropIfFull      bool
	TrustedProxyCount    int
	VerificationCodeTTL  time.Duration
}

// Recommended floors below which BuildReport warns.
const (
	minArgon2Memory   = 19 * 1024
	minPasswordLength = 8
	maxCodeTTL        = 15 * time.Minute
)

func BuildReport(input ReportInput) Report {
	r := Report{
		SharedState:           input.RedisConfigured,
		SecureCookies:         input.CookieSecure,
		PersistentTOTPKey:     input.TOTPEncryptionKeySet,
		PersistentSetupKey:    input.SetupSigningKeySet,
		SetupSigningAlgorithm: input.SetupSigningMethod,
		SessionLifetime:       input.SessionLifetime,
		RememberMeLifetime:    input.RememberMeLifetime,
		ResetLifetime:         input.ResetLifetime,
		Argon2:                input.Password,
		BreachCheckActive:     input.BreachCheck,
		LoginThrottleActive:   len(input.LoginDelays) > 0 && input.LoginIPMax > 0,
		AuditActive:           input.AuditEnabled,
	}

	warn := func(msg string) { r.Warnings = append(r.Warnings, msg) }
	if !input.RedisConfigured {
		warn("sessions, codes and rate limits are held in process memory; run a single instance only")
	}
	if !input.CookieSecure {
		warn("cookies are sent without the Secure attribute")
	}
	if !input.TOTPEncryptionKeySet {
		warn("no TOTP encryption key; authenticator registrations are lost on restart")
	}
	if !input.SetupSigningKeySet {
		warn("no setup ticket signing key; pending authenticator setups fail across instances")
	}
	if input.Password.Memory < minArgon2Memory {
		warn("argon2 memory is below 19 MiB")
	}
	if input.MinPasswordLength < minPasswordLength {
		warn("minimum password length is below 8")
	}
	if input.VerificationCodeTTL > maxCodeTTL {
		warn("verification codes live longer than 15 minutes")
	}
	if input.AuditEnabled && input.AuditDropIfFull {
		warn("audit events are dropped when the buffer is full")
	}
	if input.TrustedProxyCount == 0 {
		warn("no trusted proxies; client IPs come from the socket peer")
	}
	return r
}
