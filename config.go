package storeauth

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrEthical07/storeauth/internal/rate"
	"github.com/MrEthical07/storeauth/notify"
	"github.com/MrEthical07/storeauth/password"
	"github.com/MrEthical07/storeauth/totp"
)

// Config is the full engine and server configuration.
//
// Config values are copied into the engine by [Builder.Build]; later changes
// to the caller's value have no effect.
type Config struct {
	Session      SessionConfig      `yaml:"session"`
	Password     PasswordConfig     `yaml:"password"`
	TOTP         TOTPConfig         `yaml:"totp"`
	Verification VerificationConfig `yaml:"verification"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Cookie       CookieConfig       `yaml:"cookie"`
	Audit        AuditConfig        `yaml:"audit"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Redis        RedisConfig        `yaml:"redis"`
	Database     DatabaseConfig     `yaml:"database"`
	Notify       NotifyConfig       `yaml:"notify"`
	HTTP         HTTPConfig         `yaml:"http"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls sign-in and password-reset sessions.
type SessionConfig struct {
	RedisPrefix        string        `yaml:"redis_prefix"`
	ResetRedisPrefix   string        `yaml:"reset_redis_prefix"`
	Lifetime           time.Duration `yaml:"lifetime"`
	RememberMeLifetime time.Duration `yaml:"remember_me_lifetime"`
	ResetLifetime      time.Duration `yaml:"reset_lifetime"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig controls hashing and the strength policy.
type PasswordConfig struct {
	Hash           password.Config `yaml:"hash"`
	MinLength      int             `yaml:"min_length"`
	MinClasses     int             `yaml:"min_classes"`
	BreachCheck    bool            `yaml:"breach_check"`
	BreachEndpoint string          `yaml:"breach_endpoint"`
	UpgradeOnLogin bool            `yaml:"upgrade_on_login"`
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig controls authenticator codes, key sealing and setup tickets.
type TOTPConfig struct {
	Code totp.Config `yaml:"code"`
	// EncryptionKey is the hex AES-256 key sealing stored TOTP keys. When
	// empty an ephemeral key is generated and registrations do not survive a
	// restart.
	EncryptionKey string `yaml:"encryption_key"`
	// SetupSigningMethod is "hs256" (default) or "ed25519".
	SetupSigningMethod string        `yaml:"setup_signing_method"`
	SetupSigningKey    string        `yaml:"setup_signing_key"`
	SetupPublicKey     string        `yaml:"setup_public_key"`
	SetupTTL           time.Duration `yaml:"setup_ttl"`
}

/*
====================================
VERIFICATION CONFIG
====================================
*/

// VerificationConfig controls one-time code requests.
type VerificationConfig struct {
	RedisPrefix string        `yaml:"redis_prefix"`
	CodeTTL     time.Duration `yaml:"code_ttl"`
	MaxAttempts int           `yaml:"max_attempts"`
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// BucketPolicy sizes one bucket: Max tokens, refilled one per Interval for
// refilling buckets or restored all at once after Interval for expiring ones.
type BucketPolicy struct {
	Max      int64         `yaml:"max"`
	Interval time.Duration `yaml:"interval"`
}

func (p BucketPolicy) validate(name string) error {
	if p.Max <= 0 || p.Interval <= 0 {
		return fmt.Errorf("RateLimit %s requires max > 0 and interval > 0", name)
	}
	return nil
}

// RateLimitConfig sizes every limit the engine applies.
type RateLimitConfig struct {
	RedisPrefix string `yaml:"redis_prefix"`

	LoginIP          BucketPolicy    `yaml:"login_ip"`
	LoginDelays      []time.Duration `yaml:"login_delays"`
	SignupIP         BucketPolicy    `yaml:"signup_ip"`
	SendCode         BucketPolicy    `yaml:"send_code"`
	VerifyCode       BucketPolicy    `yaml:"verify_code"`
	TOTP             BucketPolicy    `yaml:"totp"`
	RecoveryCode     BucketPolicy    `yaml:"recovery_code"`
	ForgotPasswordIP BucketPolicy    `yaml:"forgot_password_ip"`
	ForgotPassword   BucketPolicy    `yaml:"forgot_password_user"`
	PhoneChangeIP    BucketPolicy    `yaml:"phone_change_ip"`
	PasswordUpdate   BucketPolicy    `yaml:"password_update"`
}

/*
====================================
TRANSPORT CONFIG
====================================
*/

// CookieConfig controls the cookies written by the HTTP layer.
type CookieConfig struct {
	Secure bool   `yaml:"secure"`
	Domain string `yaml:"domain"`
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

// RedisConfig selects the shared store for sessions, requests and limits.
// An empty Addr keeps everything in process memory.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DatabaseConfig selects the user store: "memory", "bbolt" or "postgres".
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Path   string `yaml:"path"`
}

// NotifyConfig selects how codes are delivered. Without SMTP or an SMS
// webhook the log senders are used.
type NotifyConfig struct {
	Product    string            `yaml:"product"`
	SMTP       notify.SMTPConfig `yaml:"smtp"`
	SMSWebhook string            `yaml:"sms_webhook"`
	SMSToken   string            `yaml:"sms_token"`
}

// HTTPConfig controls the API server.
type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	TrustedProxies []string `yaml:"trusted_proxies"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns production defaults with in-memory backends.
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			RedisPrefix:        "as",
			ResetRedisPrefix:   "ars",
			Lifetime:           24 * time.Hour,
			RememberMeLifetime: 30 * 24 * time.Hour,
			ResetLifetime:      10 * time.Minute,
		},
		Password: PasswordConfig{
			Hash:           password.DefaultConfig(),
			MinLength:      8,
			MinClasses:     2,
			BreachEndpoint: password.DefaultPwnedEndpoint,
			UpgradeOnLogin: true,
		},
		TOTP: TOTPConfig{
			Code:               totp.DefaultConfig(),
			SetupSigningMethod: "hs256",
			SetupTTL:           10 * time.Minute,
		},
		Verification: VerificationConfig{
			RedisPrefix: "avr",
			CodeTTL:     10 * time.Minute,
			MaxAttempts: 3,
		},
		RateLimit: RateLimitConfig{
			RedisPrefix:      "arl",
			LoginIP:          BucketPolicy{Max: 20, Interval: time.Second},
			LoginDelays:      append([]time.Duration(nil), rate.DefaultLoginDelays...),
			SignupIP:         BucketPolicy{Max: 3, Interval: 10 * time.Second},
			SendCode:         BucketPolicy{Max: 3, Interval: 10 * time.Minute},
			VerifyCode:       BucketPolicy{Max: 5, Interval: 30 * time.Minute},
			TOTP:             BucketPolicy{Max: 5, Interval: 30 * time.Minute},
			RecoveryCode:     BucketPolicy{Max: 3, Interval: time.Hour},
			ForgotPasswordIP: BucketPolicy{Max: 3, Interval: time.Minute},
			ForgotPassword:   BucketPolicy{Max: 3, Interval: time.Minute},
			PhoneChangeIP:    BucketPolicy{Max: 5, Interval: time.Minute},
			PasswordUpdate:   BucketPolicy{Max: 5, Interval: 30 * time.Minute},
		},
		Cookie: CookieConfig{Secure: true},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{Enabled: true},
		Database: DatabaseConfig{
			Driver: "memory",
			Path:   "storeauth.db",
		},
		Notify: NotifyConfig{Product: "Store Admin"},
		HTTP:   HTTPConfig{Addr: ":8080"},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.RateLimit.LoginDelays = append([]time.Duration(nil), cfg.RateLimit.LoginDelays...)
	out.HTTP.AllowedOrigins = append([]string(nil), cfg.HTTP.AllowedOrigins...)
	out.HTTP.TrustedProxies = append([]string(nil), cfg.HTTP.TrustedProxies...)
	return out
}

// LoadConfigFile reads YAML from path over [DefaultConfig]. Keys missing
// from the file keep their defaults.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDotEnv loads a .env file from the working directory or its parent if
// one exists. A missing file is not an error.
func LoadDotEnv() {
	if err := godotenv.Load(); err != nil {
		_ = godotenv.Load("../.env")
	}
}

// ApplyEnv overlays STOREAUTH_* environment variables onto cfg. Secrets are
// expected here rather than in the YAML file.
func ApplyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	str("STOREAUTH_HTTP_ADDR", &cfg.HTTP.Addr)
	str("STOREAUTH_REDIS_ADDR", &cfg.Redis.Addr)
	str("STOREAUTH_REDIS_PASSWORD", &cfg.Redis.Password)
	str("STOREAUTH_DATABASE_DRIVER", &cfg.Database.Driver)
	str("STOREAUTH_DATABASE_DSN", &cfg.Database.DSN)
	str("STOREAUTH_DATABASE_PATH", &cfg.Database.Path)
	str("STOREAUTH_TOTP_ENCRYPTION_KEY", &cfg.TOTP.EncryptionKey)
	str("STOREAUTH_SETUP_SIGNING_KEY", &cfg.TOTP.SetupSigningKey)
	str("STOREAUTH_SETUP_PUBLIC_KEY", &cfg.TOTP.SetupPublicKey)
	str("STOREAUTH_SMTP_ADDR", &cfg.Notify.SMTP.Addr)
	str("STOREAUTH_SMTP_USERNAME", &cfg.Notify.SMTP.Username)
	str("STOREAUTH_SMTP_PASSWORD", &cfg.Notify.SMTP.Password)
	str("STOREAUTH_SMTP_FROM", &cfg.Notify.SMTP.From)
	str("STOREAUTH_SMS_WEBHOOK", &cfg.Notify.SMSWebhook)
	str("STOREAUTH_SMS_TOKEN", &cfg.Notify.SMSToken)

	if v, ok := os.LookupEnv("STOREAUTH_REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("STOREAUTH_REDIS_DB: %w", err)
		}
		cfg.Redis.DB = n
	}
	if v, ok := os.LookupEnv("STOREAUTH_COOKIE_SECURE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("STOREAUTH_COOKIE_SECURE: %w", err)
		}
		cfg.Cookie.Secure = b
	}
	if v, ok := os.LookupEnv("STOREAUTH_ALLOWED_ORIGINS"); ok {
		cfg.HTTP.AllowedOrigins = splitList(v)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports the first inconsistency in c.
func (c *Config) Validate() error {
	// Session
	if c.Session.Lifetime <= 0 {
		return errors.New("Session Lifetime must be > 0")
	}
	if c.Session.RememberMeLifetime < c.Session.Lifetime {
		return errors.New("Session RememberMeLifetime must be >= Lifetime")
	}
	if c.Session.ResetLifetime <= 0 {
		return errors.New("Session ResetLifetime must be > 0")
	}
	if c.Session.RedisPrefix == c.Session.ResetRedisPrefix {
		return errors.New("Session RedisPrefix and ResetRedisPrefix must differ")
	}

	// Password
	if c.Password.Hash.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Hash.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Hash.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.Hash.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.Hash.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 8 || c.Password.MinLength > password.MaxPasswordBytes {
		return errors.New("Password MinLength must be between 8 and 255")
	}
	if c.Password.MinClasses < 1 || c.Password.MinClasses > 4 {
		return errors.New("Password MinClasses must be between 1 and 4")
	}
	if c.Password.BreachCheck && c.Password.BreachEndpoint == "" {
		return errors.New("Password BreachEndpoint required when BreachCheck is enabled")
	}

	// TOTP
	if c.TOTP.Code.Digits < 6 || c.TOTP.Code.Digits > 8 {
		return errors.New("TOTP Digits must be between 6 and 8")
	}
	if c.TOTP.Code.Period <= 0 {
		return errors.New("TOTP Period must be > 0")
	}
	if c.TOTP.Code.GracePeriod < 0 {
		return errors.New("TOTP GracePeriod must be >= 0")
	}
	if c.TOTP.EncryptionKey != "" {
		if key, err := hex.DecodeString(c.TOTP.EncryptionKey); err != nil || len(key) != 32 {
			return errors.New("TOTP EncryptionKey must be 64 hex characters")
		}
	}
	switch c.TOTP.SetupSigningMethod {
	case "hs256":
	case "ed25519":
		if c.TOTP.SetupSigningKey == "" || c.TOTP.SetupPublicKey == "" {
			return errors.New("ed25519 setup tickets require SetupSigningKey and SetupPublicKey")
		}
	default:
		return errors.New("unsupported TOTP SetupSigningMethod")
	}
	if c.TOTP.SetupTTL <= 0 {
		return errors.New("TOTP SetupTTL must be > 0")
	}

	// Verification
	if c.Verification.CodeTTL <= 0 {
		return errors.New("Verification CodeTTL must be > 0")
	}
	if c.Verification.MaxAttempts <= 0 {
		return errors.New("Verification MaxAttempts must be > 0")
	}

	// Rate limits
	rl := c.RateLimit
	if len(rl.LoginDelays) == 0 {
		return errors.New("RateLimit LoginDelays must not be empty")
	}
	for _, b := range []struct {
		name   string
		policy BucketPolicy
	}{
		{"LoginIP", rl.LoginIP},
		{"SignupIP", rl.SignupIP},
		{"SendCode", rl.SendCode},
		{"VerifyCode", rl.VerifyCode},
		{"TOTP", rl.TOTP},
		{"RecoveryCode", rl.RecoveryCode},
		{"ForgotPasswordIP", rl.ForgotPasswordIP},
		{"ForgotPassword", rl.ForgotPassword},
		{"PhoneChangeIP", rl.PhoneChangeIP},
		{"PasswordUpdate", rl.PasswordUpdate},
	} {
		if err := b.policy.validate(b.name); err != nil {
			return err
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	// Database
	switch c.Database.Driver {
	case "memory":
	case "bbolt":
		if c.Database.Path == "" {
			return errors.New("bbolt database requires Path")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("postgres database requires DSN")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	return nil
}
