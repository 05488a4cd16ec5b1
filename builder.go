package storeauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/storeauth/internal/rate"
	"github.com/MrEthical07/storeauth/internal/secretbox"
	"github.com/MrEthical07/storeauth/internal/verification"
	"github.com/MrEthical07/storeauth/jwt"
	"github.com/MrEthical07/storeauth/notify"
	"github.com/MrEthical07/storeauth/password"
	"github.com/MrEthical07/storeauth/session"
	"github.com/MrEthical07/storeauth/storage"
)

// Builder assembles an [Engine]. A Builder can be used for one Build only.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users     storage.UserStore
	sender    verification.Sender
	auditSink AuditSink
	breach    password.BreachChecker
	now       func() time.Time

	built bool
}

// New returns a builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis keeps sessions, verification requests and rate-limit counters in
// Redis. Without it they live in process memory.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore sets the user repository. It is required.
func (b *Builder) WithUserStore(users storage.UserStore) *Builder {
	b.users = users
	return b
}

// WithSender sets how one-time codes are delivered. The default only logs.
func (b *Builder) WithSender(sender verification.Sender) *Builder {
	b.sender = sender
	return b
}

// WithAuditSink sets the audit destination. Audit must also be enabled in config.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithBreachChecker overrides the breached-password lookup chosen by config.
func (b *Builder) WithBreachChecker(checker password.BreachChecker) *Builder {
	b.breach = checker
	return b
}

// WithClock sets the time source for every expiry computation.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the session validation histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- STORES --------
	var (
		sessionStore session.Store
		resetStore   session.Store
		requestStore verification.Store
		counterStore rate.Store
		memCounters  *rate.MemoryStore
	)
	if b.redis != nil {
		sessionStore = session.NewRedisStore(b.redis, cfg.Session.RedisPrefix)
		resetStore = session.NewRedisStore(b.redis, cfg.Session.ResetRedisPrefix)
		requestStore = verification.NewRedisStore(b.redis, cfg.Verification.RedisPrefix)
		counterStore = rate.NewRedisStore(b.redis, cfg.RateLimit.RedisPrefix)
	} else {
		sessionStore = session.NewMemoryStore(now)
		resetStore = session.NewMemoryStore(now)
		requestStore = verification.NewMemoryStore(now)
		memCounters = rate.NewMemoryStore(rate.WithClock(now))
		counterStore = memCounters
	}

	limits, err := newLimiter(counterStore, cfg.RateLimit, now)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config: cfg,
		users:  b.users,
		limits: limits,
		now:    now,
		sessions: session.NewManager(sessionStore, session.Config{
			Lifetime:           cfg.Session.Lifetime,
			RememberMeLifetime: cfg.Session.RememberMeLifetime,
			Now:                now,
		}),
		resets:   session.NewResetManager(resetStore, cfg.Session.ResetLifetime, now),
		totpCode: cfg.TOTP.Code,
		audit:    newAuditQueue(cfg.Audit, b.auditSink),
		metrics:  NewMetrics(cfg.Metrics),
		redis:    b.redis,
		counters: memCounters,
	}

	// -------- CREDENTIALS --------
	hasher, err := password.NewArgon2(cfg.Password.Hash)
	if err != nil {
		return nil, err
	}
	engine.hasher = hasher

	breach := b.breach
	if breach == nil {
		if cfg.Password.BreachCheck {
			breach = password.NewPwnedPasswords(cfg.Password.BreachEndpoint)
		} else {
			breach = password.NoBreachCheck{}
		}
	}
	engine.policy = password.Policy{
		MinLength:  cfg.Password.MinLength,
		MaxLength:  password.MaxPasswordBytes,
		MinClasses: cfg.Password.MinClasses,
		Breach:     breach,
	}

	if cfg.TOTP.EncryptionKey == "" {
		log.Print("storeauth: totp encryption key not configured, using an ephemeral key")
		engine.keys, err = secretbox.NewRandom()
	} else {
		engine.keys, err = secretbox.NewFromHex(cfg.TOTP.EncryptionKey)
	}
	if err != nil {
		return nil, err
	}

	tickets, err := newTicketManager(cfg.TOTP, now)
	if err != nil {
		return nil, err
	}
	engine.tickets = tickets

	// -------- VERIFICATION FLOWS --------
	sender := b.sender
	if sender == nil {
		sender = &notify.Router{Mail: notify.LogMailer{}, SMS: notify.LogSMS{}, Product: cfg.Notify.Product}
	}
	observed := &observedSender{next: sender, engine: engine}
	flowCfg := verification.Config{
		CodeTTL:     cfg.Verification.CodeTTL,
		MaxAttempts: cfg.Verification.MaxAttempts,
		Now:         now,
	}
	engine.signupFlow = verification.NewFlow(verification.KindSignupEmail, requestStore, observed, limits.verifyCode["verify-signup"], flowCfg)
	engine.emailFlow = verification.NewFlow(verification.KindEmailChange, requestStore, observed, limits.verifyCode["verify-email"], flowCfg)
	engine.phoneFlow = verification.NewFlow(verification.KindPhoneChange, requestStore, observed, limits.verifyCode["verify-phone"], flowCfg)
	engine.resetFlow = verification.NewFlow(verification.KindPasswordReset, requestStore, observed, limits.verifyCode["verify-reset"], flowCfg)

	b.built = true
	return engine, nil
}

func newTicketManager(cfg TOTPConfig, now func() time.Time) (*jwt.Manager, error) {
	jc := jwt.Config{
		TTL:           cfg.SetupTTL,
		SigningMethod: jwt.SigningMethod(cfg.SetupSigningMethod),
		Issuer:        cfg.Code.Issuer,
		Now:           now,
	}
	switch jc.SigningMethod {
	case jwt.MethodEd25519:
		priv, err := hex.DecodeString(cfg.SetupSigningKey)
		if err != nil {
			return nil, fmt.Errorf("setup signing key: %w", err)
		}
		pub, err := hex.DecodeString(cfg.SetupPublicKey)
		if err != nil {
			return nil, fmt.Errorf("setup public key: %w", err)
		}
		jc.PrivateKey, jc.PublicKey = priv, pub
	default:
		if cfg.SetupSigningKey == "" {
			log.Print("storeauth: setup ticket signing key not configured, using an ephemeral key")
			jc.PrivateKey = make([]byte, 32)
			if _, err := rand.Read(jc.PrivateKey); err != nil {
				return nil, err
			}
			break
		}
		key, err := hex.DecodeString(cfg.SetupSigningKey)
		if err != nil {
			return nil, fmt.Errorf("setup signing key: %w", err)
		}
		jc.PrivateKey = key
	}
	return jwt.NewManager(jc)
}

// observedSender counts and audits delivery failures before the flow logs them.
type observedSender struct {
	next   verification.Sender
	engine *Engine
}

func (s *observedSender) SendCode(ctx context.Context, kind verification.Kind, target, code string) error {
	err := s.next.SendCode(ctx, kind, target, code)
	if err != nil {
		s.engine.metricInc(MetricNotifySendFailure)
		s.engine.emitAudit(ctx, AuditNotificationSendFailed, false, "", "", err, func() map[string]string {
			return map[string]string{"kind": kind.String()}
		})
	}
	return err
}
