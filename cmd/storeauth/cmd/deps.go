package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/storeauth"
	"github.com/MrEthical07/storeauth/internal/verification"
	"github.com/MrEthical07/storeauth/notify"
	"github.com/MrEthical07/storeauth/storage"
	bboltstorage "github.com/MrEthical07/storeauth/storage/bbolt"
	"github.com/MrEthical07/storeauth/storage/memory"
	"github.com/MrEthical07/storeauth/storage/postgres"
)

func loadConfig() (storeauth.Config, error) {
	storeauth.LoadDotEnv()

	cfg := storeauth.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = storeauth.LoadConfigFile(configPath); err != nil {
			return cfg, fmt.Errorf("failed to load config: %w", err)
		}
	}
	if err := storeauth.ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openUsers opens the configured user store. The returned func releases it.
func openUsers(ctx context.Context, cfg storeauth.DatabaseConfig) (storage.UserStore, func(), error) {
	switch cfg.Driver {
	case "", "memory":
		return memory.New(), func() {}, nil
	case "bbolt":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := bboltstorage.NewUserStoreFromFile(cfg.Path, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open user store: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	case "postgres":
		store, err := postgres.NewUserStoreFromDSN(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// openRedis returns nil when no address is configured.
func openRedis(ctx context.Context, cfg storeauth.RedisConfig) (redis.UniversalClient, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Addr},
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

func newSender(cfg storeauth.NotifyConfig) (verification.Sender, error) {
	router := &notify.Router{
		Mail:    notify.LogMailer{},
		SMS:     notify.LogSMS{},
		Product: cfg.Product,
	}
	if cfg.SMTP.Addr != "" {
		mailer, err := notify.NewSMTPMailer(cfg.SMTP)
		if err != nil {
			return nil, err
		}
		router.Mail = mailer
	}
	if cfg.SMSWebhook != "" {
		router.SMS = notify.NewWebhookSMS(cfg.SMSWebhook, cfg.SMSToken)
	}
	return router, nil
}

// buildEngine wires an engine from cfg. The returned func closes the engine
// and every backend it opened.
func buildEngine(ctx context.Context, cfg storeauth.Config) (*storeauth.Engine, storage.UserStore, func(), error) {
	users, closeUsers, err := openUsers(ctx, cfg.Database)
	if err != nil {
		return nil, nil, nil, err
	}
	client, err := openRedis(ctx, cfg.Redis)
	if err != nil {
		closeUsers()
		return nil, nil, nil, err
	}
	sender, err := newSender(cfg.Notify)
	if err != nil {
		closeUsers()
		return nil, nil, nil, err
	}

	b := storeauth.New().WithConfig(cfg).WithUserStore(users).WithSender(sender)
	if client != nil {
		b = b.WithRedis(client)
	}
	if cfg.Audit.Enabled {
		b = b.WithAuditSink(storeauth.NewAuditLog(os.Stdout))
	}
	engine, err := b.Build()
	if err != nil {
		closeUsers()
		if client != nil {
			_ = client.Close()
		}
		return nil, nil, nil, err
	}

	cleanup := func() {
		engine.Close()
		if client != nil {
			_ = client.Close()
		}
		closeUsers()
	}
	return engine, users, cleanup, nil
}
