package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/MrEthical07/storeauth/api"
	"github.com/MrEthical07/storeauth/metrics/export/prometheus"
	"github.com/MrEthical07/storeauth/middleware"
)

var (
	listenAddr    string
	tlsCert       string
	tlsKey        string
	serveMetrics  bool
	sweepInterval time.Duration
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the authentication API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if listenAddr != "" {
			cfg.HTTP.Addr = listenAddr
		}
		proxies, err := api.ParseTrustedProxies(cfg.HTTP.TrustedProxies)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		engine, _, cleanup, err := buildEngine(ctx, cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		go engine.RunSweeper(ctx, sweepInterval)

		a := api.New(engine,
			api.WithCookies(middleware.Cookies{Secure: cfg.Cookie.Secure, Domain: cfg.Cookie.Domain}),
			api.WithTrustedProxies(proxies),
			api.WithAllowedOrigins(cfg.HTTP.AllowedOrigins),
		)

		r := chi.NewRouter()
		r.Use(chimiddleware.Logger)
		r.Use(chimiddleware.Recoverer)
		r.Mount("/api/v1", a.Router())
		if serveMetrics && cfg.Metrics.Enabled {
			r.Handle("/metrics", prometheus.New(engine))
		}

		server := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		done := make(chan error, 1)
		go func() {
			var err error
			if tlsCert != "" && tlsKey != "" {
				err = server.ListenAndServeTLS(tlsCert, tlsKey)
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		log.Printf("storeauth listening on %s (users: %s, redis: %t)", cfg.HTTP.Addr, cfg.Database.Driver, cfg.Redis.Addr != "")
		if cfg.Redis.Addr == "" {
			fmt.Fprintln(os.Stderr, "warning: sessions and rate limits are held in memory and lost on restart")
		}

		select {
		case <-ctx.Done():
			log.Print("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().StringVarP(&listenAddr, "addr", "a", "", "Address to listen on (overrides http.addr)")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
	serverCmd.Flags().BoolVar(&serveMetrics, "metrics", true, "Serve Prometheus metrics at /metrics")
	serverCmd.Flags().DurationVar(&sweepInterval, "sweep-interval", time.Minute, "How often expired in-memory counters are evicted")
}
