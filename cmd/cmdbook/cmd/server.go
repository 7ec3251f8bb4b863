package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jmcleod/cmdbook/api"
	"github.com/jmcleod/cmdbook/auth"
	"github.com/jmcleod/cmdbook/crypto"
	"github.com/jmcleod/cmdbook/internal/config"
)

var (
	listenAddr     string
	dataDir        string
	storageBackend string
	tlsCert        string
	tlsKey         string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the admin auth server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		applyServerFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
		return runServer(cmd.Context(), cfg, slog.Default())
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().StringVarP(&listenAddr, "listen", "l", ":8080", "Address to listen on")
	serverCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for persistent data")
	serverCmd.Flags().StringVar(&storageBackend, "storage", config.BackendBbolt, "Storage backend: bbolt, memory, postgres, sqlite")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
}

// applyServerFlags lets explicitly set flags override the environment.
func applyServerFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.ListenAddr = listenAddr
	}
	if flags.Changed("data-dir") {
		cfg.DataDir = dataDir
	}
	if flags.Changed("storage") {
		cfg.Backend = storageBackend
	}
	if flags.Changed("tls-cert") {
		cfg.TLSCert = tlsCert
	}
	if flags.Changed("tls-key") {
		cfg.TLSKey = tlsKey
	}
}

func runServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closer, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	keys, err := storageKeys(cfg, logger)
	if err != nil {
		return err
	}
	defer keys.Wipe()

	creds, err := auth.NewCredentialStore(repo, keys.Credential)
	if err != nil {
		return err
	}
	sessions, err := auth.NewPersistentSessionStore(repo, keys.Session)
	if err != nil {
		return err
	}
	codec, err := crypto.NewFileCodec(cfg.ArtifactPassphrase)
	if err != nil {
		return err
	}
	if cfg.ArtifactPassphrase == crypto.DefaultArtifactPassphrase {
		logger.Warn("using the built-in artifact passphrase; recovery files can be decrypted by anyone with the source")
	}

	svc := auth.NewService(creds, sessions, codec,
		auth.WithLogger(logger),
		auth.WithSessionLifetime(cfg.SessionLifetime),
		auth.WithIdleTimeout(cfg.SessionIdleTimeout),
	)
	apiOpts := []api.Option{
		api.WithLogger(logger),
		api.WithAlertFunc(func(e api.AlertEvent) {
			logger.Warn("security alert",
				"type", e.Type, "count", e.Count, "threshold", e.Threshold, "message", e.Message)
		}),
	}
	if cfg.AuditWebhookURL != "" {
		apiOpts = append(apiOpts, api.WithAuditWebhook(cfg.AuditWebhookURL, cfg.AuditWebhookHeader))
		logger.Info("forwarding audit events", "url", cfg.AuditWebhookURL)
	}
	a := api.New(svc, apiOpts...)
	defer a.Close()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Mount("/", a.Router())

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if cfg.TLSEnabled() {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	printBanner(os.Stdout)
	logger.Info("starting server",
		"addr", cfg.ListenAddr, "storage", cfg.Backend, "tls", cfg.TLSEnabled(), "version", Version)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if server.TLSConfig != nil {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return svc.RunSessionSweeper(gctx, cfg.SweepInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}
