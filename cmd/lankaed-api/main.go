package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/lankaed/internal/auth"
	"github.com/MarcoPoloResearchLab/lankaed/internal/config"
	"github.com/MarcoPoloResearchLab/lankaed/internal/database"
	"github.com/MarcoPoloResearchLab/lankaed/internal/identity"
	"github.com/MarcoPoloResearchLab/lankaed/internal/identitysync"
	"github.com/MarcoPoloResearchLab/lankaed/internal/logging"
	"github.com/MarcoPoloResearchLab/lankaed/internal/metrics"
	"github.com/MarcoPoloResearchLab/lankaed/internal/onboarding"
	"github.com/MarcoPoloResearchLab/lankaed/internal/profiles"
	"github.com/MarcoPoloResearchLab/lankaed/internal/realtime"
	"github.com/MarcoPoloResearchLab/lankaed/internal/retry"
	"github.com/MarcoPoloResearchLab/lankaed/internal/server"
	"github.com/MarcoPoloResearchLab/lankaed/internal/webhook"
	"github.com/MarcoPoloResearchLab/lankaed/internal/xp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lankaed-api",
		Short: "LankaEd identity sync and XP service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Database DSN or SQLite path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("auth-mode", defaults.GetString("auth.mode"), "Caller authentication (jwks, shared_secret)")
	cmd.PersistentFlags().Int("sync-max-attempts", defaults.GetInt("sync.max_attempts"), "Store attempts per identity event")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "auth.mode", "auth-mode")
	bindFlag(cmd, "sync.max_attempts", "sync-max-attempts")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile == "" {
		return nil
	}
	viper.SetConfigFile(cfgFile)
	return viper.ReadInConfig()
}

func newSessionVerifier(appConfig config.AppConfig, logger *zap.Logger) (server.SessionVerifier, error) {
	switch appConfig.AuthMode {
	case config.AuthModeSharedSecret:
		return auth.NewSessionValidator(auth.SessionValidatorConfig{
			SigningSecret: []byte(appConfig.AuthSigningSecret),
			Issuer:        appConfig.AuthIssuer,
			CookieName:    appConfig.AuthCookieName,
		})
	case config.AuthModeJWKS:
		return auth.NewJWKSVerifier(auth.JWKSVerifierConfig{
			JWKSURL:    appConfig.AuthJWKSURL,
			Issuer:     appConfig.AuthIssuer,
			Audience:   appConfig.AuthAudience,
			CookieName: appConfig.AuthCookieName,
			Logger:     logger,
		})
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", appConfig.AuthMode)
	}
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if !appConfig.WebhookConfigured() {
		logger.Warn("webhook signing secret not set; identity webhooks will be rejected")
	}

	db, err := database.Open(database.Config{Driver: appConfig.DatabaseDriver, DSN: appConfig.DatabaseDSN}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	registry := metrics.NewRegistry()
	notifier := realtime.NewNotifier(realtime.Config{Logger: logger})

	profileStore, err := profiles.NewStore(profiles.StoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: profiles.NewUUIDProvider(),
		Publisher:  notifier,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	orchestrator, err := identitysync.NewOrchestrator(identitysync.Config{
		Store: profileStore,
		Policy: retry.Policy{
			MaxAttempts: appConfig.SyncMaxAttempts,
			BaseDelay:   appConfig.SyncBaseDelay,
			Backoff:     retry.Linear,
		},
		Metrics: registry,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	xpService, err := xp.NewService(xp.ServiceConfig{Ledger: profileStore, Metrics: registry, Logger: logger})
	if err != nil {
		return err
	}

	identityClient, err := identity.NewClient(identity.ClientConfig{
		BaseURL: appConfig.IdentityAPIURL,
		APIKey:  appConfig.IdentityAPIKey,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	onboardingService, err := onboarding.NewService(onboarding.ServiceConfig{
		Identity: identityClient,
		Profiles: profileStore,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	sessionVerifier, err := newSessionVerifier(appConfig, logger)
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionVerifier:      sessionVerifier,
		WebhookReceiver:      webhook.NewReceiver(webhook.ReceiverConfig{SigningSecret: appConfig.WebhookSigningSecret}),
		EventSyncer:          orchestrator,
		XPAwarder:            xpService,
		ProfileCompleter:     onboardingService,
		ProfileReader:        profileStore,
		Realtime:             notifier,
		Metrics:              registry,
		Logger:               logger,
		AllowedOrigins:       appConfig.AllowedOrigins,
		WebhookRatePerSecond: appConfig.WebhookRatePerSecond,
		WebhookBurst:         appConfig.WebhookBurst,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("database_driver", appConfig.DatabaseDriver),
			zap.String("auth_mode", appConfig.AuthMode))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
