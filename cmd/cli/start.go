package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/toolbridge/toolbridge/internal/controllers"
	"github.com/toolbridge/toolbridge/internal/crypto"
	"github.com/toolbridge/toolbridge/internal/domain"
	"github.com/toolbridge/toolbridge/internal/managers"
	"github.com/toolbridge/toolbridge/internal/server"
	"github.com/toolbridge/toolbridge/internal/storage/postgres"
	"github.com/toolbridge/toolbridge/internal/version"
)

func NewStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the connector hub",
		Long:  `Start the HTTP API and the background token refresh sweep.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHub()
		},
	}
}

func runHub() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	config, err := LoadConfig()
	if err != nil {
		return err
	}

	log.Info().Str("version", version.GetVersion()).Msg("Starting toolbridge")

	store, err := postgres.New(ctx, config.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}

	cipher, err := crypto.NewTokenCipher(config.EncryptionKey)
	if err != nil {
		return err
	}

	var notifier domain.Notifier = managers.NoopNotifier{}
	if config.ResendAPIKey != "" {
		notifier = managers.NewEmailNotifier(managers.EmailNotifierDependencies{
			APIKey:    config.ResendAPIKey,
			FromEmail: config.NotifyFromEmail,
			ToEmail:   config.NotifyToEmail,
		})
	}

	credentials := config.ProviderCredentials()

	oauthService := managers.NewOAuthManager(managers.OAuthManagerDependencies{
		ConnectorStore:   store,
		ConnectionStore:  store,
		TransactionStore: store,
		Cipher:           cipher,
		Credentials:      credentials,
	})

	refreshService := managers.NewTokenRefreshManager(managers.TokenRefreshManagerDependencies{
		ConnectorStore:  store,
		ConnectionStore: store,
		Cipher:          cipher,
		Credentials:     credentials,
		Notifier:        notifier,
	})

	toolService := managers.NewToolExecutionManager(managers.ToolExecutionManagerDependencies{
		ConnectorStore: store,
		ToolStore:      store,
		JobStore:       store,
		EventStore:     store,
		ActionLogStore: store,
		Notifier:       notifier,
	})

	deliveryService := managers.NewWebhookDeliveryManager(managers.WebhookDeliveryManagerDependencies{
		WebhookStore:  store,
		DeliveryStore: store,
	})

	hubController := controllers.NewHubController(controllers.HubControllerDependencies{
		OAuthService:           oauthService,
		TokenRefreshService:    refreshService,
		ToolExecutionService:   toolService,
		WebhookDeliveryService: deliveryService,
		ConnectorStore:         store,
	})

	scheduler := cron.New()
	_, err = scheduler.AddFunc(config.RefreshSweepSpec, func() {
		results, err := refreshService.RefreshTokens(context.Background(), domain.RefreshTokensParams{})
		if err != nil {
			log.Error().Err(err).Msg("Token refresh sweep failed")
			return
		}
		if len(results) > 0 {
			log.Info().Int("connections", len(results)).Msg("Token refresh sweep completed")
		}
	})
	if err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	app := server.NewHTTPServer(server.HTTPServerDependencies{
		HubController: hubController,
		APIKeyHash:    config.APIKeyHash,
	})

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		if err := app.Shutdown(); err != nil {
			log.Error().Err(err).Msg("Failed to shut down HTTP server")
		}
	}()

	log.Info().Str("address", config.HTTPAddress).Msg("HTTP server listening")

	return app.Listen(config.HTTPAddress)
}
