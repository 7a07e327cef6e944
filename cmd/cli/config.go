package cli

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/toolbridge/toolbridge/internal/managers"
)

// Config holds all hub configuration
type Config struct {
	HTTPAddress string
	DatabaseURL string

	// EncryptionKey is the key material tokens at rest are encrypted under
	EncryptionKey string

	// APIKeyHash is the SHA-256 digest of the inbound API key; empty disables auth
	APIKeyHash string

	// Environment-level OAuth app credentials per provider
	GoogleClientID     string
	GoogleClientSecret string
	GithubClientID     string
	GithubClientSecret string
	SlackClientID      string
	SlackClientSecret  string

	// Email notifications (optional)
	ResendAPIKey    string
	NotifyFromEmail string
	NotifyToEmail   string

	// RefreshSweepSpec is the cron spec for the token refresh sweep
	RefreshSweepSpec string
}

// LoadConfig loads configuration from files and environment variables
func LoadConfig() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Configure environment variables - do this BEFORE reading config
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	envMappings := map[string]string{
		"HTTPAddress":        "HTTP_ADDRESS",
		"DatabaseURL":        "DATABASE_URL",
		"EncryptionKey":      "TOKEN_ENCRYPTION_KEY",
		"APIKeyHash":         "API_KEY_HASH",
		"GoogleClientID":     "GOOGLE_CLIENT_ID",
		"GoogleClientSecret": "GOOGLE_CLIENT_SECRET",
		"GithubClientID":     "GITHUB_CLIENT_ID",
		"GithubClientSecret": "GITHUB_CLIENT_SECRET",
		"SlackClientID":      "SLACK_CLIENT_ID",
		"SlackClientSecret":  "SLACK_CLIENT_SECRET",
		"ResendAPIKey":       "RESEND_API_KEY",
		"NotifyFromEmail":    "NOTIFY_FROM_EMAIL",
		"NotifyToEmail":      "NOTIFY_TO_EMAIL",
		"RefreshSweepSpec":   "REFRESH_SWEEP_SPEC",
	}

	for configKey, envVar := range envMappings {
		if err := v.BindEnv(configKey, envVar); err != nil {
			log.Warn().Err(err).Msgf("Failed to bind environment variable %s for %s", envVar, configKey)
		}
	}

	v.SetConfigName("toolbridge")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("$HOME/.toolbridge")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug().Msg("Config file not found, using environment variables and defaults")
	} else {
		log.Info().Msgf("Using config file: %s", v.ConfigFileUsed())
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTPAddress", ":8080")
	v.SetDefault("RefreshSweepSpec", "@every 1m")
}

func validateConfig(config *Config) error {
	var missingVars []string

	if config.DatabaseURL == "" {
		missingVars = append(missingVars, "DATABASE_URL")
	}

	if config.EncryptionKey == "" {
		missingVars = append(missingVars, "TOKEN_ENCRYPTION_KEY")
	}

	if len(missingVars) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missingVars, ", "))
	}

	return nil
}

// ProviderCredentials assembles the per-provider OAuth app credentials.
func (c *Config) ProviderCredentials() managers.ProviderCredentials {
	return managers.ProviderCredentials{
		"google": {ClientID: c.GoogleClientID, ClientSecret: c.GoogleClientSecret},
		"github": {ClientID: c.GithubClientID, ClientSecret: c.GithubClientSecret},
		"slack":  {ClientID: c.SlackClientID, ClientSecret: c.SlackClientSecret},
	}
}
