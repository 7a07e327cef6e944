package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/toolbridge/toolbridge/internal/storage/postgres"
)

func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := LoadConfig()
			if err != nil {
				return err
			}

			ctx := context.Background()

			store, err := postgres.New(ctx, config.DatabaseURL)
			if err != nil {
				return err
			}
			defer store.Close()

			return store.Migrate(ctx)
		},
	}
}
