package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/toolbridge/toolbridge/internal/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Get()
			fmt.Printf("toolbridge %s (%s, %s)\n", info.Version, info.GoVersion, info.Platform)
		},
	}
}
