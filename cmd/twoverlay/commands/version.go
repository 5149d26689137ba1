package commands

import (
	"fmt"

	"github.com/filbertlab/twoverlay/internal/api"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("twoverlay %s\n", api.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
