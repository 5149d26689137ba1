package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "twoverlay",
		Short: "twoverlay - keep overlay windows locked to a game window",
		Long: `twoverlay tracks a single target application window and keeps a set of
overlay windows pinned to it: same position, correct stacking order, hidden
while the target is minimized or gone.

Features:
  • Locate the target by window title and process image
  • React to OS move/focus notifications with adaptive polling fallback
  • Stack overlays directly above the target, below other applications
  • Per-window offsets remembered across drags and restarts
  • REST + WebSocket API for the overlay shell`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/twoverlay/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "API server port (default is 8765)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("title", "", "target window title fragment")
	rootCmd.PersistentFlags().String("process", "", "target process image name fragment")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("target.title_fragment", rootCmd.PersistentFlags().Lookup("title"))
	viper.BindPFlag("target.process_name", rootCmd.PersistentFlags().Lookup("process"))

	viper.SetEnvPrefix("TWOVERLAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}
