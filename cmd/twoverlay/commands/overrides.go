package commands

import (
	"github.com/filbertlab/twoverlay/internal/config"
	"github.com/spf13/viper"
)

// flagOverrides collects the command-line values bound into viper.
func flagOverrides() config.Overrides {
	return config.Overrides{
		ServerPort:    viper.GetInt("server_port"),
		LogLevel:      viper.GetString("log_level"),
		TitleFragment: viper.GetString("target.title_fragment"),
		ProcessName:   viper.GetString("target.process_name"),
	}
}

// loadConfig opens the config file and applies command-line overrides.
func loadConfig() (*config.Manager, config.Overrides, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, config.Overrides{}, err
	}
	o := flagOverrides()
	configMgr.ApplyOverrides(o)
	return configMgr, o, nil
}
