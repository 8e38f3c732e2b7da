package config

import (
	"errors"
	"io/fs"
	"log/slog"

	"github.com/spf13/viper"

	"github.com/Honorable-Knights-of-the-Roundtable/peersession/internal/utils"
)

// Load the client config from configFilePath on top of the defaults.
// A missing config file is not an error, but at least one ICE server must end up configured.
func LoadConfig(configFilePath string) error {
	utils.SetViperDefaults()

	viper.SetConfigFile(configFilePath)
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			slog.Info("no config file found", "configFilePath", configFilePath)
		} else {
			return err
		}
	}

	// The user *must* specify at least one ICE Server
	if !viper.IsSet("ICEServers") || len(viper.GetStringSlice("ICEServers")) == 0 {
		return utils.ErrNoICEServers
	}
	return nil
}
