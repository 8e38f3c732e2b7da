package config

import (
	"errors"
	"io/fs"
	"log/slog"

	"github.com/spf13/viper"
)

func LoadConfig(configFilePath string) error {
	viper.SetDefault("loglevel", "info")
	viper.SetDefault("logfile", "")
	viper.SetDefault("localaddress", ":8000")

	viper.SetConfigFile(configFilePath)
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			slog.Info("no config file found", "configFilePath", configFilePath)
		} else {
			return err
		}
	}
	return nil
}
