package server

import (
	"fmt"

	"github.com/dbtuneai/powa-agent/pkg/internal/utils"
	"github.com/spf13/viper"
)

const (
	DEFAULT_CONFIG_KEY = "server"

	DefaultListenAddress = ":8085"
)

type Config struct {
	Enabled       bool   `mapstructure:"enabled"`
	ListenAddress string `mapstructure:"listen_address" validate:"required"`
}

func ConfigFromViper(key *string) (Config, error) {
	var keyValue string
	if key == nil {
		keyValue = DEFAULT_CONFIG_KEY
	} else {
		keyValue = *key
	}

	serverConfig := viper.Sub(keyValue)
	if serverConfig == nil {
		serverConfig = viper.New()
	}

	serverConfig.SetDefault("enabled", false)
	serverConfig.SetDefault("listen_address", DefaultListenAddress)
	serverConfig.BindEnv("enabled", "DBT_SERVER_ENABLED")
	serverConfig.BindEnv("listen_address", "DBT_SERVER_LISTEN_ADDRESS")

	var cfg Config
	if err := serverConfig.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode into struct, %v", err)
	}

	if err := utils.ValidateStruct(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
