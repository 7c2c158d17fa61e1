package pg

import (
	"fmt"

	"github.com/dbtuneai/powa-agent/pkg/internal/utils"
	"github.com/spf13/viper"
)

const (
	DEFAULT_CONFIG_KEY = "postgresql"
)

type Config struct {
	// ConnectionURL points at the server; its database part is replaced by
	// whichever database a session targets.
	ConnectionURL string `mapstructure:"connection_url" validate:"required"`
	// MaxConnsPerDatabase bounds the pools used to read statistics.
	MaxConnsPerDatabase int32 `mapstructure:"max_conns_per_database" validate:"min=1"`
}

func ConfigFromViper(key *string) (Config, error) {
	var keyValue string
	if key == nil {
		keyValue = DEFAULT_CONFIG_KEY
	} else {
		keyValue = *key
	}

	pgConfig := viper.Sub(keyValue)
	if pgConfig == nil {
		pgConfig = viper.New()
	}

	pgConfig.SetDefault("max_conns_per_database", 2)
	pgConfig.BindEnv("connection_url", "DBT_POSTGRESQL_CONNECTION_URL")
	pgConfig.BindEnv("max_conns_per_database", "DBT_POSTGRESQL_MAX_CONNS_PER_DATABASE")

	var cfg Config
	err := pgConfig.Unmarshal(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("unable to decode into struct, %v", err)
	}

	err = utils.ValidateStruct(&cfg)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}
