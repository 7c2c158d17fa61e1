package sink

import (
	"fmt"

	"github.com/dbtuneai/powa-agent/pkg/internal/utils"
	"github.com/dbtuneai/powa-agent/pkg/logging"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	DEFAULT_CONFIG_KEY = "sink"

	// HTTPRetryMax bounds the retries of a single delivery.
	HTTPRetryMax = 5
)

type Config struct {
	// FilePath enables the JSONL file sink when set.
	FilePath string `mapstructure:"file_path"`
	// HTTPURL enables the HTTP sink when set.
	HTTPURL string `mapstructure:"http_url" validate:"omitempty,url"`
}

func ConfigFromViper(key *string) (Config, error) {
	var keyValue string
	if key == nil {
		keyValue = DEFAULT_CONFIG_KEY
	} else {
		keyValue = *key
	}

	sinkConfig := viper.Sub(keyValue)
	if sinkConfig == nil {
		sinkConfig = viper.New()
	}

	sinkConfig.BindEnv("file_path", "DBT_SINK_FILE_PATH")
	sinkConfig.BindEnv("http_url", "DBT_SINK_HTTP_URL")

	var cfg Config
	if err := sinkConfig.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode into struct, %v", err)
	}

	if err := utils.ValidateStruct(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromConfig builds the sinks enabled in cfg.
func FromConfig(cfg Config, logger *log.Logger) ([]Sink, error) {
	var sinks []Sink

	if cfg.FilePath != "" {
		fileSink, err := NewFileSink(cfg.FilePath, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, fileSink)
	}

	if cfg.HTTPURL != "" {
		client := logging.NewHTTPClient(logger, HTTPRetryMax)
		sinks = append(sinks, NewHTTPSink(client, cfg.HTTPURL, logger))
	}

	return sinks, nil
}
