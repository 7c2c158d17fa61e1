package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/dbtuneai/powa-agent/pkg/internal/utils"
	"github.com/spf13/viper"
)

const (
	DEFAULT_CONFIG_KEY = "powa"

	// MinFrequencyMillis is the smallest positive snapshot frequency accepted.
	MinFrequencyMillis = 5000

	DefaultFrequencyMillis = 300000
	DefaultCoalesce        = 100
	DefaultRetentionMin    = 24 * 60
	DefaultDatabase        = "powa"

	// RestartDelay is how long the supervisor waits before starting the worker
	// again after it exits.
	RestartDelay = 10 * time.Second
)

// ErrFrequencyTooSmall is returned when a positive frequency is below the floor.
var ErrFrequencyTooSmall = errors.New("frequency is smaller than the minimum")

// RuntimeConfig is an immutable view of the worker settings.
type RuntimeConfig struct {
	// Frequency in milliseconds between two snapshot starts. Negative disables
	// the worker, 0 runs snapshots back to back.
	Frequency int `mapstructure:"frequency" validate:"min=-1,max=2147483"`
	// Coalesce is the number of records the snapshot function groups together.
	Coalesce int `mapstructure:"coalesce" validate:"min=5"`
	// Retention in minutes after which the snapshot function purges history.
	Retention    int    `mapstructure:"retention" validate:"min=0,max=35791394"`
	Database     string `mapstructure:"database" validate:"required"`
	IgnoredUsers string `mapstructure:"ignored_users"`

	MinFrequency int `mapstructure:"-"`
}

// Interval returns the snapshot frequency as a duration.
func (c *RuntimeConfig) Interval() time.Duration {
	return time.Duration(c.Frequency) * time.Millisecond
}

// Disabled reports whether the worker has been deactivated.
func (c *RuntimeConfig) Disabled() bool {
	return c.Frequency < 0
}

// CheckFrequency enforces the frequency floor.
func (c *RuntimeConfig) CheckFrequency() error {
	if c.Frequency > 0 && c.Frequency < c.MinFrequency {
		return fmt.Errorf("%w: powa.frequency cannot be smaller than %d milliseconds (got %d)",
			ErrFrequencyTooSmall, c.MinFrequency, c.Frequency)
	}
	return nil
}

// ConfigFromViper reads the powa section of v, or of the global viper when v
// is nil.
func ConfigFromViper(v *viper.Viper) (RuntimeConfig, error) {
	if v == nil {
		v = viper.GetViper()
	}

	powaConfig := v.Sub(DEFAULT_CONFIG_KEY)
	if powaConfig == nil {
		powaConfig = viper.New()
	}

	powaConfig.SetDefault("frequency", DefaultFrequencyMillis)
	powaConfig.SetDefault("coalesce", DefaultCoalesce)
	powaConfig.SetDefault("retention", DefaultRetentionMin)
	powaConfig.SetDefault("database", DefaultDatabase)

	powaConfig.BindEnv("frequency", "DBT_POWA_FREQUENCY")
	powaConfig.BindEnv("coalesce", "DBT_POWA_COALESCE")
	powaConfig.BindEnv("retention", "DBT_POWA_RETENTION")
	powaConfig.BindEnv("database", "DBT_POWA_DATABASE")
	powaConfig.BindEnv("ignored_users", "DBT_POWA_IGNORED_USERS")

	var cfg RuntimeConfig
	if err := powaConfig.Unmarshal(&cfg); err != nil {
		return RuntimeConfig{}, fmt.Errorf("unable to decode into struct, %v", err)
	}
	cfg.MinFrequency = MinFrequencyMillis

	if err := utils.ValidateStruct(&cfg); err != nil {
		return RuntimeConfig{}, err
	}
	return cfg, nil
}
