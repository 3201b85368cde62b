// Package config loads the node configuration from SPRINKLER_* environment
// variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const Prefix = "sprinkler"

type Config struct {
	BrokerHost     string        `split_words:"true" default:"localhost"`
	BrokerPort     int           `split_words:"true" default:"1883"`
	BrokerUser     string        `split_words:"true"`
	BrokerPassword string        `split_words:"true"`
	KeepAlive      time.Duration `split_words:"true" default:"15s"`

	DeviceID string `envconfig:"DEVICE_ID"`
	Timezone string `default:"Local"`
	LogLevel string `split_words:"true" default:"info"`

	NTPServer    string        `envconfig:"NTP_SERVER" default:"pool.ntp.org"`
	SyncInterval time.Duration `split_words:"true" default:"1h"`
	SyncRetry    time.Duration `split_words:"true" default:"30s"`

	RetryDelay     time.Duration `split_words:"true" default:"5s"`
	AttemptTimeout time.Duration `split_words:"true" default:"15s"`
	TickInterval   time.Duration `split_words:"true" default:"200ms"`
	MaxManualRun   time.Duration `split_words:"true" default:"0"`

	SensorSchedule  string  `split_words:"true" default:"0 * * * * *"`
	SampleSchedule  string  `split_words:"true" default:"*/10 * * * * *"`
	SensorSimulated bool    `split_words:"true" default:"true"`
	HumidityDecay   float64 `split_words:"true" default:"0.05"`

	RelayGPIO      int    `envconfig:"RELAY_GPIO" default:"-1"`
	RelayActiveLow bool   `split_words:"true"`
	GPIORoot       string `envconfig:"GPIO_ROOT" default:"/sys/class/gpio"`

	SettingsPath string `split_words:"true" default:"/var/lib/sprinkler/settings.db"`

	InfluxURL    string `envconfig:"INFLUX_URL"`
	InfluxToken  string `split_words:"true"`
	InfluxOrg    string `split_words:"true"`
	InfluxBucket string `split_words:"true" default:"irrigation"`

	FirmwareURL   string `envconfig:"FIRMWARE_URL"`
	FirmwareTopic string `split_words:"true" default:"sprinkler/firmware-update"`
	FirmwarePath  string `split_words:"true" default:"/var/lib/sprinkler/firmware.bin"`

	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`
	GRPCPort int `envconfig:"GRPC_PORT" default:"50051"`
}

// Load processes the environment and checks the values that have no usable
// fallback.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.BrokerPort <= 0 || c.BrokerPort > 65535 {
		return fmt.Errorf("invalid broker port %d", c.BrokerPort)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.TickInterval <= 0 || c.TickInterval > time.Second {
		return fmt.Errorf("tick interval %s must be in (0, 1s]", c.TickInterval)
	}
	return nil
}

// Location resolves Timezone; "Local" and "" mean the host zone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// HistoryEnabled reports whether watering events go to InfluxDB.
func (c Config) HistoryEnabled() bool {
	return c.InfluxURL != "" && c.InfluxOrg != ""
}

func (c Config) UpdatesEnabled() bool { return c.FirmwareURL != "" }

func (c Config) GPIOEnabled() bool { return c.RelayGPIO >= 0 }
