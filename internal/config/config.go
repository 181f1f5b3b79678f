// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ffutop/scanintake/transport"
)

// Config defines the global configuration structure
type Config struct {
	Log        LogConfig     `mapstructure:"log"`
	Mode       string        `mapstructure:"mode"`        // "keyboard" or "serial"
	AutoSubmit bool          `mapstructure:"auto_submit"` // Submit as soon as a scan parses
	Serial     SerialConfig  `mapstructure:"serial"`
	Intake     IntakeConfig  `mapstructure:"intake"`
	Journal    JournalConfig `mapstructure:"journal"`
	Diag       DiagConfig    `mapstructure:"diag"`
	HTTP       HTTPConfig    `mapstructure:"http"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// SerialConfig defines the serial scanner link
type SerialConfig struct {
	Driver       string        `mapstructure:"driver"`     // "gridx" or "bugst"
	Device       string        `mapstructure:"device"`     // Preselected port, skips the chooser
	BaudRates    []int         `mapstructure:"baud_rates"` // Tried in order
	VendorIDs    []string      `mapstructure:"vendor_ids"` // Hex USB vendor IDs offered first
	Encoding     string        `mapstructure:"encoding"`   // WHATWG label, e.g. "utf-8"
	PollInterval time.Duration `mapstructure:"poll_interval"`
	LockDir      string        `mapstructure:"lock_dir"`
	Hotplug      bool          `mapstructure:"hotplug"` // Stop the link when the device is removed
}

// IntakeConfig defines the warehouse backend
type IntakeConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// JournalConfig defines the local intake journal
type JournalConfig struct {
	Path string `mapstructure:"path"` // sqlite file, empty disables
}

// DiagConfig defines the diagnostic log ring
type DiagConfig struct {
	Capacity    int               `mapstructure:"capacity"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
}

// PersistenceConfig defines data storage settings
type PersistenceConfig struct {
	Type string `mapstructure:"type"` // "memory", "file", "mmap"
	Path string `mapstructure:"path"` // File path for "file/mmap" type
}

// HTTPConfig defines the operator HTTP surface
type HTTPConfig struct {
	Address string `mapstructure:"address"` // e.g. "127.0.0.1:8081", empty disables
}

// New returns a viper instance with the search paths, environment binding
// and defaults applied.
func New(configFile string) *viper.Viper {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/scanintake/")
		v.AddConfigPath("$HOME/.scanintake")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("SCANINTAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("mode", string(transport.ModeKeyboard))
	v.SetDefault("auto_submit", true)
	v.SetDefault("serial.driver", "gridx")
	v.SetDefault("serial.baud_rates", []int{9600, 115200, 38400, 19200, 57600})
	v.SetDefault("serial.vendor_ids", []string{"0403", "067b", "10c4", "1a86", "2341", "0c2e", "05e0", "1eab", "0483"})
	v.SetDefault("serial.encoding", "utf-8")
	v.SetDefault("serial.poll_interval", 200*time.Millisecond)
	v.SetDefault("serial.hotplug", true)
	v.SetDefault("intake.base_url", "http://localhost:8000")
	v.SetDefault("intake.timeout", 10*time.Second)
	v.SetDefault("diag.capacity", 50)
	v.SetDefault("diag.persistence.type", "memory")

	return v
}

// LoadConfig loads configuration from file. A missing file is not an
// error when no explicit file was given.
func LoadConfig(configFile string) (*Config, error) {
	return Load(New(configFile), configFile != "")
}

// Load reads and validates the configuration held by v.
func Load(v *viper.Viper, requireFile bool) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if requireFile || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	fixup(&config)
	if err := validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func fixup(c *Config) {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	c.Serial.Driver = strings.ToLower(strings.TrimSpace(c.Serial.Driver))
	c.Serial.Encoding = strings.ToLower(strings.TrimSpace(c.Serial.Encoding))
	c.Diag.Persistence.Type = strings.ToLower(strings.TrimSpace(c.Diag.Persistence.Type))
	if c.Serial.PollInterval <= 0 {
		c.Serial.PollInterval = 200 * time.Millisecond
	}
	if c.Intake.Timeout <= 0 {
		c.Intake.Timeout = 10 * time.Second
	}
	if c.Diag.Capacity <= 0 {
		c.Diag.Capacity = 50
	}
}

func validate(c *Config) error {
	if _, ok := transport.ParseMode(c.Mode); !ok {
		return fmt.Errorf("invalid mode %q: want keyboard or serial", c.Mode)
	}
	switch c.Serial.Driver {
	case "gridx", "bugst":
	default:
		return fmt.Errorf("invalid serial.driver %q: want gridx or bugst", c.Serial.Driver)
	}
	for _, b := range c.Serial.BaudRates {
		if b <= 0 {
			return fmt.Errorf("invalid serial.baud_rates entry %d", b)
		}
	}
	return nil
}
