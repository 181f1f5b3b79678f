// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
log:
  level: DEBUG
mode: Serial
auto_submit: false
serial:
  driver: bugst
  device: /dev/ttyUSB3
  baud_rates: [115200, 9600]
  vendor_ids: ["0x0403"]
  encoding: ISO-8859-1
  poll_interval: 50ms
intake:
  base_url: http://stock.local:9000
diag:
  capacity: 10
  persistence:
    type: MMAP
    path: /tmp/diag.bin
http:
  address: 127.0.0.1:8081
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "serial", cfg.Mode)
	assert.False(t, cfg.AutoSubmit)
	assert.Equal(t, "bugst", cfg.Serial.Driver)
	assert.Equal(t, "/dev/ttyUSB3", cfg.Serial.Device)
	assert.Equal(t, []int{115200, 9600}, cfg.Serial.BaudRates)
	assert.Equal(t, []string{"0x0403"}, cfg.Serial.VendorIDs)
	assert.Equal(t, "iso-8859-1", cfg.Serial.Encoding)
	assert.Equal(t, 50*time.Millisecond, cfg.Serial.PollInterval)
	assert.Equal(t, "http://stock.local:9000", cfg.Intake.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Intake.Timeout)
	assert.Equal(t, 10, cfg.Diag.Capacity)
	assert.Equal(t, "mmap", cfg.Diag.Persistence.Type)
	assert.Equal(t, "127.0.0.1:8081", cfg.HTTP.Address)
}

func TestLoad_Defaults(t *testing.T) {
	v := New("")
	v.AddConfigPath(t.TempDir())
	v.SetConfigName("absent-config")

	cfg, err := Load(v, false)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "keyboard", cfg.Mode)
	assert.True(t, cfg.AutoSubmit)
	assert.Equal(t, "gridx", cfg.Serial.Driver)
	assert.Equal(t, []int{9600, 115200, 38400, 19200, 57600}, cfg.Serial.BaudRates)
	assert.Len(t, cfg.Serial.VendorIDs, 9)
	assert.Equal(t, "utf-8", cfg.Serial.Encoding)
	assert.Equal(t, 200*time.Millisecond, cfg.Serial.PollInterval)
	assert.True(t, cfg.Serial.Hotplug)
	assert.Equal(t, "http://localhost:8000", cfg.Intake.BaseURL)
	assert.Equal(t, 50, cfg.Diag.Capacity)
	assert.Equal(t, "memory", cfg.Diag.Persistence.Type)
	assert.Empty(t, cfg.Journal.Path)
	assert.Empty(t, cfg.HTTP.Address)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("SCANINTAKE_MODE", "serial")
	t.Setenv("SCANINTAKE_INTAKE_BASE_URL", "http://env:1")

	v := New("")
	v.AddConfigPath(t.TempDir())
	v.SetConfigName("absent-config")
	cfg, err := Load(v, false)
	require.NoError(t, err)
	assert.Equal(t, "serial", cfg.Mode)
	assert.Equal(t, "http://env:1", cfg.Intake.BaseURL)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"Mode", "mode: bluetooth\n"},
		{"Driver", "serial:\n  driver: tty\n"},
		{"Baud", "serial:\n  baud_rates: [9600, -1]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
