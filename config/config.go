// MIT License
//
// Copyright (c) 2025 DaggerTech
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package config provides configuration management for the Altair hub.
// It handles loading hub settings from a YAML file and applies sensible
// defaults for anything left unset, so an empty or absent file yields a
// working configuration.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the hub configuration settings.
type Config struct {
	Addr        string `yaml:"addr"`          // Address to bind the hub endpoint to (default: "127.0.0.1")
	Port        int    `yaml:"port"`          // Port to listen on; 0 picks an ephemeral port
	Lockfile    string `yaml:"lockfile"`      // Lockfile path; empty resolves SAMP_HUB or ~/.samp
	QueueSize   int    `yaml:"queue_size"`    // Delivery queue buffer size (default: 2000)
	WorkerCount int    `yaml:"worker_count"`  // Concurrent delivery workers (default: 20)
	MaxInFlight int    `yaml:"max_in_flight"` // Concurrent inbound dispatches (default: 32)
	CallTimeout int    `yaml:"call_timeout"`  // Outbound delivery timeout in milliseconds (default: 5000)
	MaxRetries  int    `yaml:"max_retries"`   // Delivery attempts per recipient (default: 3)
}

// Default returns a configuration with every field at its default value.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads and parses the YAML file at path into a Config struct.
// A missing file is not an error; defaults are applied to whatever
// fields the file leaves unset.
//
// Parameters:
//   - path: Location of the configuration file, may be empty
//
// Returns:
//   - *Config: A fully initialized configuration with defaults applied
//   - error: nil if successful, or an error if the file is unreadable
//     or contains invalid YAML
func Load(path string) (*Config, error) {
	config := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Fall through to defaults.
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(b, config); err != nil {
				return nil, err
			}
		}
	}
	config.applyDefaults()
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = "127.0.0.1"
	}
	if c.Port < 0 {
		c.Port = 0
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 2000
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = 20
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 32
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5000
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
}
