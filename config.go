/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package tocket

import (
	"fmt"

	"github.com/acronis/go-appkit/config"
)

const (
	cfgKeyRateLimitRPS = "rateLimiter.rps"
)

// DefaultRateLimitRPS is the default requests-per-second limit.
const DefaultRateLimitRPS = 100

// Config represents a set of configuration parameters for the token bucket rate limiter.
// Configuration can be loaded in different formats (YAML, JSON) using config.Loader.
type Config struct {
	// RPS is the requests-per-second limit, in [1, 1e9]
	// (the refill tick cannot be shorter than one nanosecond).
	// It defines both the bucket capacity and the refill rate.
	RPS int

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// NewConfig creates a new instance of the Config.
func NewConfig() *Config {
	return NewConfigWithKeyPrefix("")
}

// NewConfigWithKeyPrefix creates a new instance of the Config.
// Allows specifying key prefix which will be used for parsing configuration parameters.
func NewConfigWithKeyPrefix(keyPrefix string) *Config {
	return &Config{keyPrefix: keyPrefix}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *Config) KeyPrefix() string {
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for the rate limiter in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyRateLimitRPS, DefaultRateLimitRPS)
}

// Set sets rate limiter configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error
	if c.RPS, err = dp.GetInt(cfgKeyRateLimitRPS); err != nil {
		return err
	}
	if c.RPS < 1 {
		return dp.WrapKeyErr(cfgKeyRateLimitRPS, fmt.Errorf("must be >= 1, got %d", c.RPS))
	}
	if c.RPS > int(maxRPSLimit) {
		return dp.WrapKeyErr(cfgKeyRateLimitRPS, fmt.Errorf("must be <= %d, got %d", maxRPSLimit, c.RPS))
	}
	return nil
}
