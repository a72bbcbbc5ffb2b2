/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package distributed

import (
	"fmt"

	"github.com/acronis/go-appkit/config"
)

const (
	cfgKeyListenAddress = "rateLimiter.distributed.listenAddress"
	cfgKeyPeers         = "rateLimiter.distributed.peers"
)

// DefaultListenAddress is the default address for the UDP socket.
// Port 0 makes the OS pick an ephemeral one, see DistributedStorage.LocalAddr.
const DefaultListenAddress = "0.0.0.0:0"

// Config represents a set of configuration parameters for the distributed storage.
// Configuration can be loaded in different formats (YAML, JSON) using config.Loader.
type Config struct {
	// ListenAddress is the local address the UDP socket binds to.
	ListenAddress string

	// Peers is the list of peer addresses (host:port) trusted by the
	// whitelist strategy. Resolved once, at strategy construction.
	Peers []string

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

// SetProviderDefaults sets default configuration values for the distributed storage in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyListenAddress, DefaultListenAddress)
}

// Set sets distributed storage configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error
	if c.ListenAddress, err = dp.GetString(cfgKeyListenAddress); err != nil {
		return err
	}
	if c.ListenAddress == "" {
		return dp.WrapKeyErr(cfgKeyListenAddress, fmt.Errorf("cannot be empty"))
	}
	if c.Peers, err = dp.GetStringSlice(cfgKeyPeers); err != nil {
		return err
	}
	return nil
}
