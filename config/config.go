package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"basilisk/crypto"

	"github.com/BurntSushi/toml"
)

// GenesisAccount seeds a balance at first boot. Address is bech32, Amount an
// integer string so allocations above 2^63 survive the TOML round trip.
type GenesisAccount struct {
	Address string `toml:"Address"`
	Token   string `toml:"Token"`
	Amount  string `toml:"Amount"`
}

type Config struct {
	RPCAddress   string           `toml:"RPCAddress"`
	DataDir      string           `toml:"DataDir"`
	NetworkName  string           `toml:"NetworkName"`
	Env          string           `toml:"Env"`
	Admin        string           `toml:"Admin"`
	Arbitrator   string           `toml:"Arbitrator"`
	GenesisAlloc []GenesisAccount `toml:"GenesisAlloc"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "basilisk-local"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./basilisk-data"
	}
	if cfg.GenesisAlloc == nil {
		cfg.GenesisAlloc = []GenesisAccount{}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	for _, field := range []struct {
		name  string
		value string
	}{
		{"Admin", c.Admin},
		{"Arbitrator", c.Arbitrator},
	} {
		if strings.TrimSpace(field.value) == "" {
			continue
		}
		if _, err := crypto.DecodeAddress(field.value); err != nil {
			return fmt.Errorf("invalid %s address %q: %w", field.name, field.value, err)
		}
	}
	for i, alloc := range c.GenesisAlloc {
		if _, err := crypto.DecodeAddress(alloc.Address); err != nil {
			return fmt.Errorf("invalid GenesisAlloc[%d] address %q: %w", i, alloc.Address, err)
		}
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:   ":8080",
		DataDir:      "./basilisk-data",
		NetworkName:  "basilisk-local",
		Env:          "local",
		GenesisAlloc: []GenesisAccount{},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
