// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"math/big"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/poolfi/poolfi/poolfi"
	"github.com/poolfi/poolfi/protocol"
)

// Config is the daemon's YAML configuration.
type Config struct {
	API struct {
		Addr string `yaml:"addr"`
		CORS string `yaml:"cors"`
	} `yaml:"api"`
	DataDir       string            `yaml:"dataDir"`
	Governance    string            `yaml:"governance"`
	TrustedVoters []string          `yaml:"trustedVoters"`
	Settings      map[string]string `yaml:"settings"`
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".poolfi"
	}
	return filepath.Join(home, ".poolfi")
}

func loadConfig(path string) (*Config, error) {
	var cfg Config
	if path == "" {
		return &cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithMessage(err, "read config")
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.WithMessage(err, "parse config")
	}
	return &cfg, nil
}

// protocolOptions translates the config into protocol genesis options.
func (cfg *Config) protocolOptions() (protocol.Options, error) {
	var opts protocol.Options
	if cfg.Governance != "" {
		governance, err := poolfi.ParseAddress(cfg.Governance)
		if err != nil {
			return opts, errors.WithMessage(err, "governance")
		}
		opts.Governance = *governance
	}
	for _, raw := range cfg.TrustedVoters {
		voter, err := poolfi.ParseAddress(raw)
		if err != nil {
			return opts, errors.WithMessage(err, "trusted voter")
		}
		opts.TrustedVoters = append(opts.TrustedVoters, *voter)
	}
	if len(cfg.Settings) > 0 {
		opts.SettingsOverrides = make(map[string]*big.Int, len(cfg.Settings))
		for key, raw := range cfg.Settings {
			value, ok := new(big.Int).SetString(raw, 10)
			if !ok {
				return opts, errors.Errorf("setting %q: invalid integer %q", key, raw)
			}
			opts.SettingsOverrides[key] = value
		}
	}
	return opts, nil
}
