package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	DataDir     string    `toml:"DataDir"`
	Environment string    `toml:"Environment"`
	Counter     Counter   `toml:"counter"`
	Token       Token     `toml:"token"`
	Storage     Storage   `toml:"storage"`
	RPC         RPC       `toml:"rpc"`
	Indexer     Indexer   `toml:"indexer"`
	Telemetry   Telemetry `toml:"telemetry"`
	Logging     Logging   `toml:"logging"`
}

// Load loads the configuration from the given path. A missing file is
// created with defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration written by Load when no file exists.
func Default() *Config {
	return &Config{
		DataDir:     "./counter-data",
		Environment: "local",
		Counter: Counter{
			Account:         "counter.test",
			EntryFee:        "10000000000000000000000",
			Settlement:      true,
			CallGasTGas:     10,
			CallbackGasTGas: 30,
		},
		Token: Token{
			Account:     "token.test",
			Name:        "COUNTER",
			Symbol:      "CNTR",
			Decimals:    0,
			MaxSupply:   "1000000",
			MintAmount:  "1",
			StorageCost: "1250000000000000000000",
		},
		Storage: Storage{Backend: "leveldb", CacheMiB: 16, Handles: 16},
		RPC: RPC{
			ListenAddress:       ":8080",
			ReadTimeoutSeconds:  10,
			WriteTimeoutSeconds: 10,
			RateLimitPerSecond:  20,
			RateLimitBurst:      40,
			TxGasTGas:           100,
			ViewGasTGas:         200,
		},
		Indexer: Indexer{Enabled: true, Driver: "sqlite", DSN: "counter-index.db"},
		Telemetry: Telemetry{
			Endpoint:        "localhost:4318",
			Insecure:        true,
			Traces:          true,
			Metrics:         true,
			SampleRatio:     1,
			IntervalSeconds: 15,
		},
		Logging: Logging{Level: "info", MaxSizeMB: 100, MaxBackups: 5},
	}
}

// applyDefaults fills zero values left by sparse files.
func applyDefaults(cfg *Config) {
	def := Default()
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = def.DataDir
	}
	if strings.TrimSpace(cfg.Storage.Backend) == "" {
		cfg.Storage.Backend = def.Storage.Backend
	}
	if cfg.Counter.CallGasTGas == 0 {
		cfg.Counter.CallGasTGas = def.Counter.CallGasTGas
	}
	if cfg.Counter.CallbackGasTGas == 0 {
		cfg.Counter.CallbackGasTGas = def.Counter.CallbackGasTGas
	}
	if cfg.RPC.TxGasTGas == 0 {
		cfg.RPC.TxGasTGas = def.RPC.TxGasTGas
	}
	if cfg.RPC.ViewGasTGas == 0 {
		cfg.RPC.ViewGasTGas = def.RPC.ViewGasTGas
	}
	if cfg.Telemetry.Headers == nil {
		cfg.Telemetry.Headers = map[string]string{}
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	applyDefaults(cfg)
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
