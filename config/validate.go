package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/holiman/uint256"

	"counterchain/core/types"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("config: invalid")

// Validate rejects configurations the daemon cannot start with.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if _, err := types.ParseAccountID(cfg.Counter.Account); err != nil {
		return fmt.Errorf("%w: counter.Account: %v", ErrInvalidConfig, err)
	}
	if _, err := ParseAmount(cfg.Counter.EntryFee); err != nil {
		return fmt.Errorf("%w: counter.EntryFee: %v", ErrInvalidConfig, err)
	}
	if strings.TrimSpace(cfg.Counter.InitialValue) != "" {
		if _, err := ParseAmount(cfg.Counter.InitialValue); err != nil {
			return fmt.Errorf("%w: counter.InitialValue: %v", ErrInvalidConfig, err)
		}
	}
	if cfg.Counter.Settlement {
		if _, err := types.ParseAccountID(cfg.Token.Account); err != nil {
			return fmt.Errorf("%w: token.Account: %v", ErrInvalidConfig, err)
		}
		if cfg.Token.Account == cfg.Counter.Account {
			return fmt.Errorf("%w: token and counter share account %s", ErrInvalidConfig, cfg.Token.Account)
		}
		// on_storage_deposit attaches CallGas twice and burns a little itself.
		if cfg.Counter.CallbackGasTGas <= 2*cfg.Counter.CallGasTGas {
			return fmt.Errorf("%w: counter.CallbackGasTGas must exceed twice CallGasTGas", ErrInvalidConfig)
		}
	}
	if cfg.Counter.CallGasTGas == 0 {
		return fmt.Errorf("%w: counter.CallGasTGas must be positive", ErrInvalidConfig)
	}
	for name, raw := range map[string]string{
		"token.MaxSupply":   cfg.Token.MaxSupply,
		"token.MintAmount":  cfg.Token.MintAmount,
		"token.StorageCost": cfg.Token.StorageCost,
	} {
		if _, err := ParseAmount(raw); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, name, err)
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Backend)) {
	case "leveldb", "memory":
	default:
		return fmt.Errorf("%w: storage.Backend %q", ErrInvalidConfig, cfg.Storage.Backend)
	}
	if cfg.Indexer.Enabled {
		switch strings.ToLower(strings.TrimSpace(cfg.Indexer.Driver)) {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("%w: indexer.Driver %q", ErrInvalidConfig, cfg.Indexer.Driver)
		}
		if strings.TrimSpace(cfg.Indexer.DSN) == "" {
			return fmt.Errorf("%w: indexer.DSN required", ErrInvalidConfig)
		}
	}
	if cfg.RPC.RateLimitPerSecond < 0 || cfg.RPC.RateLimitBurst < 0 {
		return fmt.Errorf("%w: rpc rate limit must not be negative", ErrInvalidConfig)
	}
	for _, proxy := range cfg.RPC.TrustedProxies {
		proxy = strings.TrimSpace(proxy)
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("%w: rpc.TrustedProxies %q", ErrInvalidConfig, proxy)
			}
			continue
		}
		if net.ParseIP(proxy) == nil {
			return fmt.Errorf("%w: rpc.TrustedProxies %q", ErrInvalidConfig, proxy)
		}
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("%w: telemetry.SampleRatio outside [0,1]", ErrInvalidConfig)
	}
	return nil
}

// ParseAmount parses a decimal amount from the config file.
func ParseAmount(raw string) (*uint256.Int, error) {
	amount, err := types.ParseAmount(raw)
	if err != nil {
		return nil, err
	}
	return amount.Int(), nil
}
