package config

// Counter configures the counter program.
type Counter struct {
	Account string `toml:"Account"`
	// EntryFee is a decimal yocto amount.
	EntryFee        string `toml:"EntryFee"`
	Settlement      bool   `toml:"Settlement"`
	CallGasTGas     uint64 `toml:"CallGasTGas"`
	CallbackGasTGas uint64 `toml:"CallbackGasTGas"`
	// InitialValue seeds the counter on a fresh data directory.
	InitialValue string `toml:"InitialValue,omitempty"`
}

// Token configures the issuer program that rewards counter actions.
type Token struct {
	Account     string `toml:"Account"`
	Name        string `toml:"Name"`
	Symbol      string `toml:"Symbol"`
	Decimals    uint8  `toml:"Decimals"`
	MaxSupply   string `toml:"MaxSupply"`
	MintAmount  string `toml:"MintAmount"`
	StorageCost string `toml:"StorageCost"`
}

// Storage selects and tunes the state database.
type Storage struct {
	// Backend is "leveldb" or "memory".
	Backend  string `toml:"Backend"`
	CacheMiB int    `toml:"CacheMiB"`
	Handles  int    `toml:"Handles"`
}

// RPC configures the JSON-RPC listener.
type RPC struct {
	ListenAddress       string  `toml:"ListenAddress"`
	ReadTimeoutSeconds  int     `toml:"ReadTimeoutSeconds"`
	WriteTimeoutSeconds int     `toml:"WriteTimeoutSeconds"`
	RateLimitPerSecond  float64 `toml:"RateLimitPerSecond"`
	RateLimitBurst      int     `toml:"RateLimitBurst"`
	TxGasTGas           uint64  `toml:"TxGasTGas"`
	ViewGasTGas         uint64  `toml:"ViewGasTGas"`
	// TrustedProxies lists peers (addresses or CIDR ranges) whose
	// X-Forwarded-For header names the client for rate limiting.
	TrustedProxies    []string `toml:"TrustedProxies"`
	TrustProxyHeaders bool     `toml:"TrustProxyHeaders"`
}

// Indexer configures the SQL mirror of executed transactions.
type Indexer struct {
	Enabled bool `toml:"Enabled"`
	// Driver is "sqlite" or "postgres".
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

// Telemetry configures OpenTelemetry export.
type Telemetry struct {
	Enabled         bool              `toml:"Enabled"`
	Endpoint        string            `toml:"Endpoint"`
	Insecure        bool              `toml:"Insecure"`
	Headers         map[string]string `toml:"Headers"`
	Traces          bool              `toml:"Traces"`
	Metrics         bool              `toml:"Metrics"`
	SampleRatio     float64           `toml:"SampleRatio"`
	IntervalSeconds int               `toml:"IntervalSeconds"`
}

// Logging configures the structured logger.
type Logging struct {
	Level string `toml:"Level"`
	// File, when set, receives a rotated copy of the log stream.
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
}
