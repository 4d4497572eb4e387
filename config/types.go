package config

// Exchange holds the deployment constants of the exchange contract.
// Addresses accept the base58 NEO form or a hex script hash.
type Exchange struct {
	Contract       string   `toml:"Contract"`
	Owner          string   `toml:"Owner"`
	ReferenceAsset string   `toml:"ReferenceAsset"`
	NEOAssetID     string   `toml:"NEOAssetID"`
	GASAssetID     string   `toml:"GASAssetID"`
	Tokens         []string `toml:"Tokens"`

	DefaultFeeRedistributionPercent int64  `toml:"DefaultFeeRedistributionPercent"`
	DefaultClaimMinimumBlocks       uint64 `toml:"DefaultClaimMinimumBlocks"`
	MaxAttributes                   int    `toml:"MaxAttributes"`
	MaxReferences                   int    `toml:"MaxReferences"`
	MaxWithdrawFee                  int64  `toml:"MaxWithdrawFee"`
}

// Storage selects the key-value backend.
type Storage struct {
	Backend string `toml:"Backend"`
	Path    string `toml:"Path"`
}

// Journal selects where emitted events are archived.
type Journal struct {
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

// Logging configures the slog sink.
type Logging struct {
	Env        string `toml:"Env"`
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
}
