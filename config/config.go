package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"aphdex/core/types"
	"aphdex/native/exchange"
)

// Default values written by createDefault and applied to zero fields.
const (
	DefaultReferenceAsset = "4a9091137e2026ef04feeeed81899a37cded1e59"
	DefaultNEOAssetID     = "9b7cffdaa674beae0f930ebe6085af9093e5fe56b34a5c220ccdcf6efc336fc5"
	DefaultGASAssetID     = "e72d286979ee6cb1b7e65dfddfb2e384100b8d148e7758de42e4168b71792c60"
	DefaultBackend        = "leveldb"
	DefaultDataDir        = "./aphdex-data"
	DefaultJournalDriver  = "sqlite"
)

type Config struct {
	Exchange  Exchange  `toml:"Exchange"`
	Storage   Storage   `toml:"Storage"`
	Journal   Journal   `toml:"Journal"`
	Logging   Logging   `toml:"Logging"`
	Telemetry Telemetry `toml:"Telemetry"`
}

// Load reads the configuration at path, creating a default one when the file
// does not exist. The result is validated.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: %s: unknown key %s", path, undecoded[0])
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	ex := &c.Exchange
	if ex.ReferenceAsset == "" {
		ex.ReferenceAsset = DefaultReferenceAsset
	}
	if ex.NEOAssetID == "" {
		ex.NEOAssetID = DefaultNEOAssetID
	}
	if ex.GASAssetID == "" {
		ex.GASAssetID = DefaultGASAssetID
	}
	if ex.DefaultFeeRedistributionPercent == 0 {
		ex.DefaultFeeRedistributionPercent = exchange.DefaultFeeRedistributionPercent
	}
	if ex.DefaultClaimMinimumBlocks == 0 {
		ex.DefaultClaimMinimumBlocks = exchange.DefaultClaimMinimumBlocks
	}
	if ex.MaxAttributes == 0 {
		ex.MaxAttributes = exchange.DefaultMaxAttributes
	}
	if ex.MaxReferences == 0 {
		ex.MaxReferences = exchange.DefaultMaxReferences
	}
	if ex.MaxWithdrawFee == 0 {
		ex.MaxWithdrawFee = exchange.DefaultMaxWithdrawFee.Int64()
	}
	if ex.Tokens == nil {
		ex.Tokens = []string{}
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = DefaultBackend
	}
	if c.Storage.Path == "" && c.Storage.Backend != "memory" {
		c.Storage.Path = filepath.Join(DefaultDataDir, "state")
	}
	if c.Journal.Driver == "" {
		c.Journal.Driver = "none"
	}
}

// createDefault writes a local configuration with fresh contract and owner
// script hashes.
func createDefault(path string) (*Config, error) {
	contract, err := randomScriptHash()
	if err != nil {
		return nil, err
	}
	owner, err := randomScriptHash()
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		Exchange: Exchange{Contract: contract.String(), Owner: owner.String()},
		Storage:  Storage{Backend: DefaultBackend, Path: filepath.Join(DefaultDataDir, "state")},
		Journal:  Journal{Driver: DefaultJournalDriver, DSN: filepath.Join(DefaultDataDir, "journal.db")},
		Logging:  Logging{Env: "local", Level: "info"},
	}
	cfg.applyDefaults()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func randomScriptHash() (types.Address, error) {
	var addr types.Address
	if _, err := rand.Read(addr[:]); err != nil {
		return addr, fmt.Errorf("config: generate script hash: %w", err)
	}
	return addr, nil
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

// Params converts the exchange section into engine parameters.
func (c *Config) Params() (exchange.Params, error) {
	ex := c.Exchange
	p := exchange.DefaultParams()
	var err error
	if p.Contract, err = types.ParseAddress(ex.Contract); err != nil {
		return p, fmt.Errorf("Exchange.Contract: %w", err)
	}
	if p.DefaultOwner, err = types.ParseAddress(ex.Owner); err != nil {
		return p, fmt.Errorf("Exchange.Owner: %w", err)
	}
	reference, err := types.ParseAddress(ex.ReferenceAsset)
	if err != nil {
		return p, fmt.Errorf("Exchange.ReferenceAsset: %w", err)
	}
	p.ReferenceAsset = types.ExternalAsset(reference)
	if p.NEO, err = nativeAsset(ex.NEOAssetID); err != nil {
		return p, fmt.Errorf("Exchange.NEOAssetID: %w", err)
	}
	if p.GAS, err = nativeAsset(ex.GASAssetID); err != nil {
		return p, fmt.Errorf("Exchange.GASAssetID: %w", err)
	}
	p.DefaultFeeRedistributionPercent = ex.DefaultFeeRedistributionPercent
	p.DefaultClaimMinimumBlocks = ex.DefaultClaimMinimumBlocks
	p.MaxAttributes = ex.MaxAttributes
	p.MaxReferences = ex.MaxReferences
	p.MaxWithdrawFee = big.NewInt(ex.MaxWithdrawFee)
	return p, nil
}

// TokenHandles parses the script hashes of locally hosted tokens. The
// reference asset is always included.
func (c *Config) TokenHandles() ([]types.Address, error) {
	reference, err := types.ParseAddress(c.Exchange.ReferenceAsset)
	if err != nil {
		return nil, fmt.Errorf("Exchange.ReferenceAsset: %w", err)
	}
	out := []types.Address{reference}
	for i, raw := range c.Exchange.Tokens {
		handle, err := types.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("Exchange.Tokens[%d]: %w", i, err)
		}
		if handle != reference {
			out = append(out, handle)
		}
	}
	return out, nil
}

func nativeAsset(s string) (types.AssetRef, error) {
	raw, err := hex.DecodeString(trimHex(s))
	if err != nil {
		return types.AssetRef{}, err
	}
	if len(raw) != types.NativeAssetIDLength {
		return types.AssetRef{}, fmt.Errorf("want %d bytes, got %d", types.NativeAssetIDLength, len(raw))
	}
	var id [32]byte
	copy(id[:], raw)
	return types.NativeAsset(id), nil
}
