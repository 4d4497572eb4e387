package config

import (
	"fmt"
	"strings"
)

var (
	backends = map[string]bool{"memory": true, "leveldb": true, "bolt": true, "pebble": true}
	drivers  = map[string]bool{"none": true, "sqlite": true, "postgres": true}
)

// Validate checks the configuration after defaults were applied.
func (c *Config) Validate() error {
	if _, err := c.Params(); err != nil {
		return err
	}
	if _, err := c.TokenHandles(); err != nil {
		return err
	}
	ex := c.Exchange
	if ex.DefaultFeeRedistributionPercent < 0 || ex.DefaultFeeRedistributionPercent > 100 {
		return fmt.Errorf("Exchange.DefaultFeeRedistributionPercent: %d outside 0..100", ex.DefaultFeeRedistributionPercent)
	}
	if ex.MaxAttributes <= 0 || ex.MaxReferences <= 0 {
		return fmt.Errorf("Exchange: MaxAttributes and MaxReferences must be positive")
	}
	if ex.MaxWithdrawFee < 0 {
		return fmt.Errorf("Exchange.MaxWithdrawFee: negative")
	}
	if !backends[c.Storage.Backend] {
		return fmt.Errorf("Storage.Backend: unknown backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend != "memory" && strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("Storage.Path: required for %s", c.Storage.Backend)
	}
	if !drivers[c.Journal.Driver] {
		return fmt.Errorf("Journal.Driver: unknown driver %q", c.Journal.Driver)
	}
	if c.Journal.Driver != "none" && strings.TrimSpace(c.Journal.DSN) == "" {
		return fmt.Errorf("Journal.DSN: required for %s", c.Journal.Driver)
	}
	return nil
}

func trimHex(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}
