package economy

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config holds configuration for the repository facade.
type Config struct {
	// AccountsCollection is the store collection holding account documents.
	AccountsCollection string `mapstructure:"accounts_collection" default:"accounts"`
	// TransactionsCollection is the store collection holding the ledger.
	TransactionsCollection string `mapstructure:"transactions_collection" default:"transactions"`
	// BalanceTTLSeconds overrides cache.default_ttl_s for balance and
	// account entries. Zero inherits the cache default.
	BalanceTTLSeconds int `mapstructure:"balance_ttl_s" default:"0"`
	// DefaultBalance is returned when no balance can be read at all.
	DefaultBalance string `mapstructure:"default_balance" default:"0"`
	// BoundedWaitMS is the host-imposed budget for bounded reads.
	BoundedWaitMS int `mapstructure:"bounded_wait_ms" default:"500"`
	// AssumeExistsOnTimeout controls the existence fallback when the store
	// cannot answer within the budget. The permissive default mirrors the
	// behavior hosts historically relied on; strict deployments should turn
	// it off so missing accounts are not masked.
	AssumeExistsOnTimeout bool `mapstructure:"assume_exists_on_timeout" default:"true"`
}

// BalanceTTL returns the balance TTL override as a duration. Zero means no
// override.
func (c Config) BalanceTTL() time.Duration {
	if c.BalanceTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.BalanceTTLSeconds) * time.Second
}

// BoundedWait returns the bounded-read budget as a duration.
func (c Config) BoundedWait() time.Duration {
	ms := c.BoundedWaitMS
	if ms <= 0 {
		ms = 500
	}
	return time.Duration(ms) * time.Millisecond
}

// FallbackBalance parses DefaultBalance, with zero as the last resort.
func (c Config) FallbackBalance() decimal.Decimal {
	d, err := decimal.NewFromString(c.DefaultBalance)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ArchiveConfig holds configuration for transaction ledger archival.
type ArchiveConfig struct {
	// Enabled toggles the archival task.
	Enabled bool `mapstructure:"enabled" default:"false"`
	// Bucket is the object storage bucket receiving archive batches.
	Bucket string `mapstructure:"bucket" default:"economy-archive"`
	// OlderThanDays selects which ledger entries are archived.
	OlderThanDays int `mapstructure:"older_than_days" default:"90"`
	// IntervalSeconds is how often the archival task runs.
	IntervalSeconds int `mapstructure:"interval_s" default:"3600"`
}

// Interval returns the archival period as a duration.
func (c ArchiveConfig) Interval() time.Duration {
	s := c.IntervalSeconds
	if s <= 0 {
		s = 3600
	}
	return time.Duration(s) * time.Second
}

// Cutoff returns the archival age threshold.
func (c ArchiveConfig) Cutoff() time.Duration {
	d := c.OlderThanDays
	if d <= 0 {
		d = 90
	}
	return time.Duration(d) * 24 * time.Hour
}
