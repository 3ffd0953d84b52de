package extension

import "time"

// Config holds the credits extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.credits" or "credits" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// PostgresDSN, when set, makes the extension construct a PostgreSQL
	// store. When empty the programmatically supplied store is used, or an
	// in-memory store as a last resort.
	PostgresDSN string `json:"postgres_dsn" mapstructure:"postgres_dsn" yaml:"postgres_dsn"`

	// SweepInterval is how frequently expired pools are retired
	// (default: 1m). Zero or negative disables the background sweeper.
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval" yaml:"sweep_interval"`

	// SweepBatchSize limits how many scopes one sweep pass visits
	// (default: 100).
	SweepBatchSize int `json:"sweep_batch_size" mapstructure:"sweep_batch_size" yaml:"sweep_batch_size"`

	// DispatchInterval is how frequently pending outbox events are
	// delivered (default: 2s). Zero or negative disables dispatch.
	DispatchInterval time.Duration `json:"dispatch_interval" mapstructure:"dispatch_interval" yaml:"dispatch_interval"`

	// DispatchBatchSize limits how many events one dispatch pass delivers
	// (default: 100).
	DispatchBatchSize int `json:"dispatch_batch_size" mapstructure:"dispatch_batch_size" yaml:"dispatch_batch_size"`

	// Applications restricts allocations and transfers to these application
	// names. Empty accepts any application.
	Applications []string `json:"applications" mapstructure:"applications" yaml:"applications"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SweepInterval:     time.Minute,
		SweepBatchSize:    100,
		DispatchInterval:  2 * time.Second,
		DispatchBatchSize: 100,
	}
}
