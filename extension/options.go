package extension

import (
	"time"

	"github.com/xraph/credits"
	"github.com/xraph/credits/event"
	"github.com/xraph/credits/plugin"
	"github.com/xraph/credits/store"
)

// Option configures the credits Forge extension.
type Option func(*Extension)

// WithStore sets the store for the credit engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithEngineOption passes a credits.Option through to the underlying engine.
func WithEngineOption(opt credits.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers a credit engine plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, credits.WithPlugin(p))
	}
}

// WithPublisher sets the sink outbox events are delivered to.
func WithPublisher(p event.Publisher) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, credits.WithPublisher(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithPostgresDSN makes the extension construct a PostgreSQL store.
func WithPostgresDSN(dsn string) Option {
	return func(e *Extension) { e.config.PostgresDSN = dsn }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithSweepConfig sets the expiry sweeper interval and batch size.
func WithSweepConfig(interval time.Duration, batchSize int) Option {
	return func(e *Extension) {
		e.config.SweepInterval = interval
		e.config.SweepBatchSize = batchSize
	}
}

// WithDispatchConfig sets the outbox dispatch interval and batch size.
func WithDispatchConfig(interval time.Duration, batchSize int) Option {
	return func(e *Extension) {
		e.config.DispatchInterval = interval
		e.config.DispatchBatchSize = batchSize
	}
}

// WithApplications restricts allocations and transfers to the named
// applications.
func WithApplications(apps ...string) Option {
	return func(e *Extension) { e.config.Applications = apps }
}
