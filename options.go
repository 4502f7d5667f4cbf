package gpucmd

import "log/slog"

// Option configures a Service during creation.
//
// Example:
//
//	svc := gpucmd.NewService(drv,
//	    gpucmd.WithConfig(cfg),
//	    gpucmd.WithLogger(slog.Default()),
//	)
type Option func(*options)

type options struct {
	config Config
	logger *slog.Logger
}

func defaultOptions() options {
	return options{config: DefaultConfig()}
}

// WithConfig replaces the whole configuration.
func WithConfig(c Config) Option {
	return func(o *options) {
		o.config = c
	}
}

// WithLogger sets a logger for this Service only. Without it the Service
// logs through Logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithPageSize sets the growth granularity of the frame buffers.
func WithPageSize(n int) Option {
	return func(o *options) {
		o.config.PageSize = n
	}
}

// WithCapacities bounds the number of live resources per kind.
func WithCapacities(c Capacities) Option {
	return func(o *options) {
		o.config.Capacities = c
	}
}
