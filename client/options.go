package client

import (
	"github.com/rcrowley/go-metrics"
	"go.uber.org/zap"
)

type options struct {
	logger   *zap.Logger
	registry metrics.Registry
	strict   bool
}

// Option configures a Handle.
type Option func(*options)

// WithLogger sets the logger used by the handle and passed to the driver.
// The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRegistry sets the metrics registry. The default is a fresh registry per
// handle.
func WithRegistry(r metrics.Registry) Option {
	return func(o *options) {
		if r != nil {
			o.registry = r
		}
	}
}

// WithStrictConfig makes New fail with a *kafkasource.ConfigError when
// group.id is missing, instead of logging the defect and failing later on
// the first offset ledger call.
func WithStrictConfig() Option {
	return func(o *options) {
		o.strict = true
	}
}
