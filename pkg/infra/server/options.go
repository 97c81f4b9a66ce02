package server

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/kgrag/pkg/options"
	mwopts "github.com/kart-io/kgrag/pkg/options/middleware"
	httpopts "github.com/kart-io/kgrag/pkg/options/server/http"
)

var _ options.IOptions = (*Options)(nil)

// Options contains all configuration for the server manager.
type Options struct {
	// HTTP contains HTTP server options.
	HTTP *httpopts.Options `json:"http" mapstructure:"http"`

	// Middleware contains HTTP middleware options.
	Middleware *mwopts.Options `json:"middleware" mapstructure:"middleware"`

	// ShutdownTimeout is the timeout for graceful shutdown.
	ShutdownTimeout time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`
}

// NewOptions creates a new Options with default values.
func NewOptions() *Options {
	return &Options{
		HTTP:            httpopts.NewOptions(),
		Middleware:      mwopts.NewOptions(),
		ShutdownTimeout: 30 * time.Second,
	}
}

// AddFlags adds flags for server options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.ShutdownTimeout, options.Join(prefixes...)+"server.shutdown-timeout", o.ShutdownTimeout, "Graceful shutdown timeout.")
	o.HTTP.AddFlags(fs, prefixes...)
	o.Middleware.AddFlags(fs, prefixes...)
}

// Validate validates all server options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.shutdown-timeout must be positive"))
	}
	errs = append(errs, o.HTTP.Validate()...)
	errs = append(errs, o.Middleware.Validate()...)
	return errs
}

// Complete completes all server options with defaults.
func (o *Options) Complete() error {
	if o.HTTP == nil {
		o.HTTP = httpopts.NewOptions()
	}
	if o.Middleware == nil {
		o.Middleware = mwopts.NewOptions()
	}
	return o.HTTP.Complete()
}
