// Package history provides options for the query history store.
package history

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/kart-io/kgrag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options configures the SQLite backed query history.
type Options struct {
	// Enabled records every processed query.
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// DSN is the SQLite database path, ":memory:" for an in-process store.
	DSN string `json:"dsn" mapstructure:"dsn"`

	// Retain is the maximum number of rows kept, 0 keeps everything.
	Retain int `json:"retain" mapstructure:"retain"`
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{
		Enabled: true,
		DSN:     "data/kgrag_history.db",
		Retain:  10000,
	}
}

// AddFlags adds flags for history options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "history."
	fs.BoolVar(&o.Enabled, p+"enabled", o.Enabled, "Record processed queries in SQLite.")
	fs.StringVar(&o.DSN, p+"dsn", o.DSN, "SQLite database path.")
	fs.IntVar(&o.Retain, p+"retain", o.Retain, "Maximum number of history rows kept, 0 keeps all.")
}

// Validate validates the history options.
func (o *Options) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}

	var errs []error
	if o.DSN == "" {
		errs = append(errs, fmt.Errorf("history dsn is required when history is enabled"))
	}
	if o.Retain < 0 {
		errs = append(errs, fmt.Errorf("history retain must not be negative"))
	}
	return errs
}
