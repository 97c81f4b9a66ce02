// Package options defines the generic options contract shared by every
// configurable component of kgrag, plus small helpers for flag naming.
package options

import (
	"strings"

	"github.com/spf13/pflag"
)

// Join concatenates prefixes with "." separator.
// If the result is non-empty, it appends a trailing ".".
// It builds flag names like "neo4j.uri" or "cache.redis.host".
func Join(prefixes ...string) string {
	joined := strings.Join(prefixes, ".")
	if joined != "" && !strings.HasSuffix(joined, ".") {
		joined += "."
	}
	return joined
}

// IOptions defines methods to implement a generic options.
type IOptions interface {
	// Validate validates all the required options.
	Validate() []error

	// AddFlags adds flags related to given flagset.
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
}

// Completer is implemented by options that fill derived defaults after
// flags and config files have been applied.
type Completer interface {
	Complete() error
}
