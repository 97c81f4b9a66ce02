// Package neo4j provides options for the Neo4j graph store connection.
package neo4j

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/kgrag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options contains Neo4j driver configuration.
type Options struct {
	// Enabled turns the graph store on. When off, graph traversal degrades to empty results.
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// URI is the bolt/neo4j URI, e.g. neo4j+s://xxxx.databases.neo4j.io.
	URI string `json:"uri" mapstructure:"uri"`

	// Username for basic auth.
	Username string `json:"username" mapstructure:"username"`

	// Password for basic auth.
	Password string `json:"-" mapstructure:"password"`

	// Database is the target database; empty uses the server default.
	Database string `json:"database" mapstructure:"database"`

	// MaxConnectionPoolSize bounds the driver pool.
	MaxConnectionPoolSize int `json:"max-connection-pool-size" mapstructure:"max-connection-pool-size"`

	// ConnectionAcquisitionTimeout bounds waiting for a pooled connection.
	ConnectionAcquisitionTimeout time.Duration `json:"connection-acquisition-timeout" mapstructure:"connection-acquisition-timeout"`

	// QueryTimeout bounds every traversal issued at query time.
	QueryTimeout time.Duration `json:"query-timeout" mapstructure:"query-timeout"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Enabled:                      true,
		URI:                          "neo4j://localhost:7687",
		Username:                     "neo4j",
		MaxConnectionPoolSize:        50,
		ConnectionAcquisitionTimeout: 10 * time.Second,
		QueryTimeout:                 5 * time.Second,
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "neo4j."
	fs.BoolVar(&o.Enabled, p+"enabled", o.Enabled, "Enable the Neo4j graph store.")
	fs.StringVar(&o.URI, p+"uri", o.URI, "Neo4j connection URI.")
	fs.StringVar(&o.Username, p+"username", o.Username, "Neo4j username.")
	fs.StringVar(&o.Password, p+"password", o.Password, "Neo4j password (prefer the NEO4J_PASSWORD env var).")
	fs.StringVar(&o.Database, p+"database", o.Database, "Neo4j database name, empty for the server default.")
	fs.IntVar(&o.MaxConnectionPoolSize, p+"max-connection-pool-size", o.MaxConnectionPoolSize, "Maximum number of pooled connections.")
	fs.DurationVar(&o.ConnectionAcquisitionTimeout, p+"connection-acquisition-timeout", o.ConnectionAcquisitionTimeout, "Timeout for acquiring a pooled connection.")
	fs.DurationVar(&o.QueryTimeout, p+"query-timeout", o.QueryTimeout, "Timeout for a single graph traversal.")
}

// Complete fills credentials from NEO4J_URI, NEO4J_USER and NEO4J_PASSWORD.
func (o *Options) Complete() error {
	if v := os.Getenv("NEO4J_URI"); v != "" && o.URI == NewOptions().URI {
		o.URI = v
	}
	if v := os.Getenv("NEO4J_USER"); v != "" && o.Username == NewOptions().Username {
		o.Username = v
	}
	if o.Password == "" {
		o.Password = os.Getenv("NEO4J_PASSWORD")
	}
	return nil
}

// Validate validates the options.
func (o *Options) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}

	var errs []error
	if o.URI == "" {
		errs = append(errs, fmt.Errorf("neo4j uri is required"))
	} else if !hasSupportedScheme(o.URI) {
		errs = append(errs, fmt.Errorf("neo4j uri %q has unsupported scheme", o.URI))
	}
	if o.MaxConnectionPoolSize <= 0 {
		errs = append(errs, fmt.Errorf("neo4j max-connection-pool-size must be positive"))
	}
	if o.QueryTimeout <= 0 {
		errs = append(errs, fmt.Errorf("neo4j query-timeout must be positive"))
	}
	return errs
}

func hasSupportedScheme(uri string) bool {
	for _, scheme := range []string{"neo4j://", "neo4j+s://", "neo4j+ssc://", "bolt://", "bolt+s://", "bolt+ssc://"} {
		if strings.HasPrefix(uri, scheme) {
			return true
		}
	}
	return false
}
