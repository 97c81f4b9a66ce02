// Package neo4j wraps the Neo4j driver used by the knowledge graph store.
package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	options "github.com/kart-io/kgrag/pkg/options/neo4j"
)

// Client owns a Neo4j driver. Sessions are short lived: callers open one per
// operation with ReadSession or WriteSession and close it when done.
type Client struct {
	driver neo4j.DriverWithContext
	opts   *options.Options
}

// New creates a driver from opts and verifies connectivity.
func New(ctx context.Context, opts *options.Options) (*Client, error) {
	if opts == nil {
		return nil, fmt.Errorf("neo4j options cannot be nil")
	}
	if errs := opts.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid neo4j options: %v", errs)
	}

	driver, err := neo4j.NewDriverWithContext(
		opts.URI,
		neo4j.BasicAuth(opts.Username, opts.Password, ""),
		func(c *neo4j.Config) {
			c.MaxConnectionPoolSize = opts.MaxConnectionPoolSize
			c.ConnectionAcquisitionTimeout = opts.ConnectionAcquisitionTimeout
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j: %w", err)
	}

	return &Client{driver: driver, opts: opts}, nil
}

// Name returns the component identifier.
func (c *Client) Name() string {
	return "neo4j"
}

// Driver returns the underlying driver.
func (c *Client) Driver() neo4j.DriverWithContext {
	return c.driver
}

// Database returns the configured database name.
func (c *Client) Database() string {
	return c.opts.Database
}

// ReadSession opens a read session on the configured database.
func (c *Client) ReadSession(ctx context.Context) neo4j.SessionWithContext {
	return c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: c.opts.Database,
	})
}

// WriteSession opens a write session on the configured database.
func (c *Client) WriteSession(ctx context.Context) neo4j.SessionWithContext {
	return c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: c.opts.Database,
	})
}

// Ping verifies the driver can reach the server.
func (c *Client) Ping(ctx context.Context) error {
	return c.driver.VerifyConnectivity(ctx)
}

// Health returns a checker that pings Neo4j with a short timeout.
func (c *Client) Health() func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return c.Ping(ctx)
	}
}

// Close closes the driver and its connection pool.
func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}
