// Package graph projects MEF clusters into a Neo4j compatible graph over Bolt.
package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/mef/pkg/tracing"
)

// schema holds the constraints the projection MERGEs rely on.
var schema = []string{
	`CREATE CONSTRAINT mef_cluster IF NOT EXISTS FOR (m:MEF) REQUIRE (m.kind, m.pid) IS UNIQUE`,
	`CREATE CONSTRAINT mef_source_record IF NOT EXISTS FOR (s:SourceRecord) REQUIRE (s.kind, s.source, s.pid) IS UNIQUE`,
}

// Client owns the Bolt driver and opens one session per transaction.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
	logger   ectologger.Logger
}

// Config holds graph database configuration. An empty Database uses the
// server default.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Database string
}

func NewClient(cfg Config, logger ectologger.Logger) (*Client, error) {
	auth := neo4j.NoAuth()
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(fmt.Sprintf("bolt://%s:%d", cfg.Host, cfg.Port), auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create graph driver for %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &Client{driver: driver, database: cfg.Database, logger: logger}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

// Ping verifies the server is reachable. It doubles as the readiness check.
func (c *Client) Ping(ctx context.Context) error {
	return c.driver.VerifyConnectivity(ctx)
}

// EnsureSchema creates the cluster and source record constraints. Servers
// without constraint support (Memgraph) log a warning and continue.
func (c *Client) EnsureSchema(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Client.EnsureSchema")
	defer span.End()

	for _, stmt := range schema {
		_, err := c.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			res, err := tx.Run(ctx, stmt, nil)
			if err != nil {
				return nil, err
			}
			return res.Consume(ctx)
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.WithContext(ctx).WithError(err).Warnf("Skipping graph constraint: %s", stmt)
		}
	}
	return nil
}

// ExecuteWrite runs work in a managed write transaction, retried by the driver
// on transient errors.
func (c *Client) ExecuteWrite(ctx context.Context, work func(tx neo4j.ManagedTransaction) (any, error)) (any, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Client.ExecuteWrite")
	defer span.End()

	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: c.database,
	})
	defer session.Close(ctx)

	return session.ExecuteWrite(ctx, work)
}
