package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/mef/pkg/cluster"
	"github.com/Ramsey-B/mef/pkg/models"
	"github.com/Ramsey-B/mef/pkg/tracing"
)

// Projector mirrors clusters somewhere outside the store.
type Projector interface {
	Project(ctx context.Context, clusters []*models.Document) error
}

// Noop discards projections.
type Noop struct{}

func (Noop) Project(context.Context, []*models.Document) error { return nil }

const (
	clearSources = `
		MERGE (m:MEF {kind: $kind, pid: $pid})
		SET m.deleted = $deleted, m.viaf_pid = $viaf_pid, m.type = $type, m.updated = $updated
		WITH m
		OPTIONAL MATCH (m)-[r:HAS_SOURCE|MERGED_INTO]->()
		DELETE r`
	linkSource = `
		MATCH (m:MEF {kind: $kind, pid: $pid})
		MERGE (s:SourceRecord {kind: $kind, source: $source, pid: $source_pid})
		MERGE (m)-[:HAS_SOURCE]->(s)`
	linkMerged = `
		MATCH (m:MEF {kind: $kind, pid: $pid})
		MERGE (w:MEF {kind: $kind, pid: $into})
		MERGE (m)-[:MERGED_INTO]->(w)`
)

// ClusterProjector writes (:MEF)-[:HAS_SOURCE]->(:SourceRecord) and
// (:MEF)-[:MERGED_INTO]->(:MEF) edges.
type ClusterProjector struct {
	client *Client
	logger ectologger.Logger
}

func NewClusterProjector(client *Client, logger ectologger.Logger) *ClusterProjector {
	return &ClusterProjector{client: client, logger: logger}
}

// Project replaces the edges of every given cluster in one transaction.
func (p *ClusterProjector) Project(ctx context.Context, clusters []*models.Document) error {
	ctx, span := tracing.StartSpan(ctx, "graph.ClusterProjector.Project")
	defer span.End()

	if len(clusters) == 0 {
		return nil
	}

	_, err := p.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, c := range clusters {
			if err := project(ctx, tx, c); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"clusters": len(clusters),
		}).Error("Failed to project clusters")
		return fmt.Errorf("failed to project clusters: %w", err)
	}
	return nil
}

func project(ctx context.Context, tx neo4j.ManagedTransaction, c *models.Document) error {
	params := map[string]any{
		"kind":     string(c.Key.Kind),
		"pid":      c.Pid(),
		"deleted":  c.IsDeleted(),
		"viaf_pid": c.String(models.FieldViafPid),
		"type":     c.Type(),
		"updated":  c.Updated.Format(models.DateLayout),
	}
	if _, err := run(ctx, tx, clearSources, params); err != nil {
		return err
	}
	if into := c.RedirectTarget(); into != "" {
		_, err := run(ctx, tx, linkMerged, map[string]any{"kind": params["kind"], "pid": c.Pid(), "into": into})
		return err
	}
	for source, pid := range cluster.Refs(c) {
		_, err := run(ctx, tx, linkSource, map[string]any{
			"kind":       params["kind"],
			"pid":        c.Pid(),
			"source":     string(source),
			"source_pid": pid,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func run(ctx context.Context, tx neo4j.ManagedTransaction, cypher string, params map[string]any) (any, error) {
	result, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return result.Consume(ctx)
}
