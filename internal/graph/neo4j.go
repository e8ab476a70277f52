package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Neo4jConfig holds connection settings.
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// Validate checks required settings.
func (c Neo4jConfig) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("neo4j: uri is required")
	}
	return nil
}

// Neo4jClient implements Collaborator on Neo4j. Resources are :Resource nodes
// keyed by id; links are :LINKS relationships carrying link_id and kind.
type Neo4jClient struct {
	cfg    Neo4jConfig
	driver neo4j.DriverWithContext
	log    *zap.Logger
}

// Connect opens a driver, retrying with exponential backoff, and ensures the
// node key constraint exists.
func Connect(ctx context.Context, cfg Neo4jConfig, log *zap.Logger) (*Neo4jClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	auth := neo4j.BasicAuth(cfg.Username, cfg.Password, "")

	var lastErr error
	delay := 100 * time.Millisecond
	for attempt := 0; attempt < 5; attempt++ {
		driver, err := neo4j.NewDriverWithContext(cfg.URI, auth)
		if err == nil {
			if err = driver.VerifyConnectivity(ctx); err == nil {
				c := &Neo4jClient{cfg: cfg, driver: driver, log: log}
				if err := c.ensureSchema(ctx); err != nil {
					_ = driver.Close(ctx)
					return nil, err
				}
				log.Info("graph connected", zap.String("uri", cfg.URI))
				return c, nil
			}
			_ = driver.Close(ctx)
		}
		lastErr = err
		log.Debug("graph connect retry", zap.Int("attempt", attempt+1), zap.Error(err))

		select {
		case <-time.After(delay):
			delay *= 2
		case <-ctx.Done():
			return nil, fmt.Errorf("neo4j connect: %w", ctx.Err())
		}
	}
	return nil, fmt.Errorf("neo4j connect after 5 attempts: %w", lastErr)
}

func (c *Neo4jClient) session(ctx context.Context) neo4j.SessionWithContext {
	return c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.cfg.Database})
}

func (c *Neo4jClient) write(ctx context.Context, cypher string, params map[string]any) error {
	session := c.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	return err
}

func (c *Neo4jClient) ensureSchema(ctx context.Context) error {
	err := c.write(ctx, `CREATE CONSTRAINT resource_id IF NOT EXISTS FOR (r:Resource) REQUIRE r.id IS UNIQUE`, nil)
	if err != nil {
		return fmt.Errorf("neo4j schema: %w", err)
	}
	return nil
}

// CreateRelationship merges both endpoint nodes and the link, so replaying a
// link is a no-op.
func (c *Neo4jClient) CreateRelationship(ctx context.Context, rel Relationship) error {
	params := map[string]any{
		"src":     rel.SourceID,
		"dst":     rel.TargetID,
		"kind":    rel.Kind,
		"link_id": rel.LinkID,
		"score":   nil,
	}
	if rel.Score != nil {
		params["score"] = *rel.Score
	}
	err := c.write(ctx, `
		MERGE (a:Resource {id: $src})
		MERGE (b:Resource {id: $dst})
		MERGE (a)-[r:LINKS {kind: $kind}]->(b)
		SET r.link_id = $link_id, r.score = $score`, params)
	if err != nil {
		return fmt.Errorf("neo4j create relationship: %w", err)
	}
	return nil
}

func (c *Neo4jClient) DeleteRelationship(ctx context.Context, linkID string) error {
	err := c.write(ctx, `MATCH ()-[r:LINKS {link_id: $link_id}]->() DELETE r`, map[string]any{"link_id": linkID})
	if err != nil {
		return fmt.Errorf("neo4j delete relationship: %w", err)
	}
	return nil
}

func (c *Neo4jClient) QueryRelationships(ctx context.Context, entityID string, depth int) ([]Edge, error) {
	if depth < 1 {
		depth = 1
	}
	if depth > MaxDepth {
		depth = MaxDepth
	}
	// Variable-length bounds cannot be parameters; depth is clamped above.
	cypher := fmt.Sprintf(`
		MATCH p = (:Resource {id: $id})-[:LINKS*1..%d]-()
		UNWIND range(0, length(p) - 1) AS i
		WITH relationships(p)[i] AS r, i + 1 AS hop
		RETURN r.link_id AS link_id, min(hop) AS depth
		ORDER BY depth, link_id`, depth)

	session := c.session(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, map[string]any{"id": entityID})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		edges := make([]Edge, 0, len(records))
		for _, rec := range records {
			id, _, err := neo4j.GetRecordValue[string](rec, "link_id")
			if err != nil {
				return nil, err
			}
			d, _, err := neo4j.GetRecordValue[int64](rec, "depth")
			if err != nil {
				return nil, err
			}
			edges = append(edges, Edge{LinkID: id, Depth: int(d)})
		}
		return edges, nil
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j query relationships: %w", err)
	}
	return out.([]Edge), nil
}

func (c *Neo4jClient) Close(ctx context.Context) error {
	if c.driver == nil {
		return nil
	}
	err := c.driver.Close(ctx)
	c.driver = nil
	return err
}
