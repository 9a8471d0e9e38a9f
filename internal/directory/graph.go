package directory

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Graph is a Neo4j-backed Cache. Resolutions are stored as
// (:Person {name})-[:HAS_ADDRESS]->(:Address {email, slack_id}) so that
// future requests for the same person skip the upstream lookup.
type Graph struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewGraph connects to Neo4j and returns a directory cache.
func NewGraph(uri, user, password string, logger *zap.Logger) (*Graph, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Graph{driver: driver, logger: logger}, nil
}

// Ping verifies the Neo4j connection.
func (g *Graph) Ping(ctx context.Context) error {
	return g.driver.VerifyConnectivity(ctx)
}

// Close shuts down the Neo4j driver.
func (g *Graph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

// Lookup returns the cached address for a person name, matched
// case-insensitively.
func (g *Graph) Lookup(ctx context.Context, name string) (Address, bool, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (p:Person)-[:HAS_ADDRESS]->(a:Address)
		 WHERE toLower(p.name) = $name
		 RETURN a.email AS email, a.slack_id AS slack_id
		 LIMIT 1`,
		map[string]any{"name": strings.ToLower(name)})
	if err != nil {
		return Address{}, false, fmt.Errorf("directory lookup %q: %w", name, err)
	}

	rec, err := result.Single(ctx)
	if err != nil {
		// No row is a miss, not an error.
		return Address{}, false, nil
	}

	var addr Address
	if v, ok := rec.Get("email"); ok && v != nil {
		addr.Email, _ = v.(string)
	}
	if v, ok := rec.Get("slack_id"); ok && v != nil {
		addr.SlackID, _ = v.(string)
	}
	return addr, addr.Email != "" || addr.SlackID != "", nil
}

// Record stores a successful resolution.
func (g *Graph) Record(ctx context.Context, name string, addr Address) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MERGE (p:Person {name: $name})
		 MERGE (a:Address {email: $email, slack_id: $slackId})
		 MERGE (p)-[:HAS_ADDRESS]->(a)
		 SET a.updated_at = datetime()`,
		map[string]any{
			"name":    strings.ToLower(name),
			"email":   addr.Email,
			"slackId": addr.SlackID,
		})
	if err != nil {
		return fmt.Errorf("directory record %q: %w", name, err)
	}
	g.logger.Debug("recorded contact resolution",
		zap.String("name", name), zap.String("email", addr.Email))
	return nil
}
