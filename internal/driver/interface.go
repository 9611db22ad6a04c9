package driver

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// GraphDriver persists the knowledge graph: per-user concept mastery
// nodes and the prerequisite edges between concepts. Persistence is
// write-through and best-effort; the in-memory profile stays
// authoritative for decisions.
type GraphDriver interface {
	ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error)
	BuildIndices(ctx context.Context) error
	Close(ctx context.Context) error
}
