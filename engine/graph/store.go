package graph

import (
	"context"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/specgraph/pkg/resilience"
)

// Traversal and search bounds.
const (
	// MaxTraversalDepth caps the maxDepth accepted by Traverse.
	MaxTraversalDepth = 25

	// DefaultSearchLimit is used when SearchByPattern receives limit <= 0.
	DefaultSearchLimit = 100

	// MaxSearchLimit caps the limit accepted by SearchByPattern.
	MaxSearchLimit = 1000
)

// Store is the backend-agnostic graph API. MemoryStore and Neo4jStore
// implement it with identical observable behavior.
type Store interface {
	// MergeNode creates the node if absent, otherwise adds labels and
	// merges properties into it. A nil property value removes the key.
	MergeNode(ctx context.Context, id string, labels []string, props map[string]any) (Node, error)

	// MergeRelationship creates the (start, type, end) relationship if
	// absent and merges props into it. Returns ErrNotFound if either node
	// does not exist.
	MergeRelationship(ctx context.Context, startID, endID string, typ RelType, props map[string]any) (Relationship, error)

	// FindByID returns the node with id; ok is false if there is none.
	FindByID(ctx context.Context, id string) (n Node, ok bool, err error)

	// FindByLabel returns every node carrying label, ordered by id.
	FindByLabel(ctx context.Context, label string) ([]Node, error)

	// Traverse expands breadth-first along outgoing relationships from
	// startID up to maxDepth hops, optionally restricted to types.
	Traverse(ctx context.Context, startID string, maxDepth int, types ...RelType) (TraversalResult, error)

	// SearchByPattern matches nodes of label against pattern. String
	// values containing '*' are case-insensitive wildcards; everything
	// else must be equal.
	SearchByPattern(ctx context.Context, label string, pattern map[string]any, limit int) (SearchResult, error)

	// Statistics counts nodes and relationships.
	Statistics(ctx context.Context) (Statistics, error)

	// ClearAll deletes every node and relationship.
	ClearAll(ctx context.Context) error

	// Close releases backend resources.
	Close(ctx context.Context) error

	// Persistent reports whether the store is backed by a database.
	Persistent() bool
}

// Compile-time interface checks.
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*Neo4jStore)(nil)
)

// Config selects and configures the persistent backend.
type Config struct {
	// URI of the Neo4j server, e.g. neo4j://localhost:7687. Empty selects
	// the in-memory store.
	URI      string
	Username string
	Password string
	// Database is the Neo4j database name; empty uses the server default.
	Database string
	// ConnectTimeout bounds the connectivity check. Default 5s.
	ConnectTimeout time.Duration
	// Breaker trips after consecutive server failures so later calls fail
	// fast with resilience.ErrCircuitOpen. Zero values take the defaults.
	Breaker resilience.BreakerOpts
}

// Open connects to the configured Neo4j backend and provisions its
// constraints. When no URI is configured or the server cannot be reached it
// falls back to a MemoryStore for the lifetime of the process; the fallback
// is logged and never returned as an error.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.URI == "" {
		logger.Info("graph: no backend configured, using in-memory store")
		return NewMemoryStore()
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		logger.Warn("graph: neo4j driver unavailable, using in-memory store", "uri", cfg.URI, "error", err)
		return NewMemoryStore()
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(connectCtx); err != nil {
		logger.Warn("graph: neo4j unreachable, using in-memory store", "uri", cfg.URI, "error", err)
		_ = driver.Close(ctx)
		return NewMemoryStore()
	}

	store := NewNeo4jStore(driver, cfg.Database)
	store.opener = guard(store.opener, cfg.Breaker)
	store.logger = logger
	store.EnsureConstraints(ctx)
	logger.Info("graph: connected to neo4j", "uri", cfg.URI, "database", cfg.Database)
	return store
}
