//go:build integration

package graph

import (
	"context"
	"os"
	"testing"
	"time"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func testNeo4jStore(t *testing.T) Store {
	t.Helper()
	ctx := context.Background()
	s := Open(ctx, Config{
		URI:            envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Username:       envOr("NEO4J_USER", "neo4j"),
		Password:       envOr("NEO4J_PASS", "password"),
		ConnectTimeout: 5 * time.Second,
	}, nil)
	if !s.Persistent() {
		t.Fatal("neo4j unreachable")
	}
	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	t.Cleanup(func() {
		s.ClearAll(ctx)
		s.Close(ctx)
	})
	return s
}

// TestNeo4jStore runs the same contract the memory store passes.
func TestNeo4jStore(t *testing.T) {
	runStoreSuite(t, testNeo4jStore)
}
