package graph

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/WessleyAI/specgraph/pkg/resilience"
)

// --- Mock infrastructure ---

type mockResult struct {
	records []*neo4j.Record
	idx     int
	err     error // reported by Err once the records run out
}

func newMockResult(records ...*neo4j.Record) *mockResult {
	return &mockResult{records: records}
}

func (m *mockResult) Next(_ context.Context) bool {
	if m.idx < len(m.records) {
		m.idx++
		return true
	}
	return false
}

func (m *mockResult) Record() *neo4j.Record { return m.records[m.idx-1] }

func (m *mockResult) Err() error {
	if m.idx < len(m.records) {
		return nil
	}
	return m.err
}

// failingResult streams records and then fails with err.
func failingResult(err error, records ...*neo4j.Record) *mockResult {
	return &mockResult{records: records, err: err}
}

// mockSession returns results in order, one per Run, and records every
// statement it was given.
type mockSession struct {
	results []*mockResult
	runErr  error
	queries []string
	params  []map[string]any
	closed  bool
	writes  int
}

func (s *mockSession) Run(_ context.Context, cypher string, params map[string]any) (CypherResult, error) {
	s.queries = append(s.queries, cypher)
	s.params = append(s.params, params)
	if s.runErr != nil {
		return nil, s.runErr
	}
	if len(s.results) == 0 {
		return newMockResult(), nil
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r, nil
}

func (s *mockSession) Close(_ context.Context) error {
	s.closed = true
	return nil
}

func (s *mockSession) ExecuteWrite(_ context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	s.writes++
	return work(s)
}

type mockOpener struct {
	session *mockSession
}

func (o *mockOpener) OpenSession(_ context.Context) CypherSession { return o.session }

func nodeRecord(key string, labels []string, props map[string]any) *neo4j.Record {
	return &neo4j.Record{
		Keys:   []string{key},
		Values: []any{dbtype.Node{Labels: labels, Props: props}},
	}
}

// --- Tests ---

func TestNeo4jMergeNode(t *testing.T) {
	sess := &mockSession{results: []*mockResult{newMockResult(nodeRecord("n", []string{"Schema"},
		map[string]any{"id": "schema_a", "name": "A", "required": []any{"x"}}))}}
	s := NewWithOpener(&mockOpener{session: sess})

	n, err := s.MergeNode(context.Background(), "schema_a", []string{"Schema", "Component"}, map[string]any{"name": "A", "depth": 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.ID != "schema_a" || n.String("name") != "A" {
		t.Fatalf("wrong node: %+v", n)
	}
	if _, ok := n.Properties["id"]; ok {
		t.Fatal("id must not be a property")
	}
	if got := StringsProp(n.Properties, "required"); len(got) != 1 || got[0] != "x" {
		t.Fatalf("required = %v", got)
	}
	if sess.writes != 1 {
		t.Fatalf("expected one write transaction, got %d", sess.writes)
	}
	if !sess.closed {
		t.Fatal("session not closed")
	}
	q := sess.queries[0]
	if !strings.Contains(q, "MERGE (n:SpecNode {id: $id})") || !strings.Contains(q, "SET n:Schema:Component") {
		t.Fatalf("unexpected cypher: %s", q)
	}
	props := sess.params[0]["props"].(map[string]any)
	if props["depth"] != int64(2) {
		t.Fatalf("props not normalized: %v", props)
	}
}

func TestNeo4jMergeNode_InvalidLabel(t *testing.T) {
	sess := &mockSession{}
	s := NewWithOpener(&mockOpener{session: sess})

	_, err := s.MergeNode(context.Background(), "x", []string{"Schema) DETACH DELETE (m"}, nil)
	if !errors.Is(err, ErrInvalidLabel) {
		t.Fatalf("expected ErrInvalidLabel, got %v", err)
	}
	if len(sess.queries) != 0 {
		t.Fatal("no query should run for an invalid label")
	}
}

func TestNeo4jMergeRelationship_NotFound(t *testing.T) {
	sess := &mockSession{}
	s := NewWithOpener(&mockOpener{session: sess})

	_, err := s.MergeRelationship(context.Background(), "a", "b", RelUsesSchema, map[string]any{"context": ContextRequest})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !strings.Contains(sess.queries[0], "MERGE (a)-[r:USES_SCHEMA]->(b)") ||
		!strings.Contains(sess.queries[0], "MATCH (a:SpecNode {id: $start})") {
		t.Fatalf("unexpected cypher: %s", sess.queries[0])
	}
}

func TestNeo4jMergeRelationship_Success(t *testing.T) {
	rec := &neo4j.Record{Keys: []string{"props"}, Values: []any{map[string]any{"ref": "#/components/schemas/B"}}}
	sess := &mockSession{results: []*mockResult{newMockResult(rec)}}
	s := NewWithOpener(&mockOpener{session: sess})

	r, err := s.MergeRelationship(context.Background(), "a", "b", RelReferences, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.ID != "a-[REFERENCES]->b" || r.Properties["ref"] != "#/components/schemas/B" {
		t.Fatalf("wrong relationship: %+v", r)
	}
}

func TestNeo4jFindByID(t *testing.T) {
	sess := &mockSession{results: []*mockResult{newMockResult()}}
	s := NewWithOpener(&mockOpener{session: sess})

	_, ok, err := s.FindByID(context.Background(), "missing")
	if err != nil || ok {
		t.Fatalf("expected not found, got ok=%v err=%v", ok, err)
	}

	sess.runErr = errors.New("run fail")
	if _, _, err := s.FindByID(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestNeo4jFindByID_WrongType(t *testing.T) {
	rec := &neo4j.Record{Keys: []string{"n"}, Values: []any{"not-a-node"}}
	sess := &mockSession{results: []*mockResult{newMockResult(rec)}}
	s := NewWithOpener(&mockOpener{session: sess})

	if _, _, err := s.FindByID(context.Background(), "x"); err == nil {
		t.Fatal("expected error about unexpected type")
	}
}

func TestNeo4jTraverse(t *testing.T) {
	start := newMockResult(nodeRecord("n", []string{"Schema"}, map[string]any{"id": "a"}))
	hops := newMockResult(&neo4j.Record{
		Keys: []string{"start", "type", "props", "n"},
		Values: []any{"a", "REFERENCES", map[string]any{"ref": "#/components/schemas/B"},
			dbtype.Node{Labels: []string{"Schema"}, Props: map[string]any{"id": "b"}}},
	})
	sess := &mockSession{results: []*mockResult{start, hops}}
	s := NewWithOpener(&mockOpener{session: sess})

	res, err := s.Traverse(context.Background(), "a", 1, RelReferences)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Nodes) != 2 || res.Nodes[1].ID != "b" {
		t.Fatalf("unexpected nodes: %+v", res.Nodes)
	}
	if p := res.Paths["b"]; len(p.NodeIDs) != 2 || p.RelTypes[0] != RelReferences {
		t.Fatalf("unexpected path: %+v", p)
	}
	types := sess.params[1]["types"].([]string)
	if len(types) != 1 || types[0] != "REFERENCES" {
		t.Fatalf("type filter not passed: %v", types)
	}
}

func TestPatternQuery(t *testing.T) {
	cypher, params, err := patternQuery("Schema", map[string]any{"name": "*Account*", "specFile": "bank.yaml"}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(cypher, "MATCH (n:Schema) WHERE n.name =~ $p0 AND n.specFile = $p1") {
		t.Fatalf("unexpected cypher: %s", cypher)
	}
	if params["p0"] != `(?isu)\A.*Account.*\z` {
		t.Fatalf("unexpected regex: %v", params["p0"])
	}
	if params["p1"] != "bank.yaml" || params["limit"] != int64(10) {
		t.Fatalf("unexpected params: %v", params)
	}
}

func TestNeo4jSearchByPattern(t *testing.T) {
	rec := &neo4j.Record{
		Keys: []string{"total", "nodes"},
		Values: []any{int64(3), []any{
			dbtype.Node{Labels: []string{"Schema"}, Props: map[string]any{"id": "s1", "name": "Account"}},
			"skipped",
		}},
	}
	sess := &mockSession{results: []*mockResult{newMockResult(rec)}}
	s := NewWithOpener(&mockOpener{session: sess})

	res, err := s.SearchByPattern(context.Background(), "Schema", map[string]any{"name": "*Acc*"}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TotalMatches != 3 || len(res.Matches) != 1 || res.Matches[0].ID != "s1" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestNeo4jStatistics(t *testing.T) {
	count := func(n int64) *mockResult {
		return newMockResult(&neo4j.Record{Keys: []string{"count"}, Values: []any{n}})
	}
	grouped := func(pairs ...any) *mockResult {
		var recs []*neo4j.Record
		for i := 0; i < len(pairs); i += 2 {
			recs = append(recs, &neo4j.Record{Keys: []string{"k", "count"}, Values: []any{pairs[i], pairs[i+1]}})
		}
		return newMockResult(recs...)
	}
	sess := &mockSession{results: []*mockResult{
		count(6),
		count(4),
		grouped("Specification", int64(1), "Endpoint", int64(1), "Parameter", int64(2), "Schema", int64(2)),
		grouped("DEFINES_ENDPOINT", int64(1), "HAS_PARAMETER", int64(2), "BAD", "x"),
		count(5),
	}}
	s := NewWithOpener(&mockOpener{session: sess})

	st, err := s.Statistics(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.NodeCount != 6 || st.EndpointCount != 1 || st.SpecificationCount != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.AvgParametersPerEndpoint != 2 {
		t.Fatalf("expected 2 params per endpoint, got %v", st.AvgParametersPerEndpoint)
	}
	if st.AvgPropertiesPerSchema != 2.5 {
		t.Fatalf("expected 2.5 properties per schema, got %v", st.AvgPropertiesPerSchema)
	}
	if _, ok := st.RelationshipsByType["BAD"]; ok {
		t.Fatal("non-integer count should be skipped")
	}
	if !strings.Contains(sess.queries[2], "k <> 'SpecNode'") {
		t.Fatalf("shared label must not be counted: %s", sess.queries[2])
	}
}

func TestNeo4jClearAll(t *testing.T) {
	sess := &mockSession{}
	s := NewWithOpener(&mockOpener{session: sess})

	if err := s.ClearAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.writes != 1 || sess.queries[0] != "MATCH (n) DETACH DELETE n" {
		t.Fatalf("unexpected clear: %v", sess.queries)
	}
}

func TestNeo4jEnsureConstraints(t *testing.T) {
	sess := &mockSession{runErr: errors.New("already exists")}
	s := NewWithOpener(&mockOpener{session: sess})

	s.EnsureConstraints(context.Background())
	if len(sess.queries) != 3 {
		t.Fatalf("expected every statement attempted, got %d", len(sess.queries))
	}
	if !strings.Contains(sess.queries[0], "FOR (n:SpecNode) REQUIRE n.id IS UNIQUE") {
		t.Fatalf("unexpected constraint: %s", sess.queries[0])
	}
}

func TestNeo4jCloseWithoutDriver(t *testing.T) {
	s := NewWithOpener(&mockOpener{session: &mockSession{}})
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Persistent() {
		t.Fatal("neo4j store must report persistent")
	}
}

func TestGuardTripsOnServerErrors(t *testing.T) {
	sess := &mockSession{runErr: errors.New("connection refused")}
	s := NewWithOpener(guard(&mockOpener{session: sess}, resilience.BreakerOpts{FailThreshold: 2, Timeout: time.Minute}))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, _, err := s.FindByID(ctx, "x"); err == nil || errors.Is(err, resilience.ErrCircuitOpen) {
			t.Fatalf("call %d: expected server error, got %v", i, err)
		}
	}
	if _, err := s.MergeNode(ctx, "x", []string{"Schema"}, nil); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if len(sess.queries) != 2 {
		t.Fatalf("open breaker must not reach the server, got %d queries", len(sess.queries))
	}
}

func TestGuardIgnoresNotFound(t *testing.T) {
	sess := &mockSession{}
	s := NewWithOpener(guard(&mockOpener{session: sess}, resilience.BreakerOpts{FailThreshold: 1, Timeout: time.Minute}))

	for i := 0; i < 3; i++ {
		_, err := s.MergeRelationship(context.Background(), "a", "b", RelReferences, nil)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("call %d: expected ErrNotFound, got %v", i, err)
		}
	}
}

func TestNeo4jMatchesOnSharedLabel(t *testing.T) {
	sess := &mockSession{results: []*mockResult{
		newMockResult(nodeRecord("n", []string{"SpecNode", "Schema"}, map[string]any{"id": "a"})),
	}}
	s := NewWithOpener(&mockOpener{session: sess})

	n, ok, err := s.FindByID(context.Background(), "a")
	if err != nil || !ok {
		t.Fatalf("expected node, got ok=%v err=%v", ok, err)
	}
	if len(n.Labels) != 1 || n.Labels[0] != "Schema" {
		t.Fatalf("shared label leaked into labels: %v", n.Labels)
	}
	if !strings.Contains(sess.queries[0], "MATCH (n:SpecNode {id: $id})") {
		t.Fatalf("lookup must use the shared label: %s", sess.queries[0])
	}

	if _, err := s.expand(context.Background(), []string{"a"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(sess.queries[1], "MATCH (a:SpecNode)-[r]->(b)") {
		t.Fatalf("expansion must use the shared label: %s", sess.queries[1])
	}
}

func TestNeo4jStreamFailuresSurface(t *testing.T) {
	deadlock := errors.New("Neo.TransientError.Transaction.DeadlockDetected")
	ctx := context.Background()
	node := nodeRecord("n", []string{"Schema"}, map[string]any{"id": "a"})
	open := func(results ...*mockResult) (*Neo4jStore, *mockSession) {
		sess := &mockSession{results: results}
		return NewWithOpener(&mockOpener{session: sess}), sess
	}

	t.Run("merge relationship", func(t *testing.T) {
		s, _ := open(failingResult(deadlock))
		_, err := s.MergeRelationship(ctx, "a", "b", RelUsesSchema, nil)
		if !errors.Is(err, deadlock) || errors.Is(err, ErrNotFound) {
			t.Fatalf("expected the deadlock, not ErrNotFound: %v", err)
		}
	})
	t.Run("merge node", func(t *testing.T) {
		s, _ := open(failingResult(deadlock))
		if _, err := s.MergeNode(ctx, "a", []string{"Schema"}, nil); !errors.Is(err, deadlock) {
			t.Fatalf("expected the deadlock, got %v", err)
		}
	})
	t.Run("find by id", func(t *testing.T) {
		s, _ := open(failingResult(deadlock))
		if _, ok, err := s.FindByID(ctx, "a"); !errors.Is(err, deadlock) || ok {
			t.Fatalf("expected the deadlock, got ok=%v err=%v", ok, err)
		}
	})
	t.Run("find by label after partial stream", func(t *testing.T) {
		s, _ := open(failingResult(deadlock, node))
		if nodes, err := s.FindByLabel(ctx, "Schema"); !errors.Is(err, deadlock) || nodes != nil {
			t.Fatalf("expected the deadlock and no nodes, got %v, %v", nodes, err)
		}
	})
	t.Run("search", func(t *testing.T) {
		s, _ := open(failingResult(deadlock))
		if _, err := s.SearchByPattern(ctx, "Schema", nil, 10); !errors.Is(err, deadlock) {
			t.Fatalf("expected the deadlock, got %v", err)
		}
	})
	t.Run("statistics", func(t *testing.T) {
		s, _ := open(failingResult(deadlock))
		if _, err := s.Statistics(ctx); !errors.Is(err, deadlock) {
			t.Fatalf("expected the deadlock, got %v", err)
		}
	})
	t.Run("traverse", func(t *testing.T) {
		s, _ := open(newMockResult(node), failingResult(deadlock))
		if _, err := s.Traverse(ctx, "a", 2); !errors.Is(err, deadlock) {
			t.Fatalf("expected the deadlock, got %v", err)
		}
	})
}

func TestGuardCountsStreamFailures(t *testing.T) {
	fail := errors.New("connection reset mid-stream")
	sess := &mockSession{results: []*mockResult{failingResult(fail), failingResult(fail)}}
	s := NewWithOpener(guard(&mockOpener{session: sess}, resilience.BreakerOpts{FailThreshold: 2, Timeout: time.Minute}))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, _, err := s.FindByID(ctx, "x"); !errors.Is(err, fail) {
			t.Fatalf("call %d: expected stream failure, got %v", i, err)
		}
	}
	if _, err := s.Statistics(ctx); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestGuardReplaysRecords(t *testing.T) {
	sess := &mockSession{results: []*mockResult{newMockResult(
		nodeRecord("n", []string{"Schema"}, map[string]any{"id": "a"}),
		nodeRecord("n", []string{"Schema"}, map[string]any{"id": "b"}),
	)}}
	s := NewWithOpener(guard(&mockOpener{session: sess}, resilience.DefaultBreakerOpts))

	nodes, err := s.FindByLabel(context.Background(), "Schema")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(nodes) != 2 || nodes[0].ID != "a" || nodes[1].ID != "b" {
		t.Fatalf("unexpected nodes: %+v", nodes)
	}
}
