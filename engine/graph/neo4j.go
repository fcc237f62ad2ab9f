package graph

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/WessleyAI/specgraph/engine/graph")

// nodeLabel is carried by every node the store writes, so lookups by id
// hit a single uniqueness constraint whatever the node type. It is never
// reported back to callers.
const nodeLabel = "SpecNode"

// Neo4jStore is the Store backed by a Neo4j database. Every operation runs
// in its own session; writes run in a single managed transaction scoped to
// that operation.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
	opener SessionOpener
	logger *slog.Logger
}

// NewNeo4jStore creates a store on an already connected driver. database
// may be empty to use the server default.
func NewNeo4jStore(driver neo4j.DriverWithContext, database string) *Neo4jStore {
	return &Neo4jStore{
		driver: driver,
		opener: &driverOpener{driver: driver, database: database},
		logger: slog.Default(),
	}
}

// NewWithOpener creates a store that opens sessions through opener.
func NewWithOpener(opener SessionOpener) *Neo4jStore {
	return &Neo4jStore{opener: opener, logger: slog.Default()}
}

// Persistent is always true for the Neo4j store.
func (s *Neo4jStore) Persistent() bool { return true }

// EnsureConstraints provisions the id uniqueness constraint plus lookup
// indexes for endpoints and schemas. Failures are logged; existing
// constraints are not an error.
func (s *Neo4jStore) EnsureConstraints(ctx context.Context) {
	stmts := []string{
		"CREATE CONSTRAINT specgraph_node_id IF NOT EXISTS FOR (n:" + nodeLabel + ") REQUIRE n.id IS UNIQUE",
		"CREATE INDEX specgraph_endpoint_route IF NOT EXISTS FOR (n:Endpoint) ON (n.path, n.method)",
		"CREATE INDEX specgraph_schema_name IF NOT EXISTS FOR (n:Schema) ON (n.name)",
	}

	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	for _, stmt := range stmts {
		if _, err := sess.Run(ctx, stmt, nil); err != nil {
			s.logger.Debug("graph: constraint not applied", "statement", stmt, "error", err)
		}
	}
}

func (s *Neo4jStore) MergeNode(ctx context.Context, id string, labels []string, props map[string]any) (n Node, err error) {
	ctx, span := tracer.Start(ctx, "graph.MergeNode")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("graph.node_id", id))

	if id == "" {
		return Node{}, ErrEmptyID
	}
	if err := validateLabels(labels); err != nil {
		return Node{}, err
	}
	cypher := fmt.Sprintf("MERGE (n:%s {id: $id}) SET n:%s, n += $props RETURN n",
		nodeLabel, strings.Join(labels, ":"))
	params := map[string]any{"id": id, "props": normalizeProps(props)}

	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	out, err := sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			if err := res.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("merge %s: no node returned", id)
		}
		return nodeFromRecord(res.Record(), "n")
	})
	if err != nil {
		return Node{}, fmt.Errorf("merge node %s: %w", id, err)
	}
	return out.(Node), nil
}

func (s *Neo4jStore) MergeRelationship(ctx context.Context, startID, endID string, typ RelType, props map[string]any) (r Relationship, err error) {
	ctx, span := tracer.Start(ctx, "graph.MergeRelationship")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(
		attribute.String("graph.start_id", startID),
		attribute.String("graph.end_id", endID),
		attribute.String("graph.rel_type", string(typ)),
	)

	if startID == "" || endID == "" {
		return Relationship{}, ErrEmptyID
	}
	if err := validateRelType(typ); err != nil {
		return Relationship{}, err
	}
	cypher := fmt.Sprintf(
		`MATCH (a:%[1]s {id: $start})
		 MATCH (b:%[1]s {id: $end})
		 MERGE (a)-[r:%[2]s]->(b)
		 SET r += $props
		 RETURN properties(r) AS props`, nodeLabel, typ)
	params := map[string]any{"start": startID, "end": endID, "props": normalizeProps(props)}

	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	out, err := sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			if err := res.Err(); err != nil {
				return nil, err
			}
			return nil, notFound(startID + " or " + endID)
		}
		raw, _ := res.Record().Get("props")
		rp, _ := raw.(map[string]any)
		return rp, nil
	})
	if err != nil {
		return Relationship{}, fmt.Errorf("merge relationship %s: %w", relationshipID(startID, typ, endID), err)
	}
	return Relationship{
		ID:         relationshipID(startID, typ, endID),
		StartID:    startID,
		EndID:      endID,
		Type:       typ,
		Properties: normalizeProps(out.(map[string]any)),
	}, nil
}

func (s *Neo4jStore) FindByID(ctx context.Context, id string) (n Node, ok bool, err error) {
	ctx, span := tracer.Start(ctx, "graph.FindByID")
	defer func() { endSpan(span, err) }()

	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, "MATCH (n:"+nodeLabel+" {id: $id}) RETURN n LIMIT 1", map[string]any{"id": id})
	if err != nil {
		return Node{}, false, err
	}
	if !res.Next(ctx) {
		return Node{}, false, res.Err()
	}
	n, err = nodeFromRecord(res.Record(), "n")
	if err != nil {
		return Node{}, false, err
	}
	return n, true, nil
}

func (s *Neo4jStore) FindByLabel(ctx context.Context, label string) (nodes []Node, err error) {
	ctx, span := tracer.Start(ctx, "graph.FindByLabel")
	defer func() { endSpan(span, err) }()

	if !validIdentifier(label) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, fmt.Sprintf("MATCH (n:%s) RETURN n ORDER BY n.id", label), nil)
	if err != nil {
		return nil, err
	}
	return collectNodes(ctx, res)
}

func (s *Neo4jStore) Traverse(ctx context.Context, startID string, maxDepth int, types ...RelType) (tr TraversalResult, err error) {
	ctx, span := tracer.Start(ctx, "graph.Traverse")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("graph.start_id", startID), attribute.Int("graph.max_depth", maxDepth))

	start, ok, err := s.FindByID(ctx, startID)
	if err != nil {
		return TraversalResult{}, err
	}
	if !ok {
		return emptyTraversal(), nil
	}
	return breadthFirst(ctx, start, maxDepth, types, s.expand)
}

// expand fetches one BFS frontier's outgoing hops in a single query.
func (s *Neo4jStore) expand(ctx context.Context, ids []string, types []RelType) ([]hop, error) {
	typeNames := make([]string, len(types))
	for i, t := range types {
		typeNames[i] = string(t)
	}
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (a:` + nodeLabel + `)-[r]->(b)
		WHERE a.id IN $ids AND (size($types) = 0 OR type(r) IN $types)
		RETURN a.id AS start, type(r) AS type, properties(r) AS props, b AS n`
	res, err := sess.Run(ctx, cypher, map[string]any{"ids": ids, "types": typeNames})
	if err != nil {
		return nil, err
	}
	var hops []hop
	for res.Next(ctx) {
		rec := res.Record()
		to, err := nodeFromRecord(rec, "n")
		if err != nil {
			return nil, err
		}
		startRaw, _ := rec.Get("start")
		typeRaw, _ := rec.Get("type")
		propsRaw, _ := rec.Get("props")
		startID, _ := startRaw.(string)
		typName, _ := typeRaw.(string)
		rp, _ := propsRaw.(map[string]any)
		typ := RelType(typName)
		hops = append(hops, hop{
			rel: Relationship{
				ID:         relationshipID(startID, typ, to.ID),
				StartID:    startID,
				EndID:      to.ID,
				Type:       typ,
				Properties: normalizeProps(rp),
			},
			to: to,
		})
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return hops, nil
}

func (s *Neo4jStore) SearchByPattern(ctx context.Context, label string, pattern map[string]any, limit int) (sr SearchResult, err error) {
	ctx, span := tracer.Start(ctx, "graph.SearchByPattern")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("graph.label", label))

	if !validIdentifier(label) {
		return SearchResult{}, fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	cypher, params, err := patternQuery(label, pattern, clampLimit(limit))
	if err != nil {
		return SearchResult{}, err
	}

	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	res, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return SearchResult{}, err
	}
	sr = SearchResult{Matches: []Node{}}
	if !res.Next(ctx) {
		if err := res.Err(); err != nil {
			return SearchResult{}, err
		}
		return sr, nil
	}
	rec := res.Record()
	total, _ := rec.Get("total")
	if t, ok := total.(int64); ok {
		sr.TotalMatches = int(t)
	}
	raw, _ := rec.Get("nodes")
	list, _ := raw.([]any)
	for _, item := range list {
		node, ok := item.(dbtype.Node)
		if !ok {
			continue
		}
		sr.Matches = append(sr.Matches, nodeFromDB(node))
	}
	return sr, nil
}

// patternQuery translates a property pattern into Cypher with the same
// semantics as compilePattern/matchAll.
func patternQuery(label string, pattern map[string]any, limit int) (string, map[string]any, error) {
	ms, err := compilePattern(pattern)
	if err != nil {
		return "", nil, err
	}
	params := map[string]any{"limit": int64(limit)}
	conds := make([]string, 0, len(ms))
	for i, m := range ms {
		p := fmt.Sprintf("p%d", i)
		if m.re != nil {
			conds = append(conds, fmt.Sprintf("n.%s =~ $%s", m.key, p))
			params[p] = cypherRegex(m.expr)
			continue
		}
		v, ok := normalizeValue(m.exact)
		if !ok || v == nil {
			// Unsupported or null values never match, as in matchAll.
			conds = append(conds, "false")
			continue
		}
		conds = append(conds, fmt.Sprintf("n.%s = $%s", m.key, p))
		params[p] = v
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	cypher := fmt.Sprintf(`MATCH (n:%s)%s
		WITH n ORDER BY n.id
		WITH collect(n) AS matches
		RETURN size(matches) AS total, matches[0..$limit] AS nodes`, label, where)
	return cypher, params, nil
}

func (s *Neo4jStore) Statistics(ctx context.Context) (st Statistics, err error) {
	ctx, span := tracer.Start(ctx, "graph.Statistics")
	defer func() { endSpan(span, err) }()

	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	nodes, err := countQuery(ctx, sess, "MATCH (n) RETURN count(n) AS count")
	if err != nil {
		return Statistics{}, err
	}
	rels, err := countQuery(ctx, sess, "MATCH ()-[r]->() RETURN count(r) AS count")
	if err != nil {
		return Statistics{}, err
	}
	byLabel, err := groupedCounts(ctx, sess,
		"MATCH (n) UNWIND labels(n) AS k WITH k WHERE k <> '"+nodeLabel+"' RETURN k, count(*) AS count")
	if err != nil {
		return Statistics{}, err
	}
	byType, err := groupedCounts(ctx, sess, "MATCH ()-[r]->() RETURN type(r) AS k, count(*) AS count")
	if err != nil {
		return Statistics{}, err
	}
	props, err := countQuery(ctx, sess, "MATCH (n:Schema) RETURN coalesce(sum(size(n.properties)), 0) AS count")
	if err != nil {
		return Statistics{}, err
	}
	return buildStatistics(nodes, rels, props, byLabel, byType), nil
}

// ClearAll deletes everything in one transaction.
func (s *Neo4jStore) ClearAll(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "graph.ClearAll")
	defer func() { endSpan(span, err) }()

	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	_, err = sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		_, err := tx.Run(ctx, "MATCH (n) DETACH DELETE n", nil)
		return nil, err
	})
	return err
}

// Close closes the driver. It is safe on a store built with NewWithOpener.
func (s *Neo4jStore) Close(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Close(ctx)
}

func countQuery(ctx context.Context, r CypherRunner, cypher string) (int64, error) {
	res, err := r.Run(ctx, cypher, nil)
	if err != nil {
		return 0, err
	}
	if !res.Next(ctx) {
		return 0, res.Err()
	}
	v, _ := res.Record().Get("count")
	c, _ := v.(int64)
	return c, nil
}

func groupedCounts(ctx context.Context, r CypherRunner, cypher string) (map[string]int64, error) {
	res, err := r.Run(ctx, cypher, nil)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	for res.Next(ctx) {
		rec := res.Record()
		key, _ := rec.Get("k")
		cnt, _ := rec.Get("count")
		if k, ok := key.(string); ok {
			if c, ok := cnt.(int64); ok {
				counts[k] = c
			}
		}
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

func collectNodes(ctx context.Context, res CypherResult) ([]Node, error) {
	nodes := []Node{}
	for res.Next(ctx) {
		n, err := nodeFromRecord(res.Record(), "n")
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return nodes, nil
}

func nodeFromRecord(rec *neo4j.Record, key string) (Node, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, key)
	if err != nil {
		return Node{}, err
	}
	return nodeFromDB(node), nil
}

// nodeFromDB converts a driver node, moving the id property into Node.ID.
func nodeFromDB(node dbtype.Node) Node {
	labels := slices.DeleteFunc(slices.Clone(node.Labels), func(l string) bool { return l == nodeLabel })
	slices.Sort(labels)
	return Node{
		ID:         strProp(node.Props, "id"),
		Labels:     labels,
		Properties: normalizeProps(node.Props),
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
