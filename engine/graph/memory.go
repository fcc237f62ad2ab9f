package graph

import (
	"context"
	"fmt"
	"slices"
	"sort"
)

// MemoryStore is the in-process Store. It holds the reference semantics
// Neo4jStore's queries are written to match.
//
// The maps are owned by the store and written only through its methods.
// There is no locking: a single writer (the indexer) is assumed, and
// concurrent reads are safe only while no write is in progress.
type MemoryStore struct {
	nodes map[string]*Node
	rels  map[string]*Relationship
	out   map[string][]string // node id -> outgoing relationship ids
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{}
	m.reset()
	return m
}

func (m *MemoryStore) reset() {
	m.nodes = make(map[string]*Node)
	m.rels = make(map[string]*Relationship)
	m.out = make(map[string][]string)
}

// Persistent is always false for the memory store.
func (m *MemoryStore) Persistent() bool { return false }

func (m *MemoryStore) MergeNode(_ context.Context, id string, labels []string, props map[string]any) (Node, error) {
	if id == "" {
		return Node{}, ErrEmptyID
	}
	if err := validateLabels(labels); err != nil {
		return Node{}, err
	}
	n, ok := m.nodes[id]
	if !ok {
		n = &Node{ID: id, Properties: map[string]any{}}
		m.nodes[id] = n
	}
	for _, l := range labels {
		if !slices.Contains(n.Labels, l) {
			n.Labels = append(n.Labels, l)
		}
	}
	mergeProps(n.Properties, normalizeProps(props))
	return copyNode(n), nil
}

func (m *MemoryStore) MergeRelationship(_ context.Context, startID, endID string, typ RelType, props map[string]any) (Relationship, error) {
	if startID == "" || endID == "" {
		return Relationship{}, ErrEmptyID
	}
	if err := validateRelType(typ); err != nil {
		return Relationship{}, err
	}
	if _, ok := m.nodes[startID]; !ok {
		return Relationship{}, notFound(startID)
	}
	if _, ok := m.nodes[endID]; !ok {
		return Relationship{}, notFound(endID)
	}
	id := relationshipID(startID, typ, endID)
	r, ok := m.rels[id]
	if !ok {
		r = &Relationship{ID: id, StartID: startID, EndID: endID, Type: typ, Properties: map[string]any{}}
		m.rels[id] = r
		m.out[startID] = append(m.out[startID], id)
	}
	mergeProps(r.Properties, normalizeProps(props))
	return copyRel(r), nil
}

func (m *MemoryStore) FindByID(_ context.Context, id string) (Node, bool, error) {
	n, ok := m.nodes[id]
	if !ok {
		return Node{}, false, nil
	}
	return copyNode(n), true, nil
}

func (m *MemoryStore) FindByLabel(_ context.Context, label string) ([]Node, error) {
	if !validIdentifier(label) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	out := []Node{}
	for _, n := range m.nodes {
		if n.HasLabel(label) {
			out = append(out, copyNode(n))
		}
	}
	sortNodes(out)
	return out, nil
}

func (m *MemoryStore) Traverse(ctx context.Context, startID string, maxDepth int, types ...RelType) (TraversalResult, error) {
	start, ok := m.nodes[startID]
	if !ok {
		return emptyTraversal(), nil
	}
	return breadthFirst(ctx, copyNode(start), maxDepth, types, m.expand)
}

// expand returns the outgoing hops of ids.
func (m *MemoryStore) expand(_ context.Context, ids []string, types []RelType) ([]hop, error) {
	var hops []hop
	for _, id := range ids {
		for _, rid := range m.out[id] {
			r := m.rels[rid]
			if len(types) > 0 && !slices.Contains(types, r.Type) {
				continue
			}
			hops = append(hops, hop{rel: copyRel(r), to: copyNode(m.nodes[r.EndID])})
		}
	}
	return hops, nil
}

func (m *MemoryStore) SearchByPattern(_ context.Context, label string, pattern map[string]any, limit int) (SearchResult, error) {
	if !validIdentifier(label) {
		return SearchResult{}, fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	ms, err := compilePattern(pattern)
	if err != nil {
		return SearchResult{}, err
	}
	limit = clampLimit(limit)

	var all []Node
	for _, n := range m.nodes {
		if n.HasLabel(label) && matchAll(ms, *n) {
			all = append(all, *n)
		}
	}
	sortNodes(all)

	res := SearchResult{Matches: []Node{}, TotalMatches: len(all)}
	for i := 0; i < len(all) && i < limit; i++ {
		res.Matches = append(res.Matches, copyNode(&all[i]))
	}
	return res, nil
}

func (m *MemoryStore) Statistics(_ context.Context) (Statistics, error) {
	byLabel := make(map[string]int64)
	var schemaProps int64
	for _, n := range m.nodes {
		for _, l := range n.Labels {
			byLabel[l]++
		}
		if n.HasLabel(string(NodeSchema)) {
			schemaProps += int64(len(StringsProp(n.Properties, "properties")))
		}
	}
	byType := make(map[string]int64)
	for _, r := range m.rels {
		byType[string(r.Type)]++
	}
	return buildStatistics(int64(len(m.nodes)), int64(len(m.rels)), schemaProps, byLabel, byType), nil
}

// ClearAll swaps in empty maps, so readers never observe a partially
// cleared graph.
func (m *MemoryStore) ClearAll(_ context.Context) error {
	m.reset()
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close(_ context.Context) error { return nil }

func copyNode(n *Node) Node {
	labels := slices.Clone(n.Labels)
	slices.Sort(labels)
	return Node{
		ID:         n.ID,
		Labels:     labels,
		Properties: cloneProps(n.Properties),
	}
}

func copyRel(r *Relationship) Relationship {
	c := *r
	c.Properties = cloneProps(r.Properties)
	return c
}

func sortNodes(nodes []Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
}
