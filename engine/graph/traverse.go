package graph

import (
	"cmp"
	"context"
	"slices"
)

// hop is one outgoing relationship together with the node it leads to.
type hop struct {
	rel Relationship
	to  Node
}

// expandFunc returns the outgoing hops of the given nodes, restricted to
// types when non-empty.
type expandFunc func(ctx context.Context, ids []string, types []RelType) ([]hop, error)

// clampDepth bounds a caller-supplied traversal depth.
func clampDepth(d int) int {
	if d < 0 {
		return 0
	}
	if d > MaxTraversalDepth {
		return MaxTraversalDepth
	}
	return d
}

// breadthFirst is the traversal both stores share. Each frontier is
// expanded in one call and its hops are ordered by (start, type, end), so
// the first path to reach a node is the same on every backend. A node is
// visited at most once.
func breadthFirst(ctx context.Context, start Node, maxDepth int, types []RelType, expand expandFunc) (TraversalResult, error) {
	maxDepth = clampDepth(maxDepth)

	res := TraversalResult{
		Nodes:         []Node{start},
		Relationships: []Relationship{},
		Paths: map[string]Path{
			start.ID: {NodeIDs: []string{start.ID}, RelTypes: []RelType{}},
		},
	}
	seenRels := make(map[string]bool)
	frontier := []string{start.ID}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return TraversalResult{}, err
		}
		hops, err := expand(ctx, frontier, types)
		if err != nil {
			return TraversalResult{}, err
		}
		order := make(map[string]int, len(frontier))
		for i, id := range frontier {
			order[id] = i
		}
		slices.SortFunc(hops, func(a, b hop) int {
			return cmp.Or(
				cmp.Compare(order[a.rel.StartID], order[b.rel.StartID]),
				cmp.Compare(a.rel.Type, b.rel.Type),
				cmp.Compare(a.rel.EndID, b.rel.EndID),
			)
		})

		var next []string
		for _, h := range hops {
			if !seenRels[h.rel.ID] {
				seenRels[h.rel.ID] = true
				res.Relationships = append(res.Relationships, h.rel)
			}
			if _, visited := res.Paths[h.to.ID]; visited {
				continue
			}
			from := res.Paths[h.rel.StartID]
			res.Paths[h.to.ID] = Path{
				NodeIDs:  append(slices.Clone(from.NodeIDs), h.to.ID),
				RelTypes: append(slices.Clone(from.RelTypes), h.rel.Type),
			}
			res.Nodes = append(res.Nodes, h.to)
			next = append(next, h.to.ID)
		}
		frontier = next
	}
	return res, nil
}

// emptyTraversal is returned when the start node does not exist.
func emptyTraversal() TraversalResult {
	return TraversalResult{
		Nodes:         []Node{},
		Relationships: []Relationship{},
		Paths:         map[string]Path{},
	}
}
