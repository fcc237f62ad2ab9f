package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreSuite checks the Store contract. Every backend must pass it
// unchanged.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("merge node is idempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		n, err := s.MergeNode(ctx, "schema_pay_payment", []string{"Schema"}, map[string]any{"name": "Payment", "count": 3})
		require.NoError(t, err)
		assert.Equal(t, "schema_pay_payment", n.ID)
		assert.Equal(t, []string{"Schema"}, n.Labels)
		assert.Equal(t, int64(3), n.Properties["count"])
		assert.NotContains(t, n.Properties, "id")

		n, err = s.MergeNode(ctx, "schema_pay_payment", []string{"Schema"}, map[string]any{"type": "object", "count": nil})
		require.NoError(t, err)
		assert.Equal(t, "Payment", n.Properties["name"])
		assert.Equal(t, "object", n.Properties["type"])
		assert.NotContains(t, n.Properties, "count")

		st, err := s.Statistics(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), st.NodeCount)
	})

	t.Run("string lists round trip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.MergeNode(ctx, "schema_a", []string{"Schema"}, map[string]any{"required": []string{"id", "amount"}})
		require.NoError(t, err)
		n, ok, err := s.FindByID(ctx, "schema_a")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []string{"id", "amount"}, n.Properties["required"])
	})

	t.Run("relationship requires both nodes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.MergeNode(ctx, "a", []string{"Schema"}, nil)
		require.NoError(t, err)
		_, err = s.MergeRelationship(ctx, "a", "missing", RelReferences, nil)
		assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
		_, err = s.MergeRelationship(ctx, "missing", "a", RelReferences, nil)
		assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

		st, err := s.Statistics(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), st.RelationshipCount)
	})

	t.Run("merge relationship is idempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustNode(t, s, "a", "Schema")
		mustNode(t, s, "b", "Schema")

		r, err := s.MergeRelationship(ctx, "a", "b", RelReferences, map[string]any{"ref": "#/components/schemas/B"})
		require.NoError(t, err)
		assert.Equal(t, "a", r.StartID)
		assert.Equal(t, "b", r.EndID)
		assert.Equal(t, "#/components/schemas/B", r.Properties["ref"])

		_, err = s.MergeRelationship(ctx, "a", "b", RelReferences, map[string]any{"ref": "#/components/schemas/B"})
		require.NoError(t, err)
		_, err = s.MergeRelationship(ctx, "a", "b", RelUsesSchema, nil)
		require.NoError(t, err)

		st, err := s.Statistics(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), st.RelationshipCount)
		assert.Equal(t, int64(1), st.RelationshipsByType[string(RelReferences)])
	})

	t.Run("invalid vocabulary", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.MergeNode(ctx, "x", []string{"Bad Label"}, nil)
		assert.ErrorIs(t, err, ErrInvalidLabel)
		_, err = s.MergeNode(ctx, "", []string{"Schema"}, nil)
		assert.ErrorIs(t, err, ErrEmptyID)
		mustNode(t, s, "a", "Schema")
		_, err = s.MergeRelationship(ctx, "a", "a", RelType("bad-type"), nil)
		assert.ErrorIs(t, err, ErrInvalidRelationshipType)
	})

	t.Run("find by id and label", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustNode(t, s, "b", "Schema")
		mustNode(t, s, "a", "Schema")
		mustNode(t, s, "t", "Tag")

		_, ok, err := s.FindByID(ctx, "nope")
		require.NoError(t, err)
		assert.False(t, ok)

		nodes, err := s.FindByLabel(ctx, "Schema")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, ids(nodes))

		nodes, err = s.FindByLabel(ctx, "Response")
		require.NoError(t, err)
		assert.Empty(t, nodes)
	})

	t.Run("traverse", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		// a -> b -> c -> d, a -> c (shortcut), b -[TAGGED_WITH]-> t, d -> a (cycle)
		for _, id := range []string{"a", "b", "c", "d"} {
			mustNode(t, s, id, "Schema")
		}
		mustNode(t, s, "t", "Tag")
		mustRel(t, s, "a", "b", RelReferences)
		mustRel(t, s, "b", "c", RelReferences)
		mustRel(t, s, "c", "d", RelReferences)
		mustRel(t, s, "a", "c", RelReferences)
		mustRel(t, s, "b", "t", RelTaggedWith)
		mustRel(t, s, "d", "a", RelReferences)

		res, err := s.Traverse(ctx, "a", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, ids(res.Nodes))
		assert.Empty(t, res.Relationships)

		res, err = s.Traverse(ctx, "a", 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, ids(res.Nodes))
		assert.Equal(t, []string{"a", "c"}, res.Paths["c"].NodeIDs)

		res, err = s.Traverse(ctx, "a", 5)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c", "t", "d"}, ids(res.Nodes))
		assert.Equal(t, []string{"a", "c", "d"}, res.Paths["d"].NodeIDs)
		assert.Equal(t, []RelType{RelReferences, RelReferences}, res.Paths["d"].RelTypes)
		assert.Equal(t, 2, res.Paths["d"].Depth())
		assert.Len(t, res.Relationships, 6)

		res, err = s.Traverse(ctx, "a", 5, RelReferences)
		require.NoError(t, err)
		assert.NotContains(t, ids(res.Nodes), "t")

		res, err = s.Traverse(ctx, "missing", 3)
		require.NoError(t, err)
		assert.Empty(t, res.Nodes)
	})

	t.Run("traverse is monotonic in depth", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		chain := []string{"n0", "n1", "n2", "n3", "n4"}
		for _, id := range chain {
			mustNode(t, s, id, "Schema")
		}
		for i := 0; i+1 < len(chain); i++ {
			mustRel(t, s, chain[i], chain[i+1], RelReferences)
		}
		prev := map[string]bool{}
		for k := 0; k <= len(chain); k++ {
			res, err := s.Traverse(ctx, "n0", k)
			require.NoError(t, err)
			cur := map[string]bool{}
			for _, n := range res.Nodes {
				cur[n.ID] = true
			}
			for id := range prev {
				assert.True(t, cur[id], "depth %d lost %s", k, id)
			}
			prev = cur
		}
		assert.Len(t, prev, len(chain))
	})

	t.Run("search by pattern", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, name := range []string{"Account", "BankAccountInfo", "account_list", "Payment", "Acct"} {
			_, err := s.MergeNode(ctx, DeriveID("schema", "bank.yaml", name), []string{"Schema"},
				map[string]any{"name": name, "specFile": "bank.yaml"})
			require.NoError(t, err)
		}
		_, err := s.MergeNode(ctx, "tag_account", []string{"Tag"}, map[string]any{"name": "Account"})
		require.NoError(t, err)

		res, err := s.SearchByPattern(ctx, "Schema", map[string]any{"name": "*Account*"}, 10)
		require.NoError(t, err)
		assert.Equal(t, 3, res.TotalMatches)
		assert.ElementsMatch(t, []string{"Account", "BankAccountInfo", "account_list"}, names(res.Matches))

		res, err = s.SearchByPattern(ctx, "Schema", map[string]any{"name": "Account"}, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"Account"}, names(res.Matches))

		res, err = s.SearchByPattern(ctx, "Schema", map[string]any{"name": "acc*", "specFile": "bank.yaml"}, 1)
		require.NoError(t, err)
		assert.Equal(t, 2, res.TotalMatches)
		assert.Len(t, res.Matches, 1)

		res, err = s.SearchByPattern(ctx, "Schema", map[string]any{"name": "*Account*", "specFile": "other.yaml"}, 10)
		require.NoError(t, err)
		assert.Equal(t, 0, res.TotalMatches)
		assert.Empty(t, res.Matches)

		res, err = s.SearchByPattern(ctx, "Schema", map[string]any{"id": DeriveID("schema", "bank.yaml", "Payment")}, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"Payment"}, names(res.Matches))

		_, err = s.SearchByPattern(ctx, "Schema", map[string]any{"bad key": "x"}, 10)
		assert.ErrorIs(t, err, ErrInvalidPattern)
	})

	t.Run("statistics and clear", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustNode(t, s, "spec", "Specification")
		mustNode(t, s, "e1", "Endpoint")
		mustNode(t, s, "e2", "Endpoint")
		mustNode(t, s, "p1", "Parameter")
		mustNode(t, s, "p2", "Parameter")
		mustNode(t, s, "p3", "Parameter")
		mustRel(t, s, "spec", "e1", RelDefinesEndpoint)
		mustRel(t, s, "spec", "e2", RelDefinesEndpoint)
		mustRel(t, s, "e1", "p1", RelHasParameter)
		mustRel(t, s, "e1", "p2", RelHasParameter)
		mustRel(t, s, "e2", "p3", RelHasParameter)

		st, err := s.Statistics(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(6), st.NodeCount)
		assert.Equal(t, int64(5), st.RelationshipCount)
		assert.Equal(t, int64(1), st.SpecificationCount)
		assert.Equal(t, int64(2), st.EndpointCount)
		assert.Equal(t, int64(0), st.SchemaCount)
		assert.Equal(t, int64(3), st.NodesByLabel["Parameter"])
		assert.InDelta(t, 1.5, st.AvgParametersPerEndpoint, 1e-9)
		assert.Equal(t, 0.0, st.AvgPropertiesPerSchema)

		require.NoError(t, s.ClearAll(ctx))
		st, err = s.Statistics(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), st.NodeCount)
		assert.Equal(t, int64(0), st.RelationshipCount)
	})

	t.Run("properties per schema", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for id, props := range map[string][]string{"a": {"id", "name", "total"}, "b": {"id"}, "c": {}} {
			_, err := s.MergeNode(ctx, id, []string{"Schema"}, map[string]any{"name": id, "properties": props})
			require.NoError(t, err)
		}
		mustNode(t, s, "e", "Endpoint")

		st, err := s.Statistics(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), st.SchemaCount)
		assert.InDelta(t, 4.0/3.0, st.AvgPropertiesPerSchema, 1e-9)
		assert.NotContains(t, st.NodesByLabel, "SpecNode")
	})

	t.Run("wildcards cross line breaks", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		docs := map[string]string{
			"crlf":     "Lists payments.\r\nPaged by cursor.",
			"trailing": "Lists payments\n",
			"plain":    "Lists refunds",
		}
		for id, desc := range docs {
			_, err := s.MergeNode(ctx, id, []string{"Endpoint"}, map[string]any{"description": desc})
			require.NoError(t, err)
		}

		res, err := s.SearchByPattern(ctx, "Endpoint", map[string]any{"description": "lists*cursor*"}, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"crlf"}, ids(res.Matches))

		res, err = s.SearchByPattern(ctx, "Endpoint", map[string]any{"description": "*payments"}, 0)
		require.NoError(t, err)
		assert.Empty(t, res.Matches, "a trailing line break is part of the value")

		res, err = s.SearchByPattern(ctx, "Endpoint", map[string]any{"description": "Lists *"}, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"crlf", "plain", "trailing"}, ids(res.Matches))
	})
}

func mustNode(t *testing.T, s Store, id, label string) {
	t.Helper()
	_, err := s.MergeNode(context.Background(), id, []string{label}, map[string]any{"name": id})
	require.NoError(t, err)
}

func mustRel(t *testing.T, s Store, from, to string, typ RelType) {
	t.Helper()
	_, err := s.MergeRelationship(context.Background(), from, to, typ, nil)
	require.NoError(t, err)
}

func ids(nodes []Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func names(nodes []Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.String("name")
	}
	return out
}
