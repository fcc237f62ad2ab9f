// Package graph provides the typed node/relationship graph that API
// specifications are indexed into, with a Neo4j-backed store and an
// in-memory store that behave identically.
package graph

// NodeType is the primary label of a node.
type NodeType string

const (
	NodeSpecification NodeType = "Specification"
	NodeEndpoint      NodeType = "Endpoint"
	NodeSchema        NodeType = "Schema"
	NodeParameter     NodeType = "Parameter"
	NodeResponse      NodeType = "Response"
	NodeTag           NodeType = "Tag"
)

// NodeTypes lists every node label in the vocabulary.
var NodeTypes = []NodeType{
	NodeSpecification, NodeEndpoint, NodeSchema, NodeParameter, NodeResponse, NodeTag,
}

// Valid reports whether t is part of the vocabulary.
func (t NodeType) Valid() bool {
	for _, nt := range NodeTypes {
		if nt == t {
			return true
		}
	}
	return false
}

// RelType is the type of a directed relationship.
type RelType string

const (
	RelDefinesEndpoint RelType = "DEFINES_ENDPOINT" // Specification -> Endpoint
	RelDefinesSchema   RelType = "DEFINES_SCHEMA"   // Specification -> Schema
	RelHasParameter    RelType = "HAS_PARAMETER"    // Endpoint -> Parameter
	RelHasResponse     RelType = "HAS_RESPONSE"     // Endpoint -> Response
	RelUsesSchema      RelType = "USES_SCHEMA"      // Endpoint|Parameter|Response -> Schema
	RelReferences      RelType = "REFERENCES"       // Schema -> Schema
	RelTaggedWith      RelType = "TAGGED_WITH"      // Endpoint -> Tag
	RelHasProperty     RelType = "HAS_PROPERTY"     // Schema -> property; reserved, see Statistics
)

// RelTypes lists every relationship type in the vocabulary.
var RelTypes = []RelType{
	RelDefinesEndpoint, RelDefinesSchema, RelHasParameter, RelHasResponse,
	RelUsesSchema, RelReferences, RelTaggedWith, RelHasProperty,
}

// Valid reports whether t is part of the vocabulary.
func (t RelType) Valid() bool {
	for _, rt := range RelTypes {
		if rt == t {
			return true
		}
	}
	return false
}

// USES_SCHEMA context values.
const (
	ContextRequest  = "request"
	ContextResponse = "response"
)

// Node is a labeled entity with a property bag. The id is never part of
// Properties.
type Node struct {
	ID         string         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
}

// HasLabel reports whether the node carries label.
func (n Node) HasLabel(label string) bool {
	for _, l := range n.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// String returns a string property, or "" if absent or not a string.
func (n Node) String(key string) string {
	return strProp(n.Properties, key)
}

// Relationship is a directed, typed edge between two nodes. It is unique
// per (StartID, Type, EndID).
type Relationship struct {
	ID         string         `json:"id"`
	StartID    string         `json:"startId"`
	EndID      string         `json:"endId"`
	Type       RelType        `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// relationshipID is the identity of the (start, type, end) triple.
func relationshipID(startID string, typ RelType, endID string) string {
	return startID + "-[" + string(typ) + "]->" + endID
}

// Path is the hop sequence a traversal used to first reach a node.
type Path struct {
	NodeIDs  []string  `json:"nodeIds"`
	RelTypes []RelType `json:"relationshipTypes"`
}

// Depth is the number of hops in the path.
func (p Path) Depth() int { return len(p.RelTypes) }

// TraversalResult holds everything a breadth-first traversal visited.
// Nodes are in discovery order; Paths is keyed by node id.
type TraversalResult struct {
	Nodes         []Node          `json:"nodes"`
	Relationships []Relationship  `json:"relationships"`
	Paths         map[string]Path `json:"paths"`
}

// SearchResult holds pattern search matches ordered by node id.
// TotalMatches counts every match, including those cut by the limit.
type SearchResult struct {
	Matches      []Node `json:"matches"`
	TotalMatches int    `json:"totalMatches"`
}

// Statistics summarizes the graph contents.
type Statistics struct {
	NodeCount                int64            `json:"nodeCount"`
	RelationshipCount        int64            `json:"relationshipCount"`
	NodesByLabel             map[string]int64 `json:"nodesByLabel"`
	RelationshipsByType      map[string]int64 `json:"relationshipsByType"`
	SpecificationCount       int64            `json:"specificationCount"`
	EndpointCount            int64            `json:"endpointCount"`
	SchemaCount              int64            `json:"schemaCount"`
	AvgParametersPerEndpoint float64          `json:"avgParametersPerEndpoint"`
	AvgPropertiesPerSchema   float64          `json:"avgPropertiesPerSchema"`
}

// buildStatistics derives the convenience counts and ratios from the
// grouped counts. Both stores report through it. Schema properties are not
// separate nodes, so schemaProps counts the names in each Schema's
// properties list together with any explicit HAS_PROPERTY edges.
func buildStatistics(nodes, rels, schemaProps int64, byLabel, byType map[string]int64) Statistics {
	if byLabel == nil {
		byLabel = map[string]int64{}
	}
	if byType == nil {
		byType = map[string]int64{}
	}
	s := Statistics{
		NodeCount:           nodes,
		RelationshipCount:   rels,
		NodesByLabel:        byLabel,
		RelationshipsByType: byType,
		SpecificationCount:  byLabel[string(NodeSpecification)],
		EndpointCount:       byLabel[string(NodeEndpoint)],
		SchemaCount:         byLabel[string(NodeSchema)],
	}
	s.AvgParametersPerEndpoint = ratio(byType[string(RelHasParameter)], s.EndpointCount)
	s.AvgPropertiesPerSchema = ratio(schemaProps+byType[string(RelHasProperty)], s.SchemaCount)
	return s
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
