// Package graph holds the verified dependency graph: typed nodes joined by
// evidence-backed edges, and the deterministic merge of several graphs.
package graph

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"depverify/internal/errors"
	"depverify/internal/evidence"
	"depverify/internal/scoring"
)

// Node is a typed entity. Two nodes with the same ID are the same entity.
type Node struct {
	ID    string                 `json:"id"`
	Type  evidence.NodeType      `json:"type"`
	Name  string                 `json:"name"`
	Attrs map[string]interface{} `json:"attrs,omitempty"`
}

// Edge is a typed relationship backed by at least one evidence item.
type Edge struct {
	From       string              `json:"from"`
	To         string              `json:"to"`
	Type       evidence.Predicate  `json:"type"`
	Evidence   []evidence.Evidence `json:"evidence"`
	Confidence float64             `json:"confidence"`
}

// Key returns the identity of the edge.
func (e Edge) Key() EdgeKey {
	return EdgeKey{From: e.From, To: e.To, Type: e.Type}
}

// EdgeKey identifies an edge by its endpoints and type.
type EdgeKey struct {
	From string
	To   string
	Type evidence.Predicate
}

func (k EdgeKey) String() string {
	return fmt.Sprintf("%s -%s-> %s", k.From, k.Type, k.To)
}

func (k EdgeKey) less(o EdgeKey) bool {
	if k.From != o.From {
		return k.From < o.From
	}
	if k.To != o.To {
		return k.To < o.To
	}
	return k.Type < o.Type
}

// Graph is the serialized form of a dependency graph.
// Nodes are sorted by ID and edges by (from, to, type).
type Graph struct {
	Nodes         []Node `json:"nodes"`
	Edges         []Edge `json:"edges"`
	SchemaVersion string `json:"schemaVersion"`
}

// New returns an empty graph at the current schema version.
func New() *Graph {
	return &Graph{
		Nodes:         []Node{},
		Edges:         []Edge{},
		SchemaVersion: SchemaVersion,
	}
}

// NodeID derives the stable id of a node from its type and name.
// Names are trimmed, lower-cased and have inner whitespace collapsed.
func NodeID(t evidence.NodeType, name string) string {
	return string(t) + ":" + CanonicalName(name)
}

// CanonicalName is the case- and whitespace-insensitive form of a name.
func CanonicalName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	i := sort.Search(len(g.Nodes), func(i int) bool { return g.Nodes[i].ID >= id })
	if i < len(g.Nodes) && g.Nodes[i].ID == id {
		return g.Nodes[i], true
	}
	// Fall back for graphs that were not sorted.
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Edge returns the edge with the given key.
func (g *Graph) Edge(key EdgeKey) (Edge, bool) {
	for _, e := range g.Edges {
		if e.Key() == key {
			return e, true
		}
	}
	return Edge{}, false
}

// Clone returns a deep copy of g.
func (g *Graph) Clone() *Graph {
	if g == nil {
		return nil
	}
	out := &Graph{
		Nodes:         make([]Node, len(g.Nodes)),
		Edges:         make([]Edge, len(g.Edges)),
		SchemaVersion: g.SchemaVersion,
	}
	for i, n := range g.Nodes {
		n.Attrs = copyAttrs(n.Attrs)
		out.Nodes[i] = n
	}
	for i, e := range g.Edges {
		e.Evidence = append([]evidence.Evidence(nil), e.Evidence...)
		out.Edges[i] = e
	}
	return out
}

// confidenceTolerance absorbs float formatting when a graph is read back.
const confidenceTolerance = 1e-9

// Validate checks the structural invariants of a finished graph: unique
// node ids, unique edge keys, non-empty evidence on every edge and present
// endpoints. Each edge's confidence must equal the default score of its
// evidence, which is the value Merge would recompute.
func (g *Graph) Validate() error {
	if g == nil {
		return errors.New(errors.GraphInvalid, "graph is nil", nil)
	}

	var problems []string
	if _, err := Major(g.SchemaVersion); err != nil {
		problems = append(problems, err.Error())
	}

	ids := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		switch {
		case n.ID == "":
			problems = append(problems, "node without id")
		case ids[n.ID]:
			problems = append(problems, fmt.Sprintf("duplicate node %q", n.ID))
		}
		ids[n.ID] = true
	}

	keys := make(map[EdgeKey]bool, len(g.Edges))
	for _, e := range g.Edges {
		k := e.Key()
		if keys[k] {
			problems = append(problems, fmt.Sprintf("duplicate edge %s", k))
		}
		keys[k] = true
		if len(e.Evidence) == 0 {
			problems = append(problems, fmt.Sprintf("edge %s has no evidence", k))
		}
		if !ids[e.From] {
			problems = append(problems, fmt.Sprintf("edge %s references missing node %q", k, e.From))
		}
		if !ids[e.To] {
			problems = append(problems, fmt.Sprintf("edge %s references missing node %q", k, e.To))
		}
		if math.IsNaN(e.Confidence) || e.Confidence < 0 || e.Confidence > 1 {
			problems = append(problems, fmt.Sprintf("edge %s has confidence %v outside [0,1]", k, e.Confidence))
		} else if len(e.Evidence) > 0 {
			if want := scoring.Default().Score(e.Evidence).Confidence; math.Abs(e.Confidence-want) > confidenceTolerance {
				problems = append(problems, fmt.Sprintf("edge %s has confidence %v, its evidence scores %v", k, e.Confidence, want))
			}
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New(errors.GraphInvalid, problems[0], nil).
		WithDetails(map[string]interface{}{"problems": problems})
}

// sortGraph orders nodes and edges canonically in place.
func sortGraph(g *Graph) {
	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i].ID < g.Nodes[j].ID })
	sort.Slice(g.Edges, func(i, j int) bool { return g.Edges[i].Key().less(g.Edges[j].Key()) })
}
