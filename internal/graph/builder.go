package graph

import (
	"fmt"
	"strings"

	"depverify/internal/errors"
	"depverify/internal/evidence"
	"depverify/internal/scoring"
)

// Builder folds verified claims and existing graphs into one Graph.
// It is a single-writer accumulator and is not safe for concurrent use.
type Builder struct {
	nodes         map[string]Node
	edges         map[EdgeKey]Edge
	schemaVersion string
	scorer        scoring.Scorer
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithScorer sets the scorer used to recompute edge confidence.
func WithScorer(s scoring.Scorer) BuilderOption {
	return func(b *Builder) {
		if s != nil {
			b.scorer = s
		}
	}
}

// WithSchemaVersion sets the schema version of the built graph.
func WithSchemaVersion(v string) BuilderOption {
	return func(b *Builder) {
		if v != "" {
			b.schemaVersion = v
		}
	}
}

// NewBuilder returns an empty builder.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		nodes:         make(map[string]Node),
		edges:         make(map[EdgeKey]Edge),
		schemaVersion: SchemaVersion,
		scorer:        scoring.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddNode inserts n or merges it into the node with the same id.
// On an attribute conflict the builder is left unchanged.
func (b *Builder) AddNode(n Node) error {
	merged, err := b.mergedNode(n)
	if err != nil {
		return err
	}
	b.nodes[merged.ID] = merged
	return nil
}

func (b *Builder) mergedNode(n Node) (Node, error) {
	if n.ID == "" {
		if n.Type == "" || strings.TrimSpace(n.Name) == "" {
			return Node{}, errors.New(errors.GraphInvalid, "node needs an id or a type and name", nil)
		}
		n.ID = NodeID(n.Type, n.Name)
	}
	n.Name = strings.TrimSpace(n.Name)
	n.Attrs = normalizeAttrs(n.Attrs)

	existing, ok := b.nodes[n.ID]
	if !ok {
		return n, nil
	}
	attrs, err := mergeAttrs(n.ID, existing.Attrs, n.Attrs)
	if err != nil {
		return Node{}, err
	}
	if existing.Type != n.Type {
		return Node{}, errors.New(errors.AttributeConflict,
			fmt.Sprintf("node %s: type %q conflicts with %q", n.ID, existing.Type, n.Type), nil).
			WithDetails(AttrConflict{Node: n.ID, Attribute: "type", Left: string(existing.Type), Right: string(n.Type)})
	}
	return Node{
		ID:    n.ID,
		Type:  n.Type,
		Name:  smallerName(existing.Name, n.Name),
		Attrs: attrs,
	}, nil
}

// AddEdge inserts e or unions its evidence into the existing edge with the
// same key. Confidence is always recomputed from the unioned evidence.
func (b *Builder) AddEdge(e Edge) error {
	if len(e.Evidence) == 0 {
		return errors.New(errors.EvidenceInvariantViolation,
			fmt.Sprintf("edge %s has no evidence", e.Key()), nil)
	}
	if _, ok := b.nodes[e.From]; !ok {
		return errors.New(errors.GraphInvalid, fmt.Sprintf("edge %s references missing node %q", e.Key(), e.From), nil)
	}
	if _, ok := b.nodes[e.To]; !ok {
		return errors.New(errors.GraphInvalid, fmt.Sprintf("edge %s references missing node %q", e.Key(), e.To), nil)
	}

	key := e.Key()
	items := evidence.Union(b.edges[key].Evidence, e.Evidence)
	b.edges[key] = Edge{
		From:       e.From,
		To:         e.To,
		Type:       e.Type,
		Evidence:   items,
		Confidence: b.scorer.Score(items).Confidence,
	}
	return nil
}

// AddClaim adds the subject and object nodes of a verified claim and the
// edge between them. items must be non-empty. Nothing is changed when
// any part fails.
func (b *Builder) AddClaim(c evidence.Claim, items []evidence.Evidence) error {
	if len(items) == 0 {
		return errors.New(errors.EvidenceInvariantViolation,
			fmt.Sprintf("claim %q has no evidence and cannot produce an edge", c.Key()), nil)
	}
	subjectType, objectType := c.Types()
	subject := Node{Type: subjectType, Name: c.Subject, Attrs: c.SubjectAttrs}
	object := Node{Type: objectType, Name: c.Object, Attrs: c.ObjectAttrs}

	mergedSubject, err := b.mergedNode(subject)
	if err != nil {
		return err
	}

	// Merge the object against the staged subject for self-referencing claims.
	staged := b.nodes[mergedSubject.ID]
	b.nodes[mergedSubject.ID] = mergedSubject
	mergedObject, err := b.mergedNode(object)
	if err != nil {
		b.restore(mergedSubject.ID, staged)
		return err
	}
	stagedObject := b.nodes[mergedObject.ID]
	b.nodes[mergedObject.ID] = mergedObject

	if err := b.AddEdge(Edge{From: mergedSubject.ID, To: mergedObject.ID, Type: c.Predicate, Evidence: items}); err != nil {
		b.restore(mergedObject.ID, stagedObject)
		b.restore(mergedSubject.ID, staged)
		return err
	}
	return nil
}

func (b *Builder) restore(id string, previous Node) {
	if previous.ID == "" {
		delete(b.nodes, id)
		return
	}
	b.nodes[id] = previous
}

// AddGraph folds every node and edge of g into the builder. The schema
// version must be compatible with the builder's; the higher one is kept.
// g is not modified. On error the builder may hold part of g.
func (b *Builder) AddGraph(g *Graph) error {
	if g == nil {
		return nil
	}
	if err := CheckCompatibility(b.schemaVersion, g.SchemaVersion).Err(); err != nil {
		return err
	}
	src := g.Clone()
	for _, n := range src.Nodes {
		if err := b.AddNode(n); err != nil {
			return err
		}
	}
	for _, e := range src.Edges {
		if err := b.AddEdge(e); err != nil {
			return err
		}
	}
	b.schemaVersion = HigherVersion(b.schemaVersion, g.SchemaVersion)
	return nil
}

// Len returns the number of nodes and edges accumulated so far.
func (b *Builder) Len() (nodes, edges int) {
	return len(b.nodes), len(b.edges)
}

// Graph returns a sorted snapshot. The builder may keep being used.
func (b *Builder) Graph() *Graph {
	g := &Graph{
		Nodes:         make([]Node, 0, len(b.nodes)),
		Edges:         make([]Edge, 0, len(b.edges)),
		SchemaVersion: b.schemaVersion,
	}
	for _, n := range b.nodes {
		g.Nodes = append(g.Nodes, n)
	}
	for _, e := range b.edges {
		g.Edges = append(g.Edges, e)
	}
	sortGraph(g)
	return g.Clone()
}
