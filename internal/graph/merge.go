package graph

import (
	"encoding/hex"
	"encoding/json"

	"golang.org/x/crypto/blake2b"

	"depverify/internal/evidence"
)

// Merge unions graphs into a new graph. Nodes are merged by id, edges by
// (from, to, type) with evidence unioned and confidence recomputed. The
// result carries the highest schema version.
//
// Inputs are never modified. Every input is validated and every schema
// version checked before anything is merged, so a failed merge has no
// partial result.
func Merge(graphs []*Graph, opts ...BuilderOption) (*Graph, error) {
	present := make([]*Graph, 0, len(graphs))
	for _, g := range graphs {
		if g != nil {
			present = append(present, g)
		}
	}
	if len(present) == 0 {
		return NewBuilder(opts...).Graph(), nil
	}

	for _, g := range present {
		if err := CheckCompatibility(present[0].SchemaVersion, g.SchemaVersion).Err(); err != nil {
			return nil, err
		}
	}
	for _, g := range present {
		if err := g.Validate(); err != nil {
			return nil, err
		}
	}

	opts = append([]BuilderOption{WithSchemaVersion(present[0].SchemaVersion)}, opts...)
	b := NewBuilder(opts...)
	for _, g := range present {
		if err := b.AddGraph(g); err != nil {
			return nil, err
		}
	}
	return b.Graph(), nil
}

// Fingerprint returns the hex blake2b-256 digest of the canonical JSON
// form of g. Graphs with the same content share a fingerprint regardless
// of node or edge order.
func Fingerprint(g *Graph) (string, error) {
	c := g.Clone()
	for i := range c.Nodes {
		c.Nodes[i].Attrs = normalizeAttrs(c.Nodes[i].Attrs)
	}
	for i := range c.Edges {
		c.Edges[i].Evidence = evidence.Union(c.Edges[i].Evidence)
	}
	sortGraph(c)
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
