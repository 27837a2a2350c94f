package evidence

import (
	"fmt"
	"strings"
)

// Predicate is the relationship a claim asserts between subject and object.
type Predicate string

const (
	PredicateReads     Predicate = "reads"
	PredicateWrites    Predicate = "writes"
	PredicateCalls     Predicate = "calls"
	PredicatePublishes Predicate = "publishes"
	PredicateConsumes  Predicate = "consumes"
	PredicateRoutesTo  Predicate = "routes_to"
	PredicateDependsOn Predicate = "depends_on"
)

// AllPredicates lists every predicate in canonical order.
var AllPredicates = []Predicate{
	PredicateReads,
	PredicateWrites,
	PredicateCalls,
	PredicatePublishes,
	PredicateConsumes,
	PredicateRoutesTo,
	PredicateDependsOn,
}

// Valid reports whether p is a known predicate.
func (p Predicate) Valid() bool {
	for _, known := range AllPredicates {
		if p == known {
			return true
		}
	}
	return false
}

// ParsePredicate accepts case and separator variants such as "Routes-To".
func ParsePredicate(s string) (Predicate, error) {
	p := Predicate(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !p.Valid() {
		return "", fmt.Errorf("unknown predicate %q", s)
	}
	return p, nil
}

// NodeType is the type of a graph node.
type NodeType string

const (
	NodeService  NodeType = "service"
	NodeTable    NodeType = "table"
	NodeColumn   NodeType = "column"
	NodeEndpoint NodeType = "endpoint"
	NodeQueue    NodeType = "queue"
)

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	switch t {
	case NodeService, NodeTable, NodeColumn, NodeEndpoint, NodeQueue:
		return true
	}
	return false
}

// DefaultTypes returns the node types implied by a predicate.
func DefaultTypes(p Predicate) (subject, object NodeType) {
	switch p {
	case PredicateReads, PredicateWrites:
		return NodeService, NodeTable
	case PredicatePublishes, PredicateConsumes:
		return NodeService, NodeQueue
	case PredicateCalls, PredicateRoutesTo:
		return NodeService, NodeEndpoint
	default:
		return NodeService, NodeService
	}
}

// Claim is an unverified assertion that subject relates to object.
// Evidence holds whatever the claim carried in; the orchestrator owns
// collection and appends to its own copy.
type Claim struct {
	Subject   string    `json:"subject" yaml:"subject" toml:"subject" validate:"required,max=256"`
	Predicate Predicate `json:"predicate" yaml:"predicate" toml:"predicate" validate:"required,predicate"`
	Object    string    `json:"object" yaml:"object" toml:"object" validate:"required,max=256"`

	SubjectType  NodeType               `json:"subjectType,omitempty" yaml:"subjectType,omitempty" toml:"subjectType,omitempty" validate:"omitempty,nodetype"`
	ObjectType   NodeType               `json:"objectType,omitempty" yaml:"objectType,omitempty" toml:"objectType,omitempty" validate:"omitempty,nodetype"`
	SubjectAttrs map[string]interface{} `json:"subjectAttrs,omitempty" yaml:"subjectAttrs,omitempty" toml:"subjectAttrs,omitempty"`
	ObjectAttrs  map[string]interface{} `json:"objectAttrs,omitempty" yaml:"objectAttrs,omitempty" toml:"objectAttrs,omitempty"`

	Evidence []Evidence `json:"evidence,omitempty" yaml:"evidence,omitempty" toml:"evidence,omitempty" validate:"dive"`
}

// Types returns the resolved subject and object node types.
func (c Claim) Types() (subject, object NodeType) {
	subject, object = DefaultTypes(c.Predicate)
	if c.SubjectType != "" {
		subject = c.SubjectType
	}
	if c.ObjectType != "" {
		object = c.ObjectType
	}
	return subject, object
}

// Key identifies the claim independent of evidence and attributes.
func (c Claim) Key() string {
	return fmt.Sprintf("%s %s %s", strings.TrimSpace(c.Subject), c.Predicate, strings.TrimSpace(c.Object))
}

func (c Claim) String() string {
	return c.Key()
}
