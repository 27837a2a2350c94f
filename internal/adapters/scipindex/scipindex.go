// Package scipindex looks claim objects up in a SCIP code index.
package scipindex

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	scippb "github.com/sourcegraph/scip/bindings/go/scip"
	"google.golang.org/protobuf/proto"

	"depverify/internal/adapters"
	"depverify/internal/gateway"
)

const (
	// ID is the adapter id.
	ID = "scip-index"

	// DefaultMaxHits caps observations per call.
	DefaultMaxHits = 20
)

// occurrence is one place a symbol appears.
type occurrence struct {
	path       string
	line       int
	definition bool
}

// symbolEntry indexes a global symbol by its folded simple name.
type symbolEntry struct {
	symbol      string
	name        string
	container   string
	occurrences []occurrence
}

// index is the loaded, searchable form of a SCIP file.
type index struct {
	byName  map[string][]*symbolEntry
	modTime time.Time
}

// Adapter answers search requests from a SCIP index file. The index is
// loaded on first use and reloaded when the file changes.
type Adapter struct {
	path    string
	maxHits int

	mu    sync.Mutex
	index *index
}

// New returns an adapter reading the SCIP index at path.
func New(path string, maxHits int) *Adapter {
	if maxHits <= 0 {
		maxHits = DefaultMaxHits
	}
	return &Adapter{path: path, maxHits: maxHits}
}

func (a *Adapter) ID() string { return ID }

func (a *Adapter) Capability() gateway.Capability { return gateway.CapabilitySearch }

// Invoke reports occurrences of symbols named like the claim object.
// Matches in more than one package carry the collision marker.
func (a *Adapter) Invoke(ctx context.Context, req gateway.Request) ([]gateway.Observation, error) {
	idx, err := a.load()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	object := req.Claim.Object
	entries := idx.byName[adapters.FoldName(object)]
	if len(entries) == 0 {
		return []gateway.Observation{{Locator: "scip:" + object, Negative: true}}, nil
	}

	containers := make(map[string]bool)
	for _, e := range entries {
		containers[e.container] = true
	}
	collision := len(containers) > 1

	var obs []gateway.Observation
	for _, e := range entries {
		for _, occ := range e.occurrences {
			if len(obs) >= a.maxHits {
				return obs, nil
			}
			role := "reference"
			if occ.definition {
				role = "definition"
			}
			obs = append(obs, gateway.Observation{
				Locator:   fmt.Sprintf("%s:L%d", occ.path, occ.line),
				Snippet:   fmt.Sprintf("%s %s", role, e.symbol),
				Collision: collision,
			})
		}
	}
	if len(obs) == 0 {
		// Symbol known only from metadata, no occurrences.
		return []gateway.Observation{{Locator: "scip:" + object, Negative: true, Collision: collision}}, nil
	}
	return obs, nil
}

func (a *Adapter) load() (*index, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	info, err := os.Stat(a.path)
	if err != nil {
		return nil, gateway.Unavailable(fmt.Sprintf("SCIP index not found at %s", a.path), err)
	}
	if a.index != nil && a.index.modTime.Equal(info.ModTime()) {
		return a.index, nil
	}

	data, err := os.ReadFile(a.path)
	if err != nil {
		return nil, gateway.Unavailable(fmt.Sprintf("failed to read SCIP index from %s", a.path), err)
	}
	var raw scippb.Index
	if err := proto.Unmarshal(data, &raw); err != nil {
		return nil, gateway.Unavailable(fmt.Sprintf("failed to parse SCIP index from %s", a.path), err)
	}

	idx := buildIndex(&raw)
	idx.modTime = info.ModTime()
	a.index = idx
	return idx, nil
}

func buildIndex(raw *scippb.Index) *index {
	bySymbol := make(map[string]*symbolEntry)
	entry := func(symbol string) *symbolEntry {
		if e, ok := bySymbol[symbol]; ok {
			return e
		}
		parsed, err := parseSymbol(symbol)
		if err != nil {
			return nil
		}
		e := &symbolEntry{symbol: symbol, name: parsed.simpleName(), container: parsed.container()}
		bySymbol[symbol] = e
		return e
	}

	for _, doc := range raw.Documents {
		for _, sym := range doc.Symbols {
			entry(sym.Symbol)
		}
		for _, occ := range doc.Occurrences {
			e := entry(occ.Symbol)
			if e == nil || len(occ.Range) == 0 {
				continue
			}
			e.occurrences = append(e.occurrences, occurrence{
				path:       doc.RelativePath,
				line:       int(occ.Range[0]) + 1,
				definition: occ.SymbolRoles&int32(scippb.SymbolRole_Definition) != 0,
			})
		}
	}

	idx := &index{byName: make(map[string][]*symbolEntry)}
	for _, e := range bySymbol {
		sort.Slice(e.occurrences, func(i, j int) bool {
			a, b := e.occurrences[i], e.occurrences[j]
			if a.definition != b.definition {
				return a.definition
			}
			if a.path != b.path {
				return a.path < b.path
			}
			return a.line < b.line
		})
		key := adapters.FoldName(e.name)
		if key == "" {
			continue
		}
		idx.byName[key] = append(idx.byName[key], e)
	}
	for _, entries := range idx.byName {
		sort.Slice(entries, func(i, j int) bool { return entries[i].symbol < entries[j].symbol })
	}
	return idx
}
