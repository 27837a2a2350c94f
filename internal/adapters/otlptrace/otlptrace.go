// Package otlptrace confirms claims from recorded OpenTelemetry spans in
// OTLP/JSON files.
package otlptrace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"depverify/internal/adapters"
	"depverify/internal/evidence"
	"depverify/internal/gateway"
)

const (
	// ID is the adapter id.
	ID = "otlp-trace"

	// DefaultMaxHits caps observations per call.
	DefaultMaxHits = 20
)

type operation int

const (
	opUnknown operation = iota
	opRead
	opWrite
)

var (
	readVerbs  = map[string]bool{"select": true, "show": true, "with": true, "fetch": true, "query": true, "get": true, "find": true, "read": true}
	writeVerbs = map[string]bool{"insert": true, "update": true, "delete": true, "merge": true, "upsert": true, "replace": true, "put": true, "set": true, "write": true}
)

func firstWord(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], "(;")
}

func classify(attrs map[string]string) operation {
	for _, key := range []string{"db.operation", "db.operation.name", "db.statement", "db.query.text"} {
		word := firstWord(attrs[key])
		switch {
		case readVerbs[word]:
			return opRead
		case writeVerbs[word]:
			return opWrite
		}
	}
	return opUnknown
}

// match is the attribute that tied a span to the claim object.
type match struct {
	key   string
	value string
}

func firstEqual(attrs map[string]string, name string, keys ...string) (match, bool) {
	for _, k := range keys {
		if v, ok := attrs[k]; ok && adapters.SameName(v, name) {
			return match{k, v}, true
		}
	}
	return match{}, false
}

func firstMention(attrs map[string]string, name string, keys ...string) (match, bool) {
	for _, k := range keys {
		if v, ok := attrs[k]; ok && adapters.MentionsName(v, name) {
			return match{k, v}, true
		}
	}
	return match{}, false
}

func matchData(sp Span, object string, want operation) (match, bool) {
	table, _ := adapters.TableColumn(object)
	m, ok := firstEqual(sp.Attributes, table, "db.sql.table", "db.collection.name", "db.name", "db.namespace")
	if !ok {
		m, ok = firstMention(sp.Attributes, table, "db.statement", "db.query.text")
	}
	if !ok {
		return match{}, false
	}
	if op := classify(sp.Attributes); want != opUnknown && op != opUnknown && op != want {
		return match{}, false
	}
	return m, true
}

func matchMessaging(sp Span, object string, wantKind int) (match, bool) {
	m, ok := firstEqual(sp.Attributes, object, "messaging.destination.name", "messaging.destination")
	if !ok {
		return match{}, false
	}
	if (sp.Kind == spanKindProducer || sp.Kind == spanKindConsumer) && sp.Kind != wantKind {
		return match{}, false
	}
	return m, true
}

func matchPeer(sp Span, object string) (match, bool) {
	if m, ok := firstEqual(sp.Attributes, object, "peer.service", "net.peer.name", "server.address", "http.host"); ok {
		return m, true
	}
	// Endpoints are written "POST /v1/charges"; match on the path.
	target := object
	if fields := strings.Fields(object); len(fields) > 1 {
		target = fields[len(fields)-1]
	}
	return firstMention(sp.Attributes, target, "http.route", "url.full", "http.url", "http.target", "url.path")
}

// Match reports whether a span supports claim c, and through which attribute.
func Match(sp Span, c evidence.Claim) (string, string, bool) {
	if !adapters.SameName(sp.Service, c.Subject) {
		return "", "", false
	}

	var (
		m  match
		ok bool
	)
	switch c.Predicate {
	case evidence.PredicateReads:
		m, ok = matchData(sp, c.Object, opRead)
	case evidence.PredicateWrites:
		m, ok = matchData(sp, c.Object, opWrite)
	case evidence.PredicatePublishes:
		m, ok = matchMessaging(sp, c.Object, spanKindProducer)
	case evidence.PredicateConsumes:
		m, ok = matchMessaging(sp, c.Object, spanKindConsumer)
	case evidence.PredicateCalls, evidence.PredicateRoutesTo:
		m, ok = matchPeer(sp, c.Object)
	default:
		m, ok = matchPeer(sp, c.Object)
		if !ok {
			m, ok = matchData(sp, c.Object, opUnknown)
		}
		if !ok {
			m, ok = matchMessaging(sp, c.Object, sp.Kind)
		}
	}
	return m.key, m.value, ok
}

// Adapter reads OTLP/JSON files from a file or directory.
type Adapter struct {
	path    string
	maxHits int

	mu      sync.Mutex
	spans   []Span
	modTime time.Time
}

// New returns an adapter over the OTLP/JSON file, or directory of *.json
// files, at path.
func New(path string, maxHits int) *Adapter {
	if maxHits <= 0 {
		maxHits = DefaultMaxHits
	}
	return &Adapter{path: path, maxHits: maxHits}
}

func (a *Adapter) ID() string { return ID }

func (a *Adapter) Capability() gateway.Capability { return gateway.CapabilityRuntimeTrace }

// Invoke reports spans matching the claim as trace:<traceId>/<spanId>
// observations. Differently spelled service names that fold to the
// subject set the collision marker.
func (a *Adapter) Invoke(ctx context.Context, req gateway.Request) ([]gateway.Observation, error) {
	spans, err := a.load()
	if err != nil {
		return nil, err
	}

	services := make(map[string]bool)
	var obs []gateway.Observation
	for _, sp := range spans {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key, value, ok := Match(sp, req.Claim)
		if !ok {
			continue
		}
		services[sp.Service] = true
		if len(obs) < a.maxHits {
			obs = append(obs, gateway.Observation{
				Locator: fmt.Sprintf("trace:%s/%s", sp.TraceID, sp.SpanID),
				Snippet: fmt.Sprintf("%s %s=%s", sp.Name, key, value),
			})
		}
	}

	if len(obs) == 0 {
		return []gateway.Observation{{Locator: "trace:" + req.Claim.Subject, Negative: true}}, nil
	}
	if len(services) > 1 {
		for i := range obs {
			obs[i].Collision = true
		}
	}
	return obs, nil
}

func (a *Adapter) load() ([]Span, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	files, latest, err := traceFiles(a.path)
	if err != nil {
		return nil, gateway.Unavailable(fmt.Sprintf("trace source %s not readable", a.path), err)
	}
	if a.spans != nil && a.modTime.Equal(latest) {
		return a.spans, nil
	}

	spans := []Span{}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, gateway.Unavailable(fmt.Sprintf("failed to read %s", f), err)
		}
		decoded, err := Decode(data)
		if err != nil {
			return nil, gateway.Unavailable(fmt.Sprintf("%s is not OTLP/JSON", filepath.Base(f)), err)
		}
		spans = append(spans, decoded...)
	}
	a.spans = spans
	a.modTime = latest
	return spans, nil
}

// traceFiles lists the files to read and their latest modification time.
func traceFiles(path string) ([]string, time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	if !info.IsDir() {
		return []string{path}, info.ModTime(), nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	latest := info.ModTime()
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			return nil, time.Time{}, err
		}
		if fi.ModTime().After(latest) {
			latest = fi.ModTime()
		}
		files = append(files, filepath.Join(path, e.Name()))
	}
	sort.Strings(files)
	return files, latest, nil
}
