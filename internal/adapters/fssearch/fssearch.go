// Package fssearch is the built-in repository text search adapter. It only
// reads files below its root and never executes anything.
package fssearch

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"depverify/internal/adapters"
	"depverify/internal/gateway"
)

const (
	// ID is the adapter id.
	ID = gateway.BuiltinAdapterID

	// DefaultMaxFileSize skips files larger than 1 MiB.
	DefaultMaxFileSize = 1 << 20

	// DefaultMaxHits caps observations per call.
	DefaultMaxHits = 20
)

var errHitLimit = errors.New("hit limit")

// DefaultSkipDirs are never descended into.
var DefaultSkipDirs = []string{".git", ".hg", ".svn", "node_modules", "vendor", ".depverify"}

// Option configures the adapter.
type Option func(*Adapter)

// WithMaxFileSize overrides DefaultMaxFileSize.
func WithMaxFileSize(n int64) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.maxFileSize = n
		}
	}
}

// WithMaxHits overrides DefaultMaxHits.
func WithMaxHits(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.maxHits = n
		}
	}
}

// WithSkipDirs replaces DefaultSkipDirs.
func WithSkipDirs(dirs ...string) Option {
	return func(a *Adapter) {
		a.skip = make(map[string]bool, len(dirs))
		for _, d := range dirs {
			a.skip[d] = true
		}
	}
}

// Adapter searches text files under a root for the claim object. Only
// files that also mention the claim subject, in their path or content,
// count as evidence.
type Adapter struct {
	root        string
	maxFileSize int64
	maxHits     int
	skip        map[string]bool
}

// New returns a search adapter rooted at root.
func New(root string, opts ...Option) *Adapter {
	a := &Adapter{
		root:        root,
		maxFileSize: DefaultMaxFileSize,
		maxHits:     DefaultMaxHits,
	}
	WithSkipDirs(DefaultSkipDirs...)(a)
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) ID() string { return ID }

func (a *Adapter) Capability() gateway.Capability { return gateway.CapabilitySearch }

// Invoke reports one static observation per line mentioning the object, or
// a single negative observation when nothing matched. A "table.column"
// object also matches lines naming the bare table.
func (a *Adapter) Invoke(ctx context.Context, req gateway.Request) ([]gateway.Observation, error) {
	object := strings.TrimSpace(req.Claim.Object)
	if object == "" {
		return nil, gateway.Rejectedf("claim has no object to search for")
	}
	subject := strings.TrimSpace(req.Claim.Subject)
	if subject == "" {
		return nil, gateway.Rejectedf("claim has no subject to search for")
	}
	patterns := []string{object}
	if table, column := adapters.TableColumn(object); column != "" && table != "" {
		patterns = append(patterns, table)
	}

	info, err := os.Stat(a.root)
	if err != nil {
		return nil, gateway.Unavailable(fmt.Sprintf("search root %s not readable", a.root), err)
	}
	if !info.IsDir() {
		return nil, gateway.Unavailable(fmt.Sprintf("search root %s is not a directory", a.root), nil)
	}

	var obs []gateway.Observation
	walkErr := filepath.WalkDir(a.root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			// Unreadable entries are skipped.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != a.root && a.skip[d.Name()] {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		hits, err := a.searchFile(path, subject, patterns, a.maxHits-len(obs))
		if err != nil {
			return nil
		}
		obs = append(obs, hits...)
		if len(obs) >= a.maxHits {
			return errHitLimit
		}
		return nil
	})
	if walkErr != nil && walkErr != errHitLimit {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, gateway.Unavailable("repository walk failed", walkErr)
	}

	if len(obs) == 0 {
		return []gateway.Observation{{Locator: "search:" + object, Negative: true}}, nil
	}
	return obs, nil
}

func (a *Adapter) searchFile(path, subject string, patterns []string, limit int) ([]gateway.Observation, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > a.maxFileSize {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if isBinary(data) {
		return nil, nil
	}

	rel, err := filepath.Rel(a.root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)
	if !adapters.MentionsFolded(rel, subject) && !adapters.MentionsFolded(string(data), subject) {
		return nil, nil
	}

	var obs []gateway.Observation
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), int(a.maxFileSize))
	line := 0
	for scanner.Scan() && len(obs) < limit {
		line++
		text := scanner.Text()
		if !mentionsAny(text, patterns) {
			continue
		}
		obs = append(obs, gateway.Observation{
			Locator: fmt.Sprintf("%s:L%d", rel, line),
			Snippet: strings.TrimSpace(text),
		})
	}
	return obs, scanner.Err()
}

func mentionsAny(text string, names []string) bool {
	for _, n := range names {
		if adapters.MentionsName(text, n) {
			return true
		}
	}
	return false
}

// isBinary treats a NUL byte in the first 8 KiB as binary content.
func isBinary(data []byte) bool {
	head := data
	if len(head) > 8192 {
		head = head[:8192]
	}
	return bytes.IndexByte(head, 0) >= 0
}
