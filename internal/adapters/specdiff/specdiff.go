// Package specdiff scans a unified diff for changed lines that mention a
// claim object.
package specdiff

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	godiff "github.com/sourcegraph/go-diff/diff"

	"depverify/internal/adapters"
	"depverify/internal/gateway"
)

const (
	// ID is the adapter id.
	ID = "spec-diff"

	// DefaultMaxHits caps observations per call.
	DefaultMaxHits = 20
)

// ChangedLine is one added or removed line.
type ChangedLine struct {
	Line  int
	Added bool
	Text  string
}

// ChangedFile is a file touched by the diff.
type ChangedFile struct {
	Path    string
	Deleted bool
	Lines   []ChangedLine
}

// Parse parses a unified diff into changed files.
func Parse(content []byte) ([]ChangedFile, error) {
	if len(content) == 0 {
		return nil, nil
	}
	fileDiffs, err := godiff.ParseMultiFileDiff(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse diff: %w", err)
	}

	files := make([]ChangedFile, 0, len(fileDiffs))
	for _, fd := range fileDiffs {
		files = append(files, parseFileDiff(fd))
	}
	return files, nil
}

func parseFileDiff(fd *godiff.FileDiff) ChangedFile {
	cf := ChangedFile{Path: cleanPath(fd.NewName)}
	if fd.NewName == "/dev/null" || fd.NewName == "" {
		cf.Deleted = true
		cf.Path = cleanPath(fd.OrigName)
	}

	for _, hunk := range fd.Hunks {
		oldLine := int(hunk.OrigStartLine)
		newLine := int(hunk.NewStartLine)
		for _, line := range strings.Split(string(hunk.Body), "\n") {
			if len(line) == 0 {
				oldLine++
				newLine++
				continue
			}
			switch line[0] {
			case '+':
				cf.Lines = append(cf.Lines, ChangedLine{Line: newLine, Added: true, Text: line[1:]})
				newLine++
			case '-':
				cf.Lines = append(cf.Lines, ChangedLine{Line: oldLine, Text: line[1:]})
				oldLine++
			case ' ':
				oldLine++
				newLine++
			case '\\':
				// "\ No newline at end of file"
			}
		}
	}
	return cf
}

// cleanPath removes the a/ or b/ prefix from git diff paths.
func cleanPath(path string) string {
	if strings.HasPrefix(path, "a/") || strings.HasPrefix(path, "b/") {
		return path[2:]
	}
	return path
}

// Adapter reports diff lines as spec evidence. The diff file is re-read
// when it changes.
type Adapter struct {
	path    string
	maxHits int

	mu      sync.Mutex
	files   []ChangedFile
	modTime time.Time
}

// New returns an adapter reading the unified diff at path.
func New(path string, maxHits int) *Adapter {
	if maxHits <= 0 {
		maxHits = DefaultMaxHits
	}
	return &Adapter{path: path, maxHits: maxHits}
}

func (a *Adapter) ID() string { return ID }

func (a *Adapter) Capability() gateway.Capability { return gateway.CapabilityDiffImpact }

// Invoke reports changed lines mentioning the claim object, located at
// diff:<path>#L<line>. Removed lines use their original line number.
func (a *Adapter) Invoke(ctx context.Context, req gateway.Request) ([]gateway.Observation, error) {
	files, err := a.load()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	object := strings.TrimSpace(req.Claim.Object)
	var obs []gateway.Observation
	for _, f := range files {
		for _, l := range f.Lines {
			if !adapters.MentionsName(l.Text, object) {
				continue
			}
			sign := "-"
			if l.Added {
				sign = "+"
			}
			obs = append(obs, gateway.Observation{
				Locator: fmt.Sprintf("diff:%s#L%d", f.Path, l.Line),
				Snippet: sign + strings.TrimSpace(l.Text),
			})
			if len(obs) >= a.maxHits {
				return obs, nil
			}
		}
	}
	if len(obs) == 0 {
		return []gateway.Observation{{Locator: "diff:" + object, Negative: true}}, nil
	}
	return obs, nil
}

func (a *Adapter) load() ([]ChangedFile, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	info, err := os.Stat(a.path)
	if err != nil {
		return nil, gateway.Unavailable(fmt.Sprintf("diff %s not found", a.path), err)
	}
	if a.files != nil && a.modTime.Equal(info.ModTime()) {
		return a.files, nil
	}

	content, err := os.ReadFile(a.path)
	if err != nil {
		return nil, gateway.Unavailable(fmt.Sprintf("failed to read diff %s", a.path), err)
	}
	files, err := Parse(content)
	if err != nil {
		return nil, gateway.Unavailable("diff is not a valid unified diff", err)
	}
	if files == nil {
		files = []ChangedFile{}
	}
	a.files = files
	a.modTime = info.ModTime()
	return files, nil
}
