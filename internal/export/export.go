// Package export reads and writes dependency graphs as JSON documents,
// optionally zstd-compressed.
package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"depverify/internal/errors"
	"depverify/internal/graph"
)

// Format is a graph file encoding.
type Format string

const (
	FormatJSON     Format = "json"
	FormatJSONZstd Format = "json.zst"
)

// FormatFromPath picks the format from a file name. Anything not ending
// in .zst is plain JSON.
func FormatFromPath(path string) Format {
	if strings.HasSuffix(strings.ToLower(path), ".zst") {
		return FormatJSONZstd
	}
	return FormatJSON
}

// Document is the interchange envelope around a graph.
type Document struct {
	Fingerprint string       `json:"fingerprint"`
	ExportedAt  time.Time    `json:"exportedAt"`
	Graph       *graph.Graph `json:"graph"`
}

// Write encodes g to w. Invalid graphs are refused with GraphInvalid.
func Write(w io.Writer, g *graph.Graph, format Format) error {
	if g == nil {
		return errors.New(errors.GraphInvalid, "no graph to export", nil)
	}
	if err := g.Validate(); err != nil {
		return err
	}
	fp, err := graph.Fingerprint(g)
	if err != nil {
		return errors.Wrap(err, errors.InternalError, "failed to fingerprint graph")
	}
	doc := Document{Fingerprint: fp, ExportedAt: time.Now().UTC(), Graph: g}

	switch format {
	case FormatJSON, "":
		return encode(w, doc)
	case FormatJSONZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return errors.New(errors.InternalError, "failed to create zstd writer", err)
		}
		if err := encode(zw, doc); err != nil {
			zw.Close()
			return err
		}
		if err := zw.Close(); err != nil {
			return errors.New(errors.InternalError, "failed to finish zstd stream", err)
		}
		return nil
	}
	return errors.Newf(errors.ConfigurationError, "unsupported export format %q", format)
}

func encode(w io.Writer, doc Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return errors.New(errors.InternalError, "failed to encode graph", err)
	}
	return nil
}

// Read decodes a document from r and checks the graph and its fingerprint.
func Read(r io.Reader, format Format) (*Document, error) {
	switch format {
	case FormatJSON, "":
	case FormatJSONZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, errors.New(errors.SchemaViolation, "not a zstd stream", err)
		}
		defer zr.Close()
		r = zr
	default:
		return nil, errors.Newf(errors.ConfigurationError, "unsupported export format %q", format)
	}

	var doc Document
	if err := json.NewDecoder(bufio.NewReader(r)).Decode(&doc); err != nil {
		return nil, errors.New(errors.SchemaViolation, "graph document could not be parsed", err)
	}
	if doc.Graph == nil {
		return nil, errors.New(errors.SchemaViolation, "graph document has no graph", nil)
	}
	if err := doc.Graph.Validate(); err != nil {
		return nil, err
	}
	if doc.Fingerprint != "" {
		fp, err := graph.Fingerprint(doc.Graph)
		if err != nil {
			return nil, errors.Wrap(err, errors.InternalError, "failed to fingerprint graph")
		}
		if fp != doc.Fingerprint {
			return nil, errors.New(errors.GraphInvalid, "graph fingerprint mismatch", nil).
				WithDetails(map[string]interface{}{"expected": doc.Fingerprint, "actual": fp})
		}
	}
	return &doc, nil
}

// WriteFile writes g to path in the format implied by its name.
func WriteFile(path string, g *graph.Graph) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.New(errors.InternalError, fmt.Sprintf("failed to create %s", dir), err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".graph-*")
	if err != nil {
		return errors.New(errors.InternalError, "failed to create export file", err)
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, g, FormatFromPath(path)); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return errors.New(errors.InternalError, "failed to write export file", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.New(errors.InternalError, fmt.Sprintf("failed to move export into %s", path), err)
	}
	return nil
}

// ReadFile reads the graph stored at path.
func ReadFile(path string) (*graph.Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.NotFound, fmt.Sprintf("graph file %s not found", path), err)
		}
		return nil, errors.New(errors.InternalError, fmt.Sprintf("failed to open %s", path), err)
	}
	defer f.Close()

	doc, err := Read(f, FormatFromPath(path))
	if err != nil {
		return nil, err
	}
	return doc.Graph, nil
}
