// Package claimio reads candidate claim files and validates them before
// they reach the verifier.
package claimio

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"depverify/internal/errors"
	"depverify/internal/evidence"
)

// Format is a claim file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// File is the on-disk claim document.
type File struct {
	Claims []evidence.Claim `json:"claims" yaml:"claims" toml:"claims" validate:"dive"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("predicate", func(fl validator.FieldLevel) bool {
		return evidence.Predicate(fl.Field().String()).Valid()
	})
	_ = validate.RegisterValidation("nodetype", func(fl validator.FieldLevel) bool {
		return evidence.NodeType(fl.Field().String()).Valid()
	})
	_ = validate.RegisterValidation("evidencekind", func(fl validator.FieldLevel) bool {
		return evidence.Kind(fl.Field().String()).Valid()
	})
}

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	}
	return "", errors.Newf(errors.SchemaViolation, "unsupported claim file extension %q", filepath.Ext(path))
}

// Load reads, normalizes and validates the claim file at path.
func Load(path string) ([]evidence.Claim, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.NotFound, fmt.Sprintf("claim file %s not found", path), err)
		}
		return nil, errors.New(errors.InternalError, fmt.Sprintf("failed to read claim file %s", path), err)
	}
	return Decode(data, format)
}

// Decode parses claims in the given format. Unknown fields are rejected.
func Decode(data []byte, format Format) ([]evidence.Claim, error) {
	var f File
	var err error

	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&f)
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&f)
		if stderrors.Is(err, io.EOF) {
			err = nil
		}
	case FormatTOML:
		var md toml.MetaData
		md, err = toml.Decode(string(data), &f)
		if err == nil {
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				err = fmt.Errorf("unknown field %s", undecoded[0])
			}
		}
	default:
		return nil, errors.Newf(errors.SchemaViolation, "unsupported claim format %q", format)
	}
	if err != nil {
		return nil, errors.New(errors.SchemaViolation, "claim file could not be parsed", err)
	}

	claims := Normalize(f.Claims)
	if err := Validate(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Normalize trims names and canonicalizes predicate, type and kind
// spellings. Values it can not canonicalize are left for Validate.
func Normalize(claims []evidence.Claim) []evidence.Claim {
	out := make([]evidence.Claim, len(claims))
	for i, c := range claims {
		c.Subject = strings.TrimSpace(c.Subject)
		c.Object = strings.TrimSpace(c.Object)
		if p, err := evidence.ParsePredicate(string(c.Predicate)); err == nil {
			c.Predicate = p
		}
		c.SubjectType = evidence.NodeType(strings.ToLower(strings.TrimSpace(string(c.SubjectType))))
		c.ObjectType = evidence.NodeType(strings.ToLower(strings.TrimSpace(string(c.ObjectType))))
		if len(c.Evidence) > 0 {
			items := make([]evidence.Evidence, len(c.Evidence))
			for j, e := range c.Evidence {
				e.Kind = evidence.Kind(strings.ToLower(strings.TrimSpace(string(e.Kind))))
				items[j] = e
			}
			c.Evidence = items
		}
		out[i] = c
	}
	return out
}

// Problem is one validation failure.
type Problem struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Value string `json:"value,omitempty"`
}

// Validate checks claims against their struct rules. All problems are
// reported together as one SchemaViolation.
func Validate(claims []evidence.Claim) error {
	err := validate.Struct(File{Claims: claims})
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return errors.New(errors.SchemaViolation, "claim validation failed", err)
	}
	problems := make([]Problem, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, Problem{
			Field: strings.TrimPrefix(fe.Namespace(), "File."),
			Rule:  fe.Tag(),
			Value: fmt.Sprint(fe.Value()),
		})
	}
	sort.SliceStable(problems, func(i, j int) bool { return problems[i].Field < problems[j].Field })
	return errors.New(errors.SchemaViolation,
		fmt.Sprintf("%d claim validation problem(s)", len(problems)), nil).
		WithDetails(map[string]interface{}{"problems": problems})
}

// Normalizer produces validated candidate claims. Implementations may
// wrap external extractors; their failures are SchemaViolation errors and
// are not retried.
type Normalizer interface {
	Normalize(ctx context.Context) ([]evidence.Claim, error)
}

// FileNormalizer reads candidates from a claim file.
type FileNormalizer struct {
	Path string
}

// Normalize implements Normalizer.
func (n FileNormalizer) Normalize(ctx context.Context) ([]evidence.Claim, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.New(errors.Cancelled, "claim loading cancelled", err)
	}
	return Load(n.Path)
}

// Encode writes claims in the given format.
func Encode(w io.Writer, claims []evidence.Claim, format Format) error {
	f := File{Claims: claims}
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(f)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(f); err != nil {
			return err
		}
		return enc.Close()
	case FormatTOML:
		return toml.NewEncoder(w).Encode(f)
	}
	return errors.Newf(errors.SchemaViolation, "unsupported claim format %q", format)
}
