package graph

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"

	"depverify/internal/errors"
)

// SchemaVersion is the version written into new graphs.
const SchemaVersion = "1.0.0"

// CompatibilityStatus describes whether two schema versions can be merged.
type CompatibilityStatus string

const (
	// CompatibilityOK means both versions share a major version
	CompatibilityOK CompatibilityStatus = "ok"

	// CompatibilityIncompatible means the major versions differ
	CompatibilityIncompatible CompatibilityStatus = "incompatible"

	// CompatibilityInvalid means a version could not be parsed
	CompatibilityInvalid CompatibilityStatus = "invalid"
)

// CompatibilityCheck is the result of comparing two schema versions.
type CompatibilityCheck struct {
	Left    string              `json:"left"`
	Right   string              `json:"right"`
	Status  CompatibilityStatus `json:"status"`
	Message string              `json:"message"`
}

// Major returns the leading integer of a schema version ("2.x" -> 2).
// A leading "v" is accepted.
func Major(version string) (int, error) {
	v := strings.TrimPrefix(strings.TrimSpace(version), "v")
	end := 0
	for end < len(v) && v[end] >= '0' && v[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, fmt.Errorf("schema version %q has no major number", version)
	}
	return strconv.Atoi(v[:end])
}

// CompareVersions orders schema versions. Valid semantic versions are
// compared by semver precedence; anything else by major number, then as
// plain strings.
func CompareVersions(a, b string) int {
	sa, sb := semverForm(a), semverForm(b)
	if semver.IsValid(sa) && semver.IsValid(sb) {
		if c := semver.Compare(sa, sb); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	}
	ma, errA := Major(a)
	mb, errB := Major(b)
	if errA == nil && errB == nil && ma != mb {
		if ma < mb {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

func semverForm(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// HigherVersion returns whichever version sorts last.
func HigherVersion(a, b string) string {
	if CompareVersions(a, b) >= 0 {
		return a
	}
	return b
}

// CheckCompatibility reports whether graphs at the two versions may merge.
func CheckCompatibility(left, right string) CompatibilityCheck {
	check := CompatibilityCheck{Left: left, Right: right}

	ml, err := Major(left)
	if err != nil {
		check.Status = CompatibilityInvalid
		check.Message = err.Error()
		return check
	}
	mr, err := Major(right)
	if err != nil {
		check.Status = CompatibilityInvalid
		check.Message = err.Error()
		return check
	}
	if ml != mr {
		check.Status = CompatibilityIncompatible
		check.Message = fmt.Sprintf("schema major version %d cannot merge with %d", ml, mr)
		return check
	}

	check.Status = CompatibilityOK
	check.Message = "schema versions are compatible"
	return check
}

// Err converts a failed check into a SCHEMA_VERSION_CONFLICT error.
func (c CompatibilityCheck) Err() error {
	if c.Status == CompatibilityOK {
		return nil
	}
	return errors.New(errors.SchemaVersionConflict, c.Message, nil).WithDetails(c)
}
