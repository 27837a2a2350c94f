package gateway

import (
	"strings"

	"depverify/internal/evidence"
	"depverify/internal/slogutil"
)

// normalize converts raw observations into evidence stamped with the
// adapter id. Observations without a locator or with an unknown kind are
// dropped. The result is sorted and free of duplicates.
func normalize(id string, capability Capability, obs []Observation) (items []evidence.Evidence, dropped int) {
	items = make([]evidence.Evidence, 0, len(obs))
	for _, o := range obs {
		locator := strings.TrimSpace(o.Locator)
		if locator == "" {
			dropped++
			continue
		}
		kind := o.Kind
		if kind == "" {
			kind = capability.DefaultKind()
		}
		if !kind.Valid() {
			dropped++
			continue
		}
		items = append(items, evidence.Evidence{
			Kind:      kind,
			Locator:   locator,
			Snippet:   slogutil.Redact(strings.TrimSpace(o.Snippet), slogutil.MaxSnippetLength),
			Source:    id,
			Negative:  o.Negative,
			Collision: o.Collision,
		})
	}
	return evidence.Union(items), dropped
}
