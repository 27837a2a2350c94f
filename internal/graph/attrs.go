package graph

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"depverify/internal/errors"
)

// AttrConflict describes two different scalar values for one attribute.
type AttrConflict struct {
	Node      string      `json:"node"`
	Attribute string      `json:"attribute"`
	Left      interface{} `json:"left"`
	Right     interface{} `json:"right"`
}

// normalizeAttrs converts attribute values to their JSON-equivalent form
// so values decoded from JSON, YAML and TOML compare equal. Lists are
// sorted and de-duplicated.
func normalizeAttrs(attrs map[string]interface{}) map[string]interface{} {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case string, bool, float64:
		return t
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, vv := range t {
			out[k] = normalizeValue(vv)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, vv := range t {
			out[fmt.Sprint(k)] = normalizeValue(vv)
		}
		return out
	case []interface{}:
		items := make([]interface{}, len(t))
		for i, vv := range t {
			items[i] = normalizeValue(vv)
		}
		return sortedUnique(items)
	}

	// Typed slices, maps and structs go through their JSON form.
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		items := make([]interface{}, rv.Len())
		for i := range items {
			items[i] = normalizeValue(rv.Index(i).Interface())
		}
		return sortedUnique(items)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	var decoded interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return fmt.Sprint(v)
	}
	return normalizeValue(decoded)
}

// sortedUnique orders values by their canonical JSON and drops duplicates.
func sortedUnique(items []interface{}) []interface{} {
	type keyed struct {
		key string
		val interface{}
	}
	ks := make([]keyed, 0, len(items))
	for _, it := range items {
		ks = append(ks, keyed{key: canonicalJSON(it), val: it})
	}
	sort.SliceStable(ks, func(i, j int) bool { return ks[i].key < ks[j].key })

	out := make([]interface{}, 0, len(ks))
	for i, k := range ks {
		if i > 0 && ks[i-1].key == k.key {
			continue
		}
		out = append(out, k.val)
	}
	return out
}

func canonicalJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// mergeAttrs merges two normalized attribute maps. Absent or nil values
// take the other side, maps merge key by key and lists are unioned.
// Differing scalars are reported as an ATTRIBUTE_CONFLICT.
func mergeAttrs(nodeID string, a, b map[string]interface{}) (map[string]interface{}, error) {
	if len(a) == 0 && len(b) == 0 {
		return nil, nil
	}
	out := make(map[string]interface{}, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for _, k := range sortedAttrKeys(b) {
		merged, err := mergeValue(nodeID, k, out[k], b[k])
		if err != nil {
			return nil, err
		}
		out[k] = merged
	}
	return out, nil
}

func mergeValue(nodeID, path string, a, b interface{}) (interface{}, error) {
	if a == nil {
		return b, nil
	}
	if b == nil {
		return a, nil
	}

	am, aIsMap := a.(map[string]interface{})
	bm, bIsMap := b.(map[string]interface{})
	if aIsMap && bIsMap {
		out := make(map[string]interface{}, len(am)+len(bm))
		for k, v := range am {
			out[k] = v
		}
		for _, k := range sortedAttrKeys(bm) {
			merged, err := mergeValue(nodeID, path+"."+k, out[k], bm[k])
			if err != nil {
				return nil, err
			}
			out[k] = merged
		}
		return out, nil
	}

	al, aIsList := a.([]interface{})
	bl, bIsList := b.([]interface{})
	if aIsList && bIsList {
		return sortedUnique(append(append([]interface{}{}, al...), bl...)), nil
	}

	if reflect.DeepEqual(a, b) {
		return a, nil
	}

	// Report the pair in a stable order so the error does not depend on
	// which graph was merged first.
	left, right := a, b
	if canonicalJSON(right) < canonicalJSON(left) {
		left, right = right, left
	}
	conflict := AttrConflict{Node: nodeID, Attribute: path, Left: left, Right: right}
	return nil, errors.New(errors.AttributeConflict,
		fmt.Sprintf("node %s: attribute %q has conflicting values %s and %s",
			nodeID, path, canonicalJSON(left), canonicalJSON(right)), nil).
		WithDetails(conflict)
}

func sortedAttrKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// copyAttrs deep-copies an attribute map.
func copyAttrs(attrs map[string]interface{}) map[string]interface{} {
	if attrs == nil {
		return nil
	}
	out := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return copyAttrs(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, vv := range t {
			out[i] = copyValue(vv)
		}
		return out
	default:
		return v
	}
}

// smallerName picks the lexicographically smallest display spelling.
func smallerName(a, b string) string {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "":
		return a
	case b < a:
		return b
	default:
		return a
	}
}
