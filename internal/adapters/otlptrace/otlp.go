package otlptrace

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Subset of the OTLP/JSON trace encoding.
type exportRequest struct {
	ResourceSpans []resourceSpans `json:"resourceSpans"`
}

type resourceSpans struct {
	Resource   resource     `json:"resource"`
	ScopeSpans []scopeSpans `json:"scopeSpans"`
}

type resource struct {
	Attributes []keyValue `json:"attributes"`
}

type scopeSpans struct {
	Spans []span `json:"spans"`
}

type span struct {
	TraceID    string     `json:"traceId"`
	SpanID     string     `json:"spanId"`
	Name       string     `json:"name"`
	Kind       int        `json:"kind"`
	Attributes []keyValue `json:"attributes"`
}

type keyValue struct {
	Key   string   `json:"key"`
	Value anyValue `json:"value"`
}

type anyValue struct {
	StringValue *string         `json:"stringValue,omitempty"`
	IntValue    json.RawMessage `json:"intValue,omitempty"`
	DoubleValue *float64        `json:"doubleValue,omitempty"`
	BoolValue   *bool           `json:"boolValue,omitempty"`
}

// String renders the value as text. intValue may be encoded as a JSON
// number or a string.
func (v anyValue) String() string {
	switch {
	case v.StringValue != nil:
		return *v.StringValue
	case len(v.IntValue) > 0:
		return strings.Trim(string(v.IntValue), `"`)
	case v.DoubleValue != nil:
		return strconv.FormatFloat(*v.DoubleValue, 'f', -1, 64)
	case v.BoolValue != nil:
		return strconv.FormatBool(*v.BoolValue)
	}
	return ""
}

// Span kinds from the OTLP enum.
const (
	spanKindServer   = 2
	spanKindClient   = 3
	spanKindProducer = 4
	spanKindConsumer = 5
)

// Span is a flattened span with its resource's service name.
type Span struct {
	TraceID    string
	SpanID     string
	Name       string
	Kind       int
	Service    string
	Attributes map[string]string
}

func attrMap(kvs []keyValue) map[string]string {
	m := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		m[kv.Key] = kv.Value.String()
	}
	return m
}

// Decode parses an OTLP/JSON export and flattens it into spans.
func Decode(data []byte) ([]Span, error) {
	var req exportRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}

	var spans []Span
	for _, rs := range req.ResourceSpans {
		service := attrMap(rs.Resource.Attributes)["service.name"]
		for _, ss := range rs.ScopeSpans {
			for _, sp := range ss.Spans {
				spans = append(spans, Span{
					TraceID:    sp.TraceID,
					SpanID:     sp.SpanID,
					Name:       sp.Name,
					Kind:       sp.Kind,
					Service:    service,
					Attributes: attrMap(sp.Attributes),
				})
			}
		}
	}
	return spans, nil
}
