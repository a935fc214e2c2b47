package telemetry

import (
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

const (
	maxAttrValueLen = 512
	maxAttrSliceLen = 32
)

// deniedFragments mark keys that may carry user submissions or secrets.
// Matching is by substring on the lowercased key.
var deniedFragments = []string{
	"input", "text", "url", "filename", "path",
	"authorization", "api_key", "token", "password",
	"email", "phone", "credit_card",
}

func denied(key string) bool {
	lk := strings.ToLower(key)
	return slices.ContainsFunc(deniedFragments, func(f string) bool {
		return strings.Contains(lk, f)
	})
}

// SafeAttributes converts values into span attributes. Denied keys, strings
// longer than 512 bytes and unsupported types are dropped; slices keep their
// first 32 elements.
func SafeAttributes(values map[string]interface{}) []attribute.KeyValue {
	if len(values) == 0 {
		return nil
	}
	attrs := make([]attribute.KeyValue, 0, len(values))
	for k, v := range values {
		if denied(k) {
			continue
		}
		if kv, ok := toAttribute(attribute.Key(k), v); ok {
			attrs = append(attrs, kv)
		}
	}
	return attrs
}

func toAttribute(key attribute.Key, v interface{}) (attribute.KeyValue, bool) {
	switch val := v.(type) {
	case string:
		if len(val) > maxAttrValueLen {
			return attribute.KeyValue{}, false
		}
		return key.String(val), true
	case bool:
		return key.Bool(val), true
	case int:
		return key.Int(val), true
	case int64:
		return key.Int64(val), true
	case float32:
		return key.Float64(float64(val)), true
	case float64:
		return key.Float64(val), true
	case []string:
		return key.StringSlice(head(val)), true
	case []int:
		return key.IntSlice(head(val)), true
	}
	return attribute.KeyValue{}, false
}

func head[T any](in []T) []T {
	if len(in) > maxAttrSliceLen {
		return in[:maxAttrSliceLen]
	}
	return in
}
