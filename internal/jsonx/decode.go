// Package jsonx decodes JSON response bodies, addresses values inside them
// with RFC 6901 pointers, and converts the addressed values into typed
// telemetry samples.
package jsonx

import (
	"encoding/json"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// api keeps numbers as json.Number so 64-bit integers survive decoding.
var api = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	UseNumber:              true,
}.Froze()

// Decode parses data into a generic JSON value: map[string]any, []any,
// json.Number, string, bool or nil.
func Decode(data []byte) (any, error) {
	var v any
	if err := api.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return v, nil
}

// Dump returns the compact JSON text of v. Values that cannot be encoded
// fall back to their Go formatting.
func Dump(v any) string {
	if n, ok := v.(json.Number); ok {
		return n.String()
	}
	b, err := api.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
