// Package schema describes the structured output expected from a reasoning
// call and validates raw responses against it before they are decoded into
// call-site types.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrMalformedResponse marks a response that does not conform to its schema.
// It is never retried.
var ErrMalformedResponse = errors.New("malformed response")

// Type is the primitive type of a schema field
type Type string

const (
	TypeString  Type = "string"
	TypeBoolean Type = "boolean"
	TypeNumber  Type = "number"
	TypeInteger Type = "integer"
	TypeArray   Type = "array"
)

// Field is one named, required field of an object schema.
// Items is the element type when Type is TypeArray.
type Field struct {
	Name  string
	Type  Type
	Items Type
}

// Schema is a flat object shape: every field is required.
type Schema struct {
	Fields []Field
}

func Object(fields ...Field) Schema {
	return Schema{Fields: fields}
}

func String(name string) Field  { return Field{Name: name, Type: TypeString} }
func Boolean(name string) Field { return Field{Name: name, Type: TypeBoolean} }
func Number(name string) Field  { return Field{Name: name, Type: TypeNumber} }
func Integer(name string) Field { return Field{Name: name, Type: TypeInteger} }

func StringArray(name string) Field {
	return Field{Name: name, Type: TypeArray, Items: TypeString}
}

// Names returns the field names in declaration order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Describe renders the schema as a one-line instruction for backends without
// native structured output.
func (s Schema) Describe() string {
	parts := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		t := string(f.Type)
		if f.Type == TypeArray {
			t = fmt.Sprintf("array of %s", f.Items)
		}
		parts[i] = fmt.Sprintf("%q (%s)", f.Name, t)
	}
	return "Respond only with a JSON object with the fields " + strings.Join(parts, ", ") + "."
}

// Validate parses raw against the schema and returns the decoded object.
func (s Schema) Validate(raw []byte) (map[string]any, error) {
	text := cleanJSON(string(raw))
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	for _, f := range s.Fields {
		v, ok := obj[f.Name]
		if !ok {
			return nil, fmt.Errorf("%w: missing field %q", ErrMalformedResponse, f.Name)
		}
		if !matches(f.Type, v) {
			return nil, fmt.Errorf("%w: field %q is not %s", ErrMalformedResponse, f.Name, f.Type)
		}
		if f.Type == TypeArray && f.Items != "" {
			for i, item := range v.([]any) {
				if !matches(f.Items, item) {
					return nil, fmt.Errorf("%w: field %q item %d is not %s", ErrMalformedResponse, f.Name, i, f.Items)
				}
			}
		}
	}
	return obj, nil
}

func matches(t Type, v any) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeNumber:
		_, ok := v.(float64)
		return ok
	case TypeInteger:
		n, ok := v.(float64)
		return ok && n == math.Trunc(n)
	case TypeArray:
		_, ok := v.([]any)
		return ok
	}
	return false
}

// cleanJSON strips markdown code fences some models wrap JSON in.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
