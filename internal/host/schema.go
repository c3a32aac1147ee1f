package host

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
)

type Kind int

const (
	KindAny Kind = iota
	// KindString accepts only strings.
	KindString
	// KindText accepts strings and converts numbers and booleans to their
	// string form, the way Home Assistant's cv.string does. Null, lists and
	// mappings are rejected.
	KindText
	KindMap
	KindInteger
)

func (k Kind) String() string {
	switch k {
	case KindString, KindText:
		return "string"
	case KindMap:
		return "dictionary"
	case KindInteger:
		return "int"
	default:
		return "any"
	}
}

func (k Kind) document() map[string]any {
	switch k {
	case KindString, KindText:
		return map[string]any{"type": "string"}
	case KindMap:
		return map[string]any{"type": "object"}
	case KindInteger:
		return map[string]any{"type": "integer"}
	default:
		return map[string]any{}
	}
}

type Field struct {
	Name     string
	Kind     Kind
	Required bool
}

func Required(name string, kind Kind) Field {
	return Field{Name: name, Kind: kind, Required: true}
}

func Optional(name string, kind Kind) Field {
	return Field{Name: name, Kind: kind}
}

// Schema describes a decoded JSON object. Keys not named by the schema are
// rejected unless AllowExtra is set.
type Schema struct {
	Fields     []Field
	AllowExtra bool
}

func NewSchema(fields ...Field) Schema {
	return Schema{Fields: fields}
}

// Extra returns a copy of the schema that accepts unknown keys.
func (s Schema) Extra() Schema {
	s.AllowExtra = true
	return s
}

// document renders s as a JSON Schema object.
func (s Schema) document() map[string]any {
	props := make(map[string]any, len(s.Fields))
	required := []any{}
	for _, f := range s.Fields {
		props[f.Name] = f.Kind.document()
		if f.Required {
			required = append(required, f.Name)
		}
	}

	doc := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	if !s.AllowExtra {
		doc["additionalProperties"] = false
	}
	return doc
}

// Compile builds the validator for s.
func (s Schema) Compile() (*Validator, error) {
	const loc = "schema.json"

	c := jsonschema.NewCompiler()
	if err := c.AddResource(loc, s.document()); err != nil {
		return nil, fmt.Errorf("failed to add schema: %w", err)
	}
	compiled, err := c.Compile(loc)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	kinds := make(map[string]Kind, len(s.Fields))
	for _, f := range s.Fields {
		kinds[f.Name] = f.Kind
	}
	return &Validator{kinds: kinds, compiled: compiled}, nil
}

// Validate compiles s and validates data with it.
func (s Schema) Validate(data map[string]any) (map[string]any, error) {
	v, err := s.Compile()
	if err != nil {
		return nil, err
	}
	return v.Validate(data)
}

type Validator struct {
	kinds    map[string]Kind
	compiled *jsonschema.Schema
}

// ValidationError lists every problem found, worded like voluptuous so
// callers of the host API see familiar messages.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid data: " + strings.Join(e.Problems, "; ")
}

// Validate checks data and returns a copy with KindText fields converted.
// data itself is not modified.
func (v *Validator) Validate(data map[string]any) (map[string]any, error) {
	out := maps.Clone(data)
	if out == nil {
		out = map[string]any{}
	}

	var problems []string
	reported := map[string]bool{}
	for name, k := range v.kinds {
		raw, ok := out[name]
		if !ok || k != KindText {
			continue
		}
		text, err := toText(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s for dictionary value @ data['%s']", err, name))
			reported[name] = true
			continue
		}
		out[name] = text
	}

	err := v.compiled.Validate(out)
	var verr *jsonschema.ValidationError
	if err != nil && !errors.As(err, &verr) {
		return nil, err
	}
	if verr != nil {
		problems = append(problems, v.describe(verr, reported)...)
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, &ValidationError{Problems: problems}
	}
	return out, nil
}

func (v *Validator) describe(e *jsonschema.ValidationError, reported map[string]bool) []string {
	if len(e.Causes) > 0 {
		var out []string
		for _, c := range e.Causes {
			out = append(out, v.describe(c, reported)...)
		}
		return out
	}

	switch k := e.ErrorKind.(type) {
	case *kind.Required:
		out := make([]string, 0, len(k.Missing))
		for _, name := range k.Missing {
			out = append(out, fmt.Sprintf("required key not provided @ data['%s']", name))
		}
		return out
	case *kind.AdditionalProperties:
		out := make([]string, 0, len(k.Properties))
		for _, name := range k.Properties {
			out = append(out, fmt.Sprintf("extra keys not allowed @ data['%s']", name))
		}
		return out
	case *kind.Type:
		if len(e.InstanceLocation) == 0 {
			return []string{"expected a dictionary"}
		}
		name := e.InstanceLocation[0]
		if reported[name] {
			return nil
		}
		return []string{fmt.Sprintf("expected %s for dictionary value @ data['%s']", v.kinds[name], name)}
	default:
		return []string{e.Error()}
	}
}

// toText mirrors cv.string: scalars become their string form.
func toText(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", errors.New("string value is None")
	case string:
		return t, nil
	case bool:
		if t {
			return "True", nil
		}
		return "False", nil
	case json.Number:
		return t.String(), nil
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10), nil
		}
		return strconv.FormatFloat(t, 'g', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	default:
		return "", errors.New("value should be a string")
	}
}
