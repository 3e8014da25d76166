package domainbus

import (
	"encoding/json"
	"maps"

	"github.com/tidwall/gjson"
)

// Target is the object that fired an event. Matchers read its properties
// to decide whether a selector applies.
type Target interface {
	// Property returns the value of a named property
	Property(name string) (any, bool)
}

// Describer is implemented by targets that can list all their properties.
// The relay uses it to ship a target across processes.
type Describer interface {
	Properties() map[string]any
}

// Attributes is a map-backed Target
type Attributes map[string]any

// Property returns the attribute stored under name
func (a Attributes) Property(name string) (any, bool) {
	v, ok := a[name]
	return v, ok
}

// Properties returns a copy of the attributes
func (a Attributes) Properties() map[string]any {
	return maps.Clone(map[string]any(a))
}

// JSONTarget is a Target backed by a JSON document.
// Property names are gjson paths, so nested values are reachable as "owner.id".
type JSONTarget []byte

// Property looks up a gjson path in the document
func (j JSONTarget) Property(name string) (any, bool) {
	r := gjson.GetBytes(j, name)
	if !r.Exists() {
		return nil, false
	}
	return r.Value(), true
}

// Properties decodes the top-level object. Non-object documents yield nil.
func (j JSONTarget) Properties() map[string]any {
	m, ok := gjson.ParseBytes(j).Value().(map[string]any)
	if !ok {
		return nil
	}
	return m
}

// DescribeTarget returns the JSON document describing target.
// Targets that are not Describers are reduced to their "id" property.
func DescribeTarget(target Target) (JSONTarget, error) {
	if target == nil {
		return JSONTarget("{}"), nil
	}
	if j, ok := target.(JSONTarget); ok {
		return j, nil
	}
	var props map[string]any
	if d, ok := target.(Describer); ok {
		props = d.Properties()
	} else if id, ok := target.Property("id"); ok {
		props = map[string]any{"id": id}
	}
	if props == nil {
		props = map[string]any{}
	}
	data, err := json.Marshal(props)
	if err != nil {
		return nil, err
	}
	return JSONTarget(data), nil
}

// PropertyString returns a string property. Non-string values report false.
func PropertyString(target Target, name string) (string, bool) {
	if target == nil {
		return "", false
	}
	v, ok := target.Property(name)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
