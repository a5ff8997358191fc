// Package transport defines the wire schema exchanged with an entity service and the
// Transport contract the graph fetches and submits through.
package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/localnerve/jam-build-entitygraph/internal/types"
)

// ErrBadShape is returned when a response does not match the wire schema.
var ErrBadShape = errors.New("transport: unexpected response shape")

// DeferredMarker is the single element of a list value that was not included.
const DeferredMarker = "deferred"

var deferredJSON = []byte(`["deferred"]`)

// Ref is a reference to an instance. It decodes from a bare id, a number, or an
// object with id and type, and encodes as a bare id unless the type is known.
type Ref struct {
	ID   string `json:"id"`
	Type string `json:"type,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Ref) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*r = Ref{}
		return nil
	}
	switch data[0] {
	case '"':
		return json.Unmarshal(data, &r.ID)
	case '{':
		type plain Ref
		var p struct {
			plain
			ID json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		id, err := idString(p.ID)
		if err != nil {
			return err
		}
		*r = Ref{ID: id, Type: p.Type}
		return nil
	}
	id, err := idString(data)
	if err != nil {
		return err
	}
	r.ID = id
	return nil
}

// MarshalJSON implements json.Marshaler.
func (r Ref) MarshalJSON() ([]byte, error) {
	if r.Type == "" {
		return json.Marshal(r.ID)
	}
	return json.Marshal(struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}{r.ID, r.Type})
}

func idString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("%w: id %s", ErrBadShape, raw)
	}
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10), nil
	}
	return n.String(), nil
}

// ListValue is the wire form of a list property: either loaded items or the
// deferred marker meaning the list was not included and must be fetched separately.
type ListValue struct {
	Deferred bool
	Items    []Ref
}

// Deferred returns the deferred list value.
func Deferred() ListValue { return ListValue{Deferred: true} }

// UnmarshalJSON implements json.Unmarshaler.
func (l *ListValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		*l = ListValue{}
		return nil
	}
	if bytes.Equal(data, deferredJSON) {
		*l = Deferred()
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: list value: %v", ErrBadShape, err)
	}
	if len(raw) == 1 {
		var s string
		if json.Unmarshal(raw[0], &s) == nil && s == DeferredMarker {
			*l = Deferred()
			return nil
		}
	}
	items := make([]Ref, len(raw))
	for i, r := range raw {
		if err := items[i].UnmarshalJSON(r); err != nil {
			return err
		}
	}
	*l = ListValue{Items: items}
	return nil
}

// MarshalJSON implements json.Marshaler. The deferred marker is written exactly as
// ["deferred"].
func (l ListValue) MarshalJSON() ([]byte, error) {
	if l.Deferred {
		return append([]byte(nil), deferredJSON...), nil
	}
	if l.Items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.Items)
}

// IsDeferred reports whether raw is the deferred list marker.
func IsDeferred(raw json.RawMessage) bool {
	var l ListValue
	return l.UnmarshalJSON(raw) == nil && l.Deferred
}

// Properties maps property names to raw JSON values.
type Properties map[string]json.RawMessage

// Instances maps type name to id to properties.
type Instances map[string]map[string]Properties

// Add stores props for the instance, merging with properties already present.
func (in Instances) Add(typeName, id string, props Properties) {
	byID, ok := in[typeName]
	if !ok {
		byID = make(map[string]Properties)
		in[typeName] = byID
	}
	cur, ok := byID[id]
	if !ok {
		cur = make(Properties, len(props))
		byID[id] = cur
	}
	for k, v := range props {
		cur[k] = v
	}
}

// Merge folds other into in.
func (in Instances) Merge(other Instances) {
	for typeName, byID := range other {
		for id, props := range byID {
			in.Add(typeName, id, props)
		}
	}
}

// Count returns the number of instances.
func (in Instances) Count() int {
	n := 0
	for _, byID := range in {
		n += len(byID)
	}
	return n
}

// InstanceRef identifies an instance in change records.
type InstanceRef struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	IsNew bool   `json:"isNew,omitempty"`
}

func (r InstanceRef) String() string { return r.Type + "|" + r.ID }

// ChangeType discriminates change records.
type ChangeType string

const (
	InitNew         ChangeType = "InitNew"
	ValueChange     ChangeType = "ValueChange"
	ReferenceChange ChangeType = "ReferenceChange"
	ListChange      ChangeType = "ListChange"
)

// Change is one captured mutation. ReferenceChange values are encoded InstanceRefs
// or null.
type Change struct {
	Type     ChangeType      `json:"type"`
	Instance InstanceRef     `json:"instance"`
	Property string          `json:"property,omitempty"`
	OldValue json.RawMessage `json:"oldValue,omitempty"`
	NewValue json.RawMessage `json:"newValue,omitempty"`
	Added    []InstanceRef   `json:"added,omitempty"`
	Removed  []InstanceRef   `json:"removed,omitempty"`
}

// ConditionTarget names an instance a condition applies to and the implicated properties.
type ConditionTarget struct {
	Instance   InstanceRef `json:"instance"`
	Properties []string    `json:"properties,omitempty"`
}

// ConditionData is a condition reported by the server.
type ConditionData struct {
	Code     string            `json:"code"`
	Category string            `json:"category,omitempty"`
	Message  string            `json:"message"`
	Targets  []ConditionTarget `json:"targets"`
}

// IDChange reports the server id assigned to a client-created instance.
type IDChange struct {
	Type  string `json:"type"`
	OldID string `json:"oldId"`
	NewID string `json:"newId"`
}

// ObjectQuery asks for instances of From by id together with the include paths.
type ObjectQuery struct {
	From    string                 `json:"from"`
	IDs     types.IDList `json:"ids"`
	Include []string               `json:"include,omitempty"`
	InScope bool                   `json:"inScope,omitempty"`
}

// QueryRequest asks for one or more object queries. Pending changes are sent along
// so the server can answer in their context.
type QueryRequest struct {
	Queries []ObjectQuery `json:"queries"`
	Changes []Change      `json:"changes,omitempty"`
}

// ListRequest asks for the items of one list property. ID is empty for static lists.
type ListRequest struct {
	Type     string   `json:"type"`
	ID       string   `json:"id,omitempty"`
	Property string   `json:"property"`
	Include  []string `json:"include,omitempty"`
}

// TypesRequest asks for type metadata.
type TypesRequest struct {
	Names []string `json:"names"`
}

// SubmitRequest sends pending changes. Queries are answered after the changes apply.
type SubmitRequest struct {
	Changes []Change      `json:"changes"`
	Queries []ObjectQuery `json:"queries,omitempty"`
}

// Response is the answer to query, list and submit requests.
type Response struct {
	Instances Instances `json:"instances"`
	// Statics maps type name to the values of its static properties.
	Statics    map[string]Properties `json:"statics,omitempty"`
	Conditions []ConditionData       `json:"conditions,omitempty"`
	Changes    []Change              `json:"changes,omitempty"`
	IDChanges  []IDChange            `json:"idChanges,omitempty"`
}
