package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Format converts property values to and from their wire representation.
type Format interface {
	Name() string
	// Convert returns the JSON-compatible wire form of v.
	Convert(v any) (any, error)
	// ConvertBack parses a decoded JSON value into the model representation.
	ConvertBack(v any) (any, error)
}

type valueFormat struct {
	name string
	typ  string
}

func (f valueFormat) Name() string { return f.name }

func (f valueFormat) Convert(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano), nil
	}
	return coerce(f.typ, v)
}

func (f valueFormat) ConvertBack(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return coerce(f.typ, n)
	case string:
		switch f.typ {
		case TypeDate:
			t, err := time.Parse(time.RFC3339Nano, x)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
			}
			return t, nil
		case TypeInteger, TypeNumber:
			n, err := strconv.ParseFloat(x, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
			}
			return coerce(f.typ, n)
		}
	}
	return coerce(f.typ, v)
}

var defaultFormats = map[string]Format{
	TypeString:  valueFormat{name: "string", typ: TypeString},
	TypeInteger: valueFormat{name: "integer", typ: TypeInteger},
	TypeNumber:  valueFormat{name: "number", typ: TypeNumber},
	TypeBoolean: valueFormat{name: "boolean", typ: TypeBoolean},
	TypeDate:    valueFormat{name: "date", typ: TypeDate},
	TypeObject:  valueFormat{name: "object", typ: TypeObject},
}

// RegisterFormat makes f available to properties declaring format name.
func (m *Model) RegisterFormat(name string, f Format) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.formats[name] = f
}

// FormatFor returns the format used to (de)serialize values of p. Reference
// properties have no format.
func (m *Model) FormatFor(p *Property) Format {
	m.mu.RLock()
	f, ok := m.formats[p.format]
	m.mu.RUnlock()
	if ok {
		return f
	}
	return defaultFormats[p.typ]
}

// ToWire converts a value of p to its wire form.
func (m *Model) ToWire(p *Property, v any) (any, error) {
	if IsUndefined(v) {
		return nil, nil
	}
	f := m.FormatFor(p)
	if f == nil {
		return v, nil
	}
	return f.Convert(v)
}

// FromWire converts a decoded wire value to the model value of p.
func (m *Model) FromWire(p *Property, v any) (any, error) {
	f := m.FormatFor(p)
	if f == nil {
		return v, nil
	}
	return f.ConvertBack(v)
}
