package model

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
)

// Value type names understood by the model. Any other property type name refers to
// an entity type.
const (
	TypeString  = "String"
	TypeInteger = "Integer"
	TypeNumber  = "Number"
	TypeBoolean = "Boolean"
	TypeDate    = "Date"
	TypeObject  = "Object"
)

type undefined struct{}

func (undefined) String() string { return "undefined" }

// Undefined marks a value that is not known yet, for example because a hop of a
// property path has not been loaded. It is distinct from nil, which is a known absence.
var Undefined any = undefined{}

// IsUndefined reports whether v is Undefined.
func IsUndefined(v any) bool {
	_, ok := v.(undefined)
	return ok
}

// IsValueType reports whether name is one of the built-in value types.
func IsValueType(name string) bool {
	switch name {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeDate, TypeObject:
		return true
	}
	return false
}

// HasValue reports whether v holds something: nil, Undefined, empty strings and
// empty lists do not.
func HasValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case undefined:
		return false
	case string:
		return strings.TrimSpace(x) != ""
	case *List:
		return x != nil && x.Len() > 0
	case []any:
		return len(x) > 0
	case *Entity:
		return x != nil
	}
	return true
}

// coerce converts v to the canonical Go representation of the value type name.
func coerce(typeName string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch typeName {
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeInteger:
		if f, ok := ToNumber(v); ok && f == math.Trunc(f) {
			return int64(f), nil
		}
	case TypeNumber:
		if f, ok := ToNumber(v); ok {
			return f, nil
		}
	case TypeDate:
		if t, ok := v.(time.Time); ok {
			return t, nil
		}
	case TypeObject:
		return v, nil
	}
	return nil, fmt.Errorf("%w: %v (%T) is not a %s", ErrInvalidValue, v, v, typeName)
}

// ToNumber converts numeric Go values to float64.
func ToNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// CompareValues orders a and b. ok is false when the values are not comparable,
// for example when either is nil, Undefined or of unrelated kinds.
func CompareValues(a, b any) (cmp int, ok bool) {
	if a == nil || b == nil || IsUndefined(a) || IsUndefined(b) {
		return 0, false
	}
	if fa, aok := ToNumber(a); aok {
		fb, bok := ToNumber(b)
		if !bok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	switch x := a.(type) {
	case string:
		y, yok := b.(string)
		if !yok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case time.Time:
		y, yok := b.(time.Time)
		if !yok {
			return 0, false
		}
		return x.Compare(y), true
	case bool:
		y, yok := b.(bool)
		if !yok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	case *Entity:
		y, yok := b.(*Entity)
		if !yok {
			return 0, false
		}
		if x == y {
			return 0, true
		}
		return strings.Compare(x.ID(), y.ID()), true
	}
	return 0, false
}

// Equal reports whether a and b are the same value.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if c, ok := CompareValues(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}
