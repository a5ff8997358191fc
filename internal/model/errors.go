package model

import (
	"errors"
)

var (
	// ErrInvalidID is returned for empty identifiers.
	ErrInvalidID = errors.New("invalid id")
	// ErrDuplicateID is returned when an identifier is already registered in a type hierarchy.
	ErrDuplicateID = errors.New("duplicate id")
	// ErrExactTypeMismatch is returned when an exact type lookup finds a subtype instance.
	ErrExactTypeMismatch = errors.New("instance is not of the exact type requested")
	// ErrObjectNotFound is returned when an identifier is not registered.
	ErrObjectNotFound = errors.New("object not found")
	// ErrTypeNotFound is returned when a type name is unknown to the model.
	ErrTypeNotFound = errors.New("type not found")
	// ErrDuplicateType is returned when a type name is added twice.
	ErrDuplicateType = errors.New("duplicate type")
	// ErrPropertyNotFound is returned when a property name is unknown on a type.
	ErrPropertyNotFound = errors.New("property not found")
	// ErrDuplicateProperty is returned when a property name is already defined in a hierarchy.
	ErrDuplicateProperty = errors.New("duplicate property")
	// ErrPropertyNotInitialized is returned when reading a property whose value was never loaded.
	ErrPropertyNotInitialized = errors.New("property is not initialized")
	// ErrListAssignment is returned when assigning a list property directly.
	ErrListAssignment = errors.New("list properties cannot be assigned")
	// ErrInvalidValue is returned when a value does not fit the property type.
	ErrInvalidValue = errors.New("invalid value")
	// ErrInvalidPath is returned for malformed property paths.
	ErrInvalidPath = errors.New("invalid property path")
	// ErrDuplicateConditionType is returned when a condition type code is registered twice.
	ErrDuplicateConditionType = errors.New("duplicate condition type")
)

func validateID(id string) error {
	if id == "" {
		return ErrInvalidID
	}
	return nil
}
