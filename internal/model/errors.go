package model

import (
	"errors"
	"fmt"
)

var (
	ErrClassNotFound    = errors.New("class not found")
	ErrInvalidName      = errors.New("invalid identifier")
	ErrPropertyNotFound = errors.New("property not found")
)

// DuplicateClassError is returned when a class name is defined twice in a schema.
type DuplicateClassError struct {
	Name string
}

func (e *DuplicateClassError) Error() string {
	return fmt.Sprintf("class %q is already defined", e.Name)
}

// UnknownBaseClassError is returned when a class names a base class that has
// not been defined before it.
type UnknownBaseClassError struct {
	Class string
	Base  string
}

func (e *UnknownBaseClassError) Error() string {
	return fmt.Sprintf("class %q: unknown base class %q", e.Class, e.Base)
}

// DuplicatePropertyError is returned when a property name is declared twice
// along one inheritance chain.
type DuplicatePropertyError struct {
	Class    string
	Property string
}

func (e *DuplicatePropertyError) Error() string {
	return fmt.Sprintf("class %q: property %q is already defined", e.Class, e.Property)
}

// IncompatibleUpgradeError is returned when a re-imported class changes in a
// way other than appending properties.
type IncompatibleUpgradeError struct {
	Class  string
	Reason string
}

func (e *IncompatibleUpgradeError) Error() string {
	if e.Class == "" {
		return "incompatible schema upgrade: " + e.Reason
	}
	return fmt.Sprintf("incompatible upgrade of class %q: %s", e.Class, e.Reason)
}
