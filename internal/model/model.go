// Package model holds class hierarchies: classes, their typed properties and
// single-inheritance base links.
//
// Classes live in an arena owned by Schema and refer to each other by ClassID,
// never by pointer. A ClassID is the 1-based arena index and doubles as the
// value persisted in ClassId columns. Base classes must be defined before their
// subclasses, so the arena order is a valid topological order and cycles are
// impossible.
package model

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/RoaringBitmap/roaring"
)

// ClassID identifies a class within its Schema. Zero means "no class".
type ClassID uint32

// ClassDef is one class of the schema.
type ClassDef struct {
	ID   ClassID
	Name string
	Base ClassID
	// Properties are the class's own properties in declaration order.
	Properties []PropertyDef
	// Annotation is only set on hierarchy roots.
	Annotation *MappingAnnotation
	Abstract   bool

	children []ClassID
}

// Children returns the direct subclasses in definition order.
func (c *ClassDef) Children() []ClassID {
	return c.children
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reserved column names used by the physical layout.
var reserved = map[string]bool{
	"id":       true,
	"classid":  true,
	"overflow": true,
}

// Schema is an arena of class definitions.
type Schema struct {
	Name  string
	Alias string

	classes []ClassDef
	byName  map[string]ClassID
}

// NewSchema creates an empty schema. An empty alias defaults to the
// lower-cased schema name.
func NewSchema(name, alias string) *Schema {
	if alias == "" {
		alias = strings.ToLower(name)
	}
	return &Schema{
		Name:   name,
		Alias:  alias,
		byName: make(map[string]ClassID),
	}
}

// Clone returns a deep copy, so callers can stage changes and discard them
// on failure.
func (s *Schema) Clone() *Schema {
	c := &Schema{
		Name:    s.Name,
		Alias:   s.Alias,
		classes: make([]ClassDef, len(s.classes)),
		byName:  make(map[string]ClassID, len(s.byName)),
	}
	for i, cd := range s.classes {
		cd.Properties = append([]PropertyDef(nil), cd.Properties...)
		cd.children = append([]ClassID(nil), cd.children...)
		if cd.Annotation != nil {
			a := *cd.Annotation
			cd.Annotation = &a
		}
		c.classes[i] = cd
	}
	for k, v := range s.byName {
		c.byName[k] = v
	}
	return c
}

// Len returns the number of classes.
func (s *Schema) Len() int {
	return len(s.classes)
}

// Classes returns all class IDs in definition order.
func (s *Schema) Classes() []ClassID {
	ids := make([]ClassID, len(s.classes))
	for i := range s.classes {
		ids[i] = ClassID(i + 1)
	}
	return ids
}

// Class returns the class with the given ID, or nil.
func (s *Schema) Class(id ClassID) *ClassDef {
	if id == 0 || int(id) > len(s.classes) {
		return nil
	}
	return &s.classes[id-1]
}

// Lookup returns the class ID for a name.
func (s *Schema) Lookup(name string) (ClassID, bool) {
	id, ok := s.byName[name]
	return id, ok
}

// MustLookup is like Lookup but returns ErrClassNotFound.
func (s *Schema) MustLookup(name string) (ClassID, error) {
	id, ok := s.byName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrClassNotFound, name)
	}
	return id, nil
}

// DefineClass adds a class. The base class, if any, must already exist.
// Mapping annotations are only accepted on hierarchy roots.
func (s *Schema) DefineClass(name, base string, props []PropertyDef, annotation *MappingAnnotation, abstract bool) (*ClassDef, error) {
	if !identRe.MatchString(name) {
		return nil, fmt.Errorf("%w: class name %q", ErrInvalidName, name)
	}
	if _, dup := s.byName[name]; dup {
		return nil, &DuplicateClassError{Name: name}
	}

	var baseID ClassID
	if base != "" {
		id, ok := s.byName[base]
		if !ok {
			return nil, &UnknownBaseClassError{Class: name, Base: base}
		}
		baseID = id
		if annotation != nil {
			return nil, fmt.Errorf("class %q: mapping annotation is only allowed on hierarchy roots", name)
		}
	}
	if annotation != nil {
		if err := annotation.Validate(); err != nil {
			return nil, fmt.Errorf("class %q: %w", name, err)
		}
		a := *annotation
		annotation = &a
	}

	id := ClassID(len(s.classes) + 1)
	seen := make(map[string]bool)
	if baseID != 0 {
		for _, p := range s.GetProperties(baseID, true) {
			seen[strings.ToLower(p.Name)] = true
		}
	}
	own := make([]PropertyDef, 0, len(props))
	for _, p := range props {
		if err := checkProperty(name, p); err != nil {
			return nil, err
		}
		key := strings.ToLower(p.Name)
		if seen[key] {
			return nil, &DuplicatePropertyError{Class: name, Property: p.Name}
		}
		seen[key] = true
		p.Declaring = id
		own = append(own, p)
	}

	s.classes = append(s.classes, ClassDef{
		ID:         id,
		Name:       name,
		Base:       baseID,
		Properties: own,
		Annotation: annotation,
		Abstract:   abstract,
	})
	s.byName[name] = id
	if baseID != 0 {
		b := &s.classes[baseID-1]
		b.children = append(b.children, id)
	}
	return &s.classes[id-1], nil
}

// AppendProperties adds properties to an existing class. This is the only
// mutation allowed after a class is defined; names must not collide with
// any property along the class's chain or in its subclasses.
func (s *Schema) AppendProperties(id ClassID, props ...PropertyDef) error {
	c := s.Class(id)
	if c == nil {
		return fmt.Errorf("%w: id %d", ErrClassNotFound, id)
	}
	seen := make(map[string]bool)
	for _, p := range s.GetProperties(id, true) {
		seen[strings.ToLower(p.Name)] = true
	}
	for _, sub := range s.Descendants(id) {
		for _, p := range s.Class(sub).Properties {
			seen[strings.ToLower(p.Name)] = true
		}
	}
	for _, p := range props {
		if err := checkProperty(c.Name, p); err != nil {
			return err
		}
		key := strings.ToLower(p.Name)
		if seen[key] {
			return &DuplicatePropertyError{Class: c.Name, Property: p.Name}
		}
		seen[key] = true
		p.Declaring = id
		c.Properties = append(c.Properties, p)
	}
	return nil
}

func checkProperty(class string, p PropertyDef) error {
	if !identRe.MatchString(p.Name) {
		return fmt.Errorf("%w: class %q property %q", ErrInvalidName, class, p.Name)
	}
	if reserved[strings.ToLower(p.Name)] {
		return fmt.Errorf("%w: class %q property %q is a reserved column name", ErrInvalidName, class, p.Name)
	}
	if p.Type == TypeInvalid {
		return fmt.Errorf("class %q property %q: missing type", class, p.Name)
	}
	if p.Type == TypePrimitiveArray && !p.Elem.IsPrimitive() {
		return fmt.Errorf("class %q property %q: primitive array needs a primitive element type", class, p.Name)
	}
	return nil
}

// GetProperties returns the properties of a class. With includeInherited,
// base-class properties come first, each class's own properties appended in
// declaration order.
func (s *Schema) GetProperties(id ClassID, includeInherited bool) []PropertyDef {
	c := s.Class(id)
	if c == nil {
		return nil
	}
	if !includeInherited {
		return append([]PropertyDef(nil), c.Properties...)
	}
	var out []PropertyDef
	for _, a := range s.Ancestors(id) {
		out = append(out, s.Class(a).Properties...)
	}
	return out
}

// FindProperty looks a property up along the class's inheritance chain.
func (s *Schema) FindProperty(id ClassID, name string) (PropertyDef, bool) {
	for _, p := range s.GetProperties(id, true) {
		if p.Name == name {
			return p, true
		}
	}
	return PropertyDef{}, false
}

// Ancestors returns the chain from the hierarchy root down to id, inclusive.
func (s *Schema) Ancestors(id ClassID) []ClassID {
	var chain []ClassID
	for c := s.Class(id); c != nil; c = s.Class(c.Base) {
		chain = append(chain, c.ID)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// Root returns the hierarchy root of id.
func (s *Schema) Root(id ClassID) ClassID {
	chain := s.Ancestors(id)
	if len(chain) == 0 {
		return 0
	}
	return chain[0]
}

// Roots returns all hierarchy roots in definition order.
func (s *Schema) Roots() []ClassID {
	var roots []ClassID
	for i := range s.classes {
		if s.classes[i].Base == 0 {
			roots = append(roots, s.classes[i].ID)
		}
	}
	return roots
}

// IsA reports whether id equals base or derives from it.
func (s *Schema) IsA(id, base ClassID) bool {
	for c := s.Class(id); c != nil; c = s.Class(c.Base) {
		if c.ID == base {
			return true
		}
	}
	return false
}

// Hierarchy returns id and all of its descendants in pre-order, children
// visited in definition order.
func (s *Schema) Hierarchy(id ClassID) []ClassID {
	c := s.Class(id)
	if c == nil {
		return nil
	}
	out := []ClassID{id}
	for _, ch := range c.children {
		out = append(out, s.Hierarchy(ch)...)
	}
	return out
}

// Descendants is Hierarchy without id itself.
func (s *Schema) Descendants(id ClassID) []ClassID {
	h := s.Hierarchy(id)
	if len(h) == 0 {
		return nil
	}
	return h[1:]
}

// ConcreteSubtree returns the IDs of id and its descendants that are not
// abstract.
func (s *Schema) ConcreteSubtree(id ClassID) *roaring.Bitmap {
	bm := roaring.New()
	for _, c := range s.Hierarchy(id) {
		if !s.Class(c).Abstract {
			bm.Add(uint32(c))
		}
	}
	return bm
}

// Annotation returns the effective mapping annotation of id's hierarchy.
// Unannotated hierarchies map TablePerClass.
func (s *Schema) Annotation(id ClassID) MappingAnnotation {
	root := s.Class(s.Root(id))
	if root == nil || root.Annotation == nil {
		return MappingAnnotation{Strategy: TablePerClass}
	}
	return *root.Annotation
}
