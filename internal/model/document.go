package model

import (
	"fmt"
	"strings"

	"github.com/agentic-research/classmap/api"
)

// Apply stages doc onto a copy of s and returns the copy. Classes new to s
// are defined; classes already in s may only append properties. On any
// error s is left untouched and nothing of doc is visible. A nil s starts
// from an empty schema.
func Apply(s *Schema, doc *api.Schema) (*Schema, error) {
	var next *Schema
	if s == nil || s.Len() == 0 {
		if s != nil && s.Name != "" && s.Name != doc.Name {
			return nil, &IncompatibleUpgradeError{Reason: fmt.Sprintf("schema %q cannot replace %q", doc.Name, s.Name)}
		}
		next = NewSchema(doc.Name, doc.Alias)
	} else {
		if s.Name != doc.Name {
			return nil, &IncompatibleUpgradeError{Reason: fmt.Sprintf("schema %q cannot replace %q", doc.Name, s.Name)}
		}
		if doc.Alias != "" && doc.Alias != s.Alias {
			return nil, &IncompatibleUpgradeError{Reason: fmt.Sprintf("alias %q cannot replace %q", doc.Alias, s.Alias)}
		}
		next = s.Clone()
	}

	inDoc := make(map[string]bool, len(doc.Classes))
	for _, c := range doc.Classes {
		if inDoc[c.Name] {
			return nil, &DuplicateClassError{Name: c.Name}
		}
		inDoc[c.Name] = true

		props, err := convertProperties(c)
		if err != nil {
			return nil, err
		}
		ann, err := convertMapping(c)
		if err != nil {
			return nil, err
		}

		id, exists := next.Lookup(c.Name)
		if !exists {
			if _, err := next.DefineClass(c.Name, c.Base, props, ann, c.Abstract); err != nil {
				return nil, err
			}
			continue
		}
		added, err := upgradeDelta(next, id, c, props, ann)
		if err != nil {
			return nil, err
		}
		if err := next.AppendProperties(id, added...); err != nil {
			return nil, err
		}
	}
	return next, nil
}

// upgradeDelta checks that c only appends properties to the existing class
// and returns the appended ones.
func upgradeDelta(s *Schema, id ClassID, c api.Class, props []PropertyDef, ann *MappingAnnotation) ([]PropertyDef, error) {
	cur := s.Class(id)
	baseName := ""
	if b := s.Class(cur.Base); b != nil {
		baseName = b.Name
	}
	if baseName != c.Base {
		return nil, &IncompatibleUpgradeError{Class: c.Name, Reason: fmt.Sprintf("base class changed from %q to %q", baseName, c.Base)}
	}
	if cur.Abstract != c.Abstract {
		return nil, &IncompatibleUpgradeError{Class: c.Name, Reason: "abstract flag changed"}
	}
	if !sameAnnotation(cur.Annotation, ann) {
		return nil, &IncompatibleUpgradeError{Class: c.Name, Reason: "mapping annotation changed"}
	}
	if len(props) < len(cur.Properties) {
		return nil, &IncompatibleUpgradeError{Class: c.Name, Reason: "properties removed"}
	}
	for i, p := range cur.Properties {
		q := props[i]
		if p.Name != q.Name || p.Type != q.Type || p.Elem != q.Elem {
			return nil, &IncompatibleUpgradeError{Class: c.Name, Reason: fmt.Sprintf("property %q changed", p.Name)}
		}
	}
	return props[len(cur.Properties):], nil
}

func sameAnnotation(a, b *MappingAnnotation) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func convertProperties(c api.Class) ([]PropertyDef, error) {
	props := make([]PropertyDef, 0, len(c.Props))
	for _, p := range c.Props {
		t, err := ParsePropertyType(p.Type)
		if err != nil {
			return nil, fmt.Errorf("class %q property %q: %w", c.Name, p.Name, err)
		}
		pd := PropertyDef{Name: p.Name, Type: t, Struct: p.Struct}
		if t == TypePrimitiveArray {
			elem := p.Elem
			if elem == "" {
				elem = "string"
			}
			if pd.Elem, err = ParsePropertyType(elem); err != nil {
				return nil, fmt.Errorf("class %q property %q: %w", c.Name, p.Name, err)
			}
		}
		props = append(props, pd)
	}
	return props, nil
}

func convertMapping(c api.Class) (*MappingAnnotation, error) {
	if c.Map == nil {
		return nil, nil
	}
	m := c.Map
	st, err := ParseStrategy(m.Strategy)
	if err != nil {
		return nil, fmt.Errorf("class %q: %w", c.Name, err)
	}
	ov, err := ParseOverflowMode(m.Overflow)
	if err != nil {
		return nil, fmt.Errorf("class %q: %w", c.Name, err)
	}
	pool, err := ParsePooling(m.Pooling)
	if err != nil {
		return nil, fmt.Errorf("class %q: %w", c.Name, err)
	}
	return &MappingAnnotation{
		Strategy:           st,
		DomainTables:       m.DomainTables,
		MaxSharedColumns:   m.MaxSharedColumns,
		Overflow:           ov,
		Pooling:            pool,
		MaxOverflowColumns: m.MaxOverflowColumns,
	}, nil
}

// ToDocument renders s back into a schema document.
func ToDocument(s *Schema) *api.Schema {
	doc := &api.Schema{Name: s.Name, Alias: s.Alias}
	for _, id := range s.Classes() {
		c := s.Class(id)
		ac := api.Class{Name: c.Name, Abstract: c.Abstract}
		if b := s.Class(c.Base); b != nil {
			ac.Base = b.Name
		}
		if a := c.Annotation; a != nil {
			ac.Map = &api.Mapping{
				Strategy:           a.Strategy.String(),
				DomainTables:       a.DomainTables,
				MaxSharedColumns:   a.MaxSharedColumns,
				Overflow:           a.Overflow.String(),
				Pooling:            a.Pooling.String(),
				MaxOverflowColumns: a.MaxOverflowColumns,
			}
		}
		for _, p := range c.Properties {
			ap := api.Property{Name: p.Name, Type: p.Type.String(), Struct: p.Struct}
			if p.Type == TypePrimitiveArray {
				ap.Elem = p.Elem.String()
			}
			ac.Props = append(ac.Props, ap)
		}
		doc.Classes = append(doc.Classes, ac)
	}
	return doc
}

// QualifiedName returns "<schema>.<class>".
func (s *Schema) QualifiedName(id ClassID) string {
	c := s.Class(id)
	if c == nil {
		return ""
	}
	return strings.Join([]string{s.Name, c.Name}, ".")
}
