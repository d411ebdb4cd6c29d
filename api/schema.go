package api

// Document is the root of a schema file.
//
//	schema "TestSchema" {
//	  alias = "ts"
//	  class "Element" {
//	    map {
//	      strategy           = "ShareColumns"
//	      max_shared_columns = 40
//	    }
//	    property "Code" { type = "string" }
//	  }
//	}
type Document struct {
	Schema Schema `hcl:"schema,block" json:"schema"`
}

// Schema is a named set of class definitions.
type Schema struct {
	// Name of the schema.
	Name string `hcl:"name,label" json:"name"`
	// Alias prefixes physical table names (<alias>_<Class>).
	Alias string `hcl:"alias,optional" json:"alias,omitempty"`
	// Classes in dependency order: a base class precedes its subclasses.
	Classes []Class `hcl:"class,block" json:"classes,omitempty"`
}

// Class is one class definition.
type Class struct {
	Name     string     `hcl:"name,label" json:"name"`
	Base     string     `hcl:"base,optional" json:"base,omitempty"`
	Abstract bool       `hcl:"abstract,optional" json:"abstract,omitempty"`
	Map      *Mapping   `hcl:"map,block" json:"map,omitempty"`
	Props    []Property `hcl:"property,block" json:"properties,omitempty"`
}

// Property is one property of a class.
type Property struct {
	Name string `hcl:"name,label" json:"name"`
	// Type is one of integer, long, double, boolean, string, binary,
	// point2d, point3d, datetime, struct, primitive-array, struct-array.
	Type string `hcl:"type" json:"type"`
	// Elem is the element type of a primitive array.
	Elem string `hcl:"elem,optional" json:"elem,omitempty"`
	// Struct names the struct class of struct properties.
	Struct string `hcl:"struct,optional" json:"struct,omitempty"`
}

// Mapping is the mapping annotation of a hierarchy root.
type Mapping struct {
	// Strategy is TablePerClass (default), TablePerHierarchy or ShareColumns.
	Strategy           string `hcl:"strategy,optional" json:"strategy,omitempty"`
	DomainTables       bool   `hcl:"domain_tables,optional" json:"domain_tables,omitempty"`
	MaxSharedColumns   int    `hcl:"max_shared_columns,optional" json:"max_shared_columns,omitempty"`
	Overflow           string `hcl:"overflow,optional" json:"overflow,omitempty"` // tables | json
	Pooling            string `hcl:"pooling,optional" json:"pooling,omitempty"`   // reuse | sequential
	MaxOverflowColumns int    `hcl:"max_overflow_columns,optional" json:"max_overflow_columns,omitempty"`
}
