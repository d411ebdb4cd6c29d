// Package codegen renders typed Go accessors for the classes of a schema.
// Each concrete class becomes a struct whose fields mirror its properties,
// with conversions to and from api.Values. The output imports only the
// public api package, so it compiles outside this module.
package codegen

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"mvdan.cc/gofumpt/format"

	"github.com/agentic-research/classmap/internal/model"
)

// Options control generation.
type Options struct {
	// Package is the package clause of the generated file.
	Package string
}

var goTypes = map[model.PropertyType]string{
	model.TypeInteger:        "int32",
	model.TypeLong:           "int64",
	model.TypeDouble:         "float64",
	model.TypeBoolean:        "bool",
	model.TypeString:         "string",
	model.TypeBinary:         "[]byte",
	model.TypePoint2d:        "api.Point2d",
	model.TypePoint3d:        "api.Point3d",
	model.TypeDateTime:       "time.Time",
	model.TypeStruct:         "map[string]any",
	model.TypePrimitiveArray: "[]any",
	model.TypeStructArray:    "[]any",
}

// Generate returns gofumpt-formatted Go source for every concrete class of s.
func Generate(s *model.Schema, opts Options) ([]byte, error) {
	pkg := opts.Package
	if pkg == "" {
		pkg = strings.ToLower(s.Alias)
	}

	var body bytes.Buffer
	imports := make(map[string]bool)
	for _, id := range s.Classes() {
		c := s.Class(id)
		if c.Abstract {
			continue
		}
		imports["github.com/agentic-research/classmap/api"] = true
		props := s.GetProperties(id, true)
		for _, p := range props {
			if p.Type == model.TypeDateTime {
				imports["time"] = true
			}
		}
		writeClass(&body, s, c, props)
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "// Code generated by classmap gen. DO NOT EDIT.\n\npackage %s\n\n", pkg)
	paths := make([]string, 0, len(imports))
	for p := range imports {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	if len(paths) > 0 {
		out.WriteString("import (\n")
		for _, p := range paths {
			fmt.Fprintf(&out, "%q\n", p)
		}
		out.WriteString(")\n\n")
	}
	out.Write(body.Bytes())

	formatted, err := format.Source(out.Bytes(), format.Options{})
	if err != nil {
		return nil, fmt.Errorf("format generated code: %w", err)
	}
	return formatted, nil
}

func writeClass(w *bytes.Buffer, s *model.Schema, c *model.ClassDef, props []model.PropertyDef) {
	name := exported(c.Name)
	fmt.Fprintf(w, "// %s is an instance of %s.\ntype %s struct {\nID int64\n", name, s.QualifiedName(c.ID), name)
	for _, p := range props {
		fmt.Fprintf(w, "%s *%s\n", field(p.Name), goTypes[p.Type])
	}
	w.WriteString("}\n\n")

	fmt.Fprintf(w, "// %sClassID is the class id of %s.\nconst %sClassID = %d\n\n", name, c.Name, name, c.ID)

	fmt.Fprintf(w, "// Values returns the non-nil fields of v.\nfunc (v *%s) Values() api.Values {\nout := make(api.Values)\n", name)
	for _, p := range props {
		f := field(p.Name)
		fmt.Fprintf(w, "if v.%s != nil {\nout[%q] = *v.%s\n}\n", f, p.Name, f)
	}
	w.WriteString("return out\n}\n\n")

	fmt.Fprintf(w, "// %sFromValues builds a %s from the values of instance id.\nfunc %sFromValues(id int64, vals api.Values) *%s {\nv := &%s{ID: id}\n", name, name, name, name, name)
	for _, p := range props {
		f := field(p.Name)
		fmt.Fprintf(w, "if x, ok := vals[%q].(%s); ok {\nv.%s = &x\n}\n", p.Name, goTypes[p.Type], f)
	}
	w.WriteString("return v\n}\n\n")
}

// field names the struct field of a property. Names taken by the generated
// ID field and Values method get a Prop suffix.
func field(name string) string {
	f := exported(name)
	if f == "ID" || f == "Values" {
		f += "Prop"
	}
	return f
}

func exported(name string) string {
	r := []rune(name)
	if len(r) == 0 {
		return name
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
