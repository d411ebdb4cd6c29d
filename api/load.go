package api

import (
	"fmt"
	"io"

	billy "github.com/go-git/go-billy/v5"
	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Decode parses a schema document. The filename extension selects the
// syntax: .hcl for native HCL, .json for HCL's JSON syntax.
func Decode(filename string, src []byte) (*Document, error) {
	var doc Document
	if err := hclsimple.Decode(filename, src, nil, &doc); err != nil {
		return nil, fmt.Errorf("decode schema %s: %w", filename, err)
	}
	return &doc, nil
}

// Load reads and decodes a schema document from fs.
func Load(fs billy.Filesystem, path string) (*Document, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open schema %s: %w", path, err)
	}
	defer func() { _ = f.Close() }() // read-only

	src, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	return Decode(path, src)
}
