package slides

import (
	"fmt"
	"os"
	"path/filepath"
)

// Open reads and parses one document. Any failure is returned as a
// *DocumentReadError scoped to that file.
func Open(filePath string) (*Document, error) {
	name := filepath.Base(filePath)
	format, ok := FormatFor(name)
	if !ok {
		return nil, &DocumentReadError{Name: name, Path: filePath, Err: fmt.Errorf("unsupported format")}
	}

	if _, err := os.Stat(filePath); err != nil {
		return nil, &DocumentReadError{Name: name, Path: filePath, Err: err}
	}

	var (
		sections []Section
		err      error
	)
	switch format {
	case FormatPPTX:
		sections, err = extractPPTX(filePath)
	case FormatPDF:
		sections, err = extractPDF(filePath)
	}
	if err != nil {
		return nil, &DocumentReadError{Name: name, Path: filePath, Err: err}
	}

	return &Document{
		Name:     name,
		Path:     filePath,
		Format:   format,
		Sections: sections,
	}, nil
}

// Extract opens a document and returns its flattened text.
func Extract(filePath string) (*Document, string, error) {
	doc, err := Open(filePath)
	if err != nil {
		return nil, "", err
	}
	return doc, Flatten(doc), nil
}
