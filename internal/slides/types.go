// Package slides flattens slide decks and paged documents into marker-delimited text.
//
// Every document becomes an ordered list of Sections (one per slide or page).
// Flatten renders them with explicit [SLIDE START]/[SLIDE END] markers so
// SplitSections can recover the section count and order downstream.
package slides

import (
	"fmt"
	"strings"
)

// Format identifies a supported source document type.
type Format string

const (
	FormatPPTX Format = "pptx"
	FormatPDF  Format = "pdf"
)

// BlockKind distinguishes free text from tabular content.
type BlockKind int

const (
	BlockText BlockKind = iota
	BlockTable
)

// Block is one shape's worth of content inside a Section.
type Block struct {
	Kind BlockKind
	Text string     // BlockText only
	Rows [][]string // BlockTable only; rows of cell strings
}

// TextBlock builds a free-text block.
func TextBlock(text string) Block {
	return Block{Kind: BlockText, Text: text}
}

// TableBlock builds a table block from rows of cells.
func TableBlock(rows [][]string) Block {
	return Block{Kind: BlockTable, Rows: rows}
}

// Section is a single slide or page.
type Section struct {
	Index  int // 1-based position in the document
	Blocks []Block
}

// Document is an extracted source file.
type Document struct {
	Name     string // base filename, the identity key for the run
	Path     string
	Format   Format
	Sections []Section
}

// DocumentReadError reports a source document that could not be opened or parsed.
// It is scoped to one document; callers skip the file and continue.
type DocumentReadError struct {
	Name string
	Path string
	Err  error
}

func (e *DocumentReadError) Error() string {
	return fmt.Sprintf("read document %s: %v", e.Name, e.Err)
}

func (e *DocumentReadError) Unwrap() error {
	return e.Err
}

// FormatFor returns the Format for a filename, or false when unsupported.
func FormatFor(name string) (Format, bool) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".pptx"):
		return FormatPPTX, true
	case strings.HasSuffix(lower, ".pdf"):
		return FormatPDF, true
	default:
		return "", false
	}
}
