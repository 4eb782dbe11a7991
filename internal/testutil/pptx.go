// Package testutil builds on-disk fixtures for package tests.
package testutil

import (
	"archive/zip"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const (
	nsA = "http://schemas.openxmlformats.org/drawingml/2006/main"
	nsP = "http://schemas.openxmlformats.org/presentationml/2006/main"
	nsR = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"
)

// TextShape renders a DrawingML text shape with one paragraph per argument.
func TextShape(paragraphs ...string) string {
	var sb strings.Builder
	sb.WriteString(`<p:sp><p:txBody>`)
	for _, para := range paragraphs {
		sb.WriteString(`<a:p><a:r><a:t>`)
		sb.WriteString(html.EscapeString(para))
		sb.WriteString(`</a:t></a:r></a:p>`)
	}
	sb.WriteString(`</p:txBody></p:sp>`)
	return sb.String()
}

// TableShape renders a graphic frame holding a table.
func TableShape(rows [][]string) string {
	var sb strings.Builder
	sb.WriteString(`<p:graphicFrame><a:graphic><a:graphicData><a:tbl>`)
	for _, row := range rows {
		sb.WriteString(`<a:tr>`)
		for _, cell := range row {
			sb.WriteString(`<a:tc><a:txBody><a:p>`)
			if cell != "" {
				sb.WriteString(`<a:r><a:t>`)
				sb.WriteString(html.EscapeString(cell))
				sb.WriteString(`</a:t></a:r>`)
			}
			sb.WriteString(`</a:p></a:txBody></a:tc>`)
		}
		sb.WriteString(`</a:tr>`)
	}
	sb.WriteString(`</a:tbl></a:graphicData></a:graphic></p:graphicFrame>`)
	return sb.String()
}

// SlideXML wraps shapes into a slide part.
func SlideXML(shapes ...string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`+
		`<p:sld xmlns:a="%s" xmlns:p="%s" xmlns:r="%s"><p:cSld><p:spTree>%s</p:spTree></p:cSld></p:sld>`,
		nsA, nsP, nsR, strings.Join(shapes, ""))
}

// WritePPTX writes a minimal .pptx into dir with the given slide parts in
// presentation order and returns its path.
func WritePPTX(t *testing.T, dir, name string, slides ...string) string {
	t.Helper()

	parts := make(map[string]string, len(slides)+2)
	var ids, rels strings.Builder
	for i, slide := range slides {
		n := i + 1
		parts[fmt.Sprintf("ppt/slides/slide%d.xml", n)] = slide
		fmt.Fprintf(&ids, `<p:sldId id="%d" r:id="rId%d"/>`, 255+n, n)
		fmt.Fprintf(&rels, `<Relationship Id="rId%d" Type="%s/slide" Target="slides/slide%d.xml"/>`, n, nsR, n)
	}
	parts["ppt/presentation.xml"] = fmt.Sprintf(
		`<?xml version="1.0" encoding="UTF-8"?><p:presentation xmlns:p="%s" xmlns:r="%s"><p:sldIdLst>%s</p:sldIdLst></p:presentation>`,
		nsP, nsR, ids.String())
	parts["ppt/_rels/presentation.xml.rels"] = fmt.Sprintf(
		`<?xml version="1.0" encoding="UTF-8"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">%s</Relationships>`,
		rels.String())

	return WriteZip(t, dir, name, parts)
}

// WriteZip writes an archive with the given part contents.
func WriteZip(t *testing.T, dir, name string, parts map[string]string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for partName, content := range parts {
		w, err := zw.Create(partName)
		if err != nil {
			t.Fatalf("create part %s: %v", partName, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write part %s: %v", partName, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return path
}
