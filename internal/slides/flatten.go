package slides

import (
	"strings"
)

const (
	// SlideStart opens a section in flattened text.
	SlideStart = "[SLIDE START]"
	// SlideEnd closes a section in flattened text.
	SlideEnd = "[SLIDE END]"

	// CellSeparator joins the non-empty cells of a table row.
	CellSeparator = " | "
)

// markerReplacer neutralizes delimiter tokens that occur inside document text,
// so neither section markers nor batch file markers can be forged by content.
var markerReplacer = strings.NewReplacer(
	SlideStart, "(SLIDE START)",
	SlideEnd, "(SLIDE END)",
	"[[", "[ [",
	"]]", "] ]",
)

// sanitize normalizes line endings and neutralizes marker tokens.
func sanitize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = markerReplacer.Replace(s)
	for strings.Contains(s, "[[") || strings.Contains(s, "]]") {
		s = markerReplacer.Replace(s)
	}
	return s
}

// RenderRow joins the non-empty cells of a row. Returns "" when every cell is empty.
func RenderRow(cells []string) string {
	kept := make([]string, 0, len(cells))
	for _, c := range cells {
		c = strings.Join(strings.Fields(c), " ")
		if c != "" {
			kept = append(kept, c)
		}
	}
	return strings.Join(kept, CellSeparator)
}

// Text renders the section body: text blocks and table rows, newline-joined
// in shape order. Empty blocks and wholly empty rows are skipped.
func (s Section) Text() string {
	var parts []string
	for _, b := range s.Blocks {
		switch b.Kind {
		case BlockText:
			if text := strings.TrimSpace(sanitize(b.Text)); text != "" {
				parts = append(parts, text)
			}
		case BlockTable:
			for _, row := range b.Rows {
				if line := RenderRow(row); line != "" {
					parts = append(parts, sanitize(line))
				}
			}
		}
	}
	return strings.Join(parts, "\n")
}

// Flatten renders the document as marker-delimited text. Each section,
// including empty ones, produces exactly one SlideStart/SlideEnd pair.
func Flatten(doc *Document) string {
	var sb strings.Builder
	for i, s := range doc.Sections {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(SlideStart)
		sb.WriteByte('\n')
		if body := s.Text(); body != "" {
			sb.WriteString(body)
			sb.WriteByte('\n')
		}
		sb.WriteString(SlideEnd)
	}
	return sb.String()
}

// SplitSections recovers section bodies from flattened text, in order.
// Text without any markers is treated as one section (or none when blank).
func SplitSections(text string) []string {
	if !strings.Contains(text, SlideStart) {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{strings.TrimSpace(text)}
	}

	var (
		sections []string
		buf      []string
		open     bool
	)
	for _, line := range strings.Split(text, "\n") {
		switch strings.TrimSpace(line) {
		case SlideStart:
			if open {
				// Unterminated section: close it before starting the next one.
				sections = append(sections, strings.Join(buf, "\n"))
			}
			open = true
			buf = buf[:0]
		case SlideEnd:
			if open {
				sections = append(sections, strings.Join(buf, "\n"))
				open = false
				buf = buf[:0]
			}
		default:
			if open {
				buf = append(buf, line)
			}
		}
	}
	if open {
		sections = append(sections, strings.Join(buf, "\n"))
	}
	return sections
}

// CountSections returns the number of sections encoded in flattened text.
func CountSections(text string) int {
	return len(SplitSections(text))
}
