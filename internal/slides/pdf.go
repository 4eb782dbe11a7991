package slides

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// extractPDF returns one Section per page. Pages without recoverable text
// still yield an empty Section so page positions are preserved.
func extractPDF(filePath string) ([]Section, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}
	if ctx.PageCount == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}

	sections := make([]Section, 0, ctx.PageCount)
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		s := Section{Index: pageNr}
		if text := pageText(ctx, pageNr); text != "" {
			s.Blocks = []Block{TextBlock(text)}
		}
		sections = append(sections, s)
	}
	return sections, nil
}

func pageText(ctx *model.Context, pageNr int) string {
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil || r == nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return ""
	}
	return contentStreamText(data)
}

// contentStreamText interprets the text-showing operators of a PDF content
// stream (Tj, TJ, ', ") and the line-advancing ones (T*, Td, TD, ET).
func contentStreamText(data []byte) string {
	var (
		sb       strings.Builder
		operands []any
	)
	newline := func() {
		if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteByte('\n')
		}
	}

	lx := &pdfLexer{data: data}
	for {
		tok, ok := lx.next()
		if !ok {
			break
		}
		switch v := tok.(type) {
		case pdfOperator:
			switch v {
			case "Tj":
				writeLastString(&sb, operands)
			case "'", "\"":
				newline()
				writeLastString(&sb, operands)
			case "TJ":
				if len(operands) > 0 {
					if arr, ok := operands[len(operands)-1].([]any); ok {
						for _, item := range arr {
							switch it := item.(type) {
							case string:
								sb.WriteString(it)
							case float64:
								// Large negative kerning is a word gap.
								if it < -200 {
									sb.WriteByte(' ')
								}
							}
						}
					}
				}
			case "T*", "ET":
				newline()
			case "Td", "TD":
				if len(operands) >= 2 {
					if ty, ok := operands[len(operands)-1].(float64); ok && ty != 0 {
						newline()
						break
					}
				}
				if sb.Len() > 0 && !strings.HasSuffix(sb.String(), " ") && !strings.HasSuffix(sb.String(), "\n") {
					sb.WriteByte(' ')
				}
			}
			operands = operands[:0]
		default:
			operands = append(operands, v)
		}
	}

	lines := strings.Split(sb.String(), "\n")
	kept := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}

func writeLastString(sb *strings.Builder, operands []any) {
	if len(operands) == 0 {
		return
	}
	if s, ok := operands[len(operands)-1].(string); ok {
		sb.WriteString(s)
	}
}

type (
	pdfOperator string
	pdfName     string
)

// pdfLexer tokenizes a content stream into numbers, strings, arrays,
// names and operators. Dictionaries and inline images are skipped.
type pdfLexer struct {
	data []byte
	pos  int
}

func (l *pdfLexer) next() (any, bool) {
	l.skipSpace()
	if l.pos >= len(l.data) {
		return nil, false
	}
	c := l.data[l.pos]
	switch {
	case c == '(':
		return l.literalString(), true
	case c == '<' && l.peek(1) == '<':
		l.skipDict()
		return l.next()
	case c == '<':
		return l.hexString(), true
	case c == '[':
		l.pos++
		var arr []any
		for {
			l.skipSpace()
			if l.pos >= len(l.data) {
				return arr, true
			}
			if l.data[l.pos] == ']' {
				l.pos++
				return arr, true
			}
			tok, ok := l.next()
			if !ok {
				return arr, true
			}
			arr = append(arr, tok)
		}
	case c == '/':
		l.pos++
		return pdfName(l.word()), true
	case c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9'):
		w := l.word()
		f, err := strconv.ParseFloat(w, 64)
		if err != nil {
			return pdfOperator(w), true
		}
		return f, true
	default:
		w := l.word()
		if w == "" {
			l.pos++
			return l.next()
		}
		if w == "BI" {
			l.skipInlineImage()
			return l.next()
		}
		return pdfOperator(w), true
	}
}

func (l *pdfLexer) peek(off int) byte {
	if l.pos+off < len(l.data) {
		return l.data[l.pos+off]
	}
	return 0
}

func (l *pdfLexer) skipSpace() {
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		if c == '%' {
			for l.pos < len(l.data) && l.data[l.pos] != '\n' && l.data[l.pos] != '\r' {
				l.pos++
			}
			continue
		}
		if c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0 {
			l.pos++
			continue
		}
		return
	}
}

func isDelimiter(c byte) bool {
	switch c {
	case ' ', '\n', '\r', '\t', '\f', 0, '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func (l *pdfLexer) word() string {
	start := l.pos
	for l.pos < len(l.data) && !isDelimiter(l.data[l.pos]) {
		l.pos++
	}
	return string(l.data[start:l.pos])
}

func (l *pdfLexer) literalString() string {
	l.pos++ // opening paren
	var sb strings.Builder
	depth := 1
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		l.pos++
		switch c {
		case '\\':
			if l.pos >= len(l.data) {
				return sb.String()
			}
			e := l.data[l.pos]
			l.pos++
			switch e {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'b', 'f':
			case '\n', '\r':
				// Line continuation.
			default:
				if e >= '0' && e <= '7' {
					val := int(e - '0')
					for i := 0; i < 2 && l.pos < len(l.data) && l.data[l.pos] >= '0' && l.data[l.pos] <= '7'; i++ {
						val = val*8 + int(l.data[l.pos]-'0')
						l.pos++
					}
					sb.WriteByte(byte(val))
				} else {
					sb.WriteByte(e)
				}
			}
		case '(':
			depth++
			sb.WriteByte(c)
		case ')':
			depth--
			if depth == 0 {
				return sb.String()
			}
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

func (l *pdfLexer) hexString() string {
	l.pos++ // <
	var digits []byte
	for l.pos < len(l.data) && l.data[l.pos] != '>' {
		c := l.data[l.pos]
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
			digits = append(digits, c)
		}
		l.pos++
	}
	l.pos++ // >
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, 0, len(digits)/2)
	for i := 0; i < len(digits); i += 2 {
		b, err := strconv.ParseUint(string(digits[i:i+2]), 16, 8)
		if err != nil {
			continue
		}
		out = append(out, byte(b))
	}
	return decodeHexText(out)
}

// decodeHexText treats two-byte sequences with a UTF-16BE BOM as UTF-16
// and everything else as single-byte text, dropping control bytes.
func decodeHexText(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		var sb strings.Builder
		for i := 2; i+1 < len(b); i += 2 {
			sb.WriteRune(rune(b[i])<<8 | rune(b[i+1]))
		}
		return sb.String()
	}
	var sb strings.Builder
	for _, c := range b {
		if c >= 0x20 || c == '\n' || c == '\t' {
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

func (l *pdfLexer) skipDict() {
	depth := 0
	for l.pos+1 < len(l.data) {
		if l.data[l.pos] == '<' && l.data[l.pos+1] == '<' {
			depth++
			l.pos += 2
			continue
		}
		if l.data[l.pos] == '>' && l.data[l.pos+1] == '>' {
			depth--
			l.pos += 2
			if depth == 0 {
				return
			}
			continue
		}
		if l.data[l.pos] == '(' {
			l.literalString()
			continue
		}
		l.pos++
	}
	l.pos = len(l.data)
}

func (l *pdfLexer) skipInlineImage() {
	idx := strings.Index(string(l.data[l.pos:]), "EI")
	if idx < 0 {
		l.pos = len(l.data)
		return
	}
	l.pos += idx + 2
}
