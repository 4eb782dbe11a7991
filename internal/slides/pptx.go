package slides

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	presentationPart = "ppt/presentation.xml"
	presentationRels = "ppt/_rels/presentation.xml.rels"
	slideRelType     = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/slide"
)

var slidePartRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// extractPPTX reads slides in presentation order from a .pptx archive.
func extractPPTX(filePath string) ([]Section, error) {
	r, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	parts := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		parts[f.Name] = f
	}

	order, err := slideOrder(parts)
	if err != nil {
		return nil, err
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("no slides found in archive")
	}

	sections := make([]Section, 0, len(order))
	for i, name := range order {
		f, ok := parts[name]
		if !ok {
			return nil, fmt.Errorf("slide part %s missing from archive", name)
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		blocks, err := parseSlideXML(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		sections = append(sections, Section{Index: i + 1, Blocks: blocks})
	}
	return sections, nil
}

// slideOrder resolves slide part names in presentation order via the
// presentation's slide id list. Falls back to numeric part order when the
// presentation part or its relationships are absent.
func slideOrder(parts map[string]*zip.File) ([]string, error) {
	pres, hasPres := parts[presentationPart]
	rels, hasRels := parts[presentationRels]
	if hasPres && hasRels {
		order, err := orderFromPresentation(pres, rels)
		if err != nil {
			return nil, err
		}
		if len(order) > 0 {
			return order, nil
		}
	}
	return numericSlideOrder(parts), nil
}

type presentationXML struct {
	SlideIDs []struct {
		RID string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
	} `xml:"sldIdLst>sldId"`
}

type relationshipsXML struct {
	Relationships []struct {
		ID     string `xml:"Id,attr"`
		Type   string `xml:"Type,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

func orderFromPresentation(presFile, relsFile *zip.File) ([]string, error) {
	var pres presentationXML
	if err := decodeXMLPart(presFile, &pres); err != nil {
		return nil, fmt.Errorf("parse presentation: %w", err)
	}
	var rels relationshipsXML
	if err := decodeXMLPart(relsFile, &rels); err != nil {
		return nil, fmt.Errorf("parse presentation relationships: %w", err)
	}

	targets := make(map[string]string, len(rels.Relationships))
	for _, rel := range rels.Relationships {
		if rel.Type != slideRelType {
			continue
		}
		target := rel.Target
		if strings.HasPrefix(target, "/") {
			target = strings.TrimPrefix(target, "/")
		} else {
			target = path.Clean(path.Join("ppt", target))
		}
		targets[rel.ID] = target
	}

	order := make([]string, 0, len(pres.SlideIDs))
	for _, id := range pres.SlideIDs {
		if target, ok := targets[id.RID]; ok {
			order = append(order, target)
		}
	}
	return order, nil
}

func numericSlideOrder(parts map[string]*zip.File) []string {
	type numbered struct {
		name string
		n    int
	}
	var found []numbered
	for name := range parts {
		m := slidePartRe.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		found = append(found, numbered{name: name, n: n})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })

	order := make([]string, len(found))
	for i, f := range found {
		order[i] = f.name
	}
	return order
}

func decodeXMLPart(f *zip.File, v any) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return xml.NewDecoder(rc).Decode(v)
}

// slideParser walks DrawingML tokens and collects text shapes and tables
// in document (shape) order.
type slideParser struct {
	blocks []Block

	shapeDepth int
	shapeParas []string

	tableDepth int
	rows       [][]string
	row        []string
	cellParas  []string
	inCell     bool

	inPara bool
	inText bool
	para   strings.Builder
}

// parseSlideXML extracts blocks from one slide part.
func parseSlideXML(r io.Reader) ([]Block, error) {
	p := &slideParser{}
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			p.start(t.Name.Local)
		case xml.EndElement:
			p.end(t.Name.Local)
		case xml.CharData:
			if p.inText {
				p.para.Write(t)
			}
		}
	}
	return p.blocks, nil
}

func (p *slideParser) start(local string) {
	switch local {
	case "sp":
		p.shapeDepth++
	case "tbl":
		p.tableDepth++
		if p.tableDepth == 1 {
			p.rows = nil
		}
	case "tr":
		if p.tableDepth == 1 {
			p.row = nil
		}
	case "tc":
		if p.tableDepth == 1 {
			p.inCell = true
			p.cellParas = nil
		}
	case "p":
		p.inPara = true
		p.para.Reset()
	case "t":
		if p.inPara {
			p.inText = true
		}
	case "br":
		if p.inPara {
			p.para.WriteByte('\n')
		}
	}
}

func (p *slideParser) end(local string) {
	switch local {
	case "t":
		p.inText = false
	case "p":
		if !p.inPara {
			return
		}
		p.inPara = false
		text := p.para.String()
		switch {
		case p.inCell:
			p.cellParas = append(p.cellParas, text)
		case p.shapeDepth > 0:
			p.shapeParas = append(p.shapeParas, text)
		}
	case "tc":
		if p.tableDepth == 1 && p.inCell {
			p.inCell = false
			p.row = append(p.row, strings.TrimSpace(strings.Join(p.cellParas, " ")))
		}
	case "tr":
		if p.tableDepth == 1 {
			p.rows = append(p.rows, p.row)
			p.row = nil
		}
	case "tbl":
		if p.tableDepth == 1 && len(p.rows) > 0 {
			p.blocks = append(p.blocks, TableBlock(p.rows))
		}
		if p.tableDepth > 0 {
			p.tableDepth--
		}
	case "sp":
		if p.shapeDepth == 0 {
			return
		}
		p.shapeDepth--
		if p.shapeDepth == 0 {
			if text := strings.TrimSpace(strings.Join(p.shapeParas, "\n")); text != "" {
				p.blocks = append(p.blocks, TextBlock(text))
			}
			p.shapeParas = nil
		}
	}
}
