package reader

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"github.com/xuri/excelize/v2"
)

// cellAttrs are the attributes of one <c> element that decide how its raw
// value is read.
type cellAttrs struct {
	style int
	typ   string
}

// sheetMeta streams the cell attributes of the first worksheet in step
// with excelize's row iterator, which only hands out values. Looking the
// attributes up through the File API would decode the whole worksheet.
type sheetMeta struct {
	zr   io.ReadCloser
	dec  *xml.Decoder
	last int // number of the last <row> read
	row  int // number of the buffered row
	buf  map[int]cellAttrs
	done bool
}

func openSheetMeta(f afero.File) (*sheetMeta, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(f, fi.Size())
	if err != nil {
		return nil, err
	}
	name, err := firstSheetPart(zr)
	if err != nil {
		return nil, err
	}
	part, err := zr.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return &sheetMeta{zr: part, dec: xml.NewDecoder(part)}, nil
}

// attrs returns the cell attributes of row n (1-based). Rows must be
// requested in increasing order; a row absent from the sheet has none.
func (m *sheetMeta) attrs(n int) (map[int]cellAttrs, error) {
	for !m.done && m.row < n {
		if err := m.readRow(); err != nil {
			return nil, err
		}
	}
	if m.row == n {
		return m.buf, nil
	}
	return nil, nil
}

func (m *sheetMeta) readRow() error {
	for {
		tok, err := m.dec.Token()
		if errors.Is(err, io.EOF) {
			m.done = true
			return nil
		}
		if err != nil {
			return err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Local == "row" {
				return m.readCells(el)
			}
		case xml.EndElement:
			if el.Name.Local == "sheetData" {
				m.done = true
				return nil
			}
		}
	}
}

func (m *sheetMeta) readCells(row xml.StartElement) error {
	m.last++
	if r, err := strconv.Atoi(attr(row, "r")); err == nil && r > 0 {
		m.last = r
	}
	m.row = m.last
	rowStyle := 0
	if attr(row, "customFormat") == "1" || attr(row, "customFormat") == "true" {
		rowStyle, _ = strconv.Atoi(attr(row, "s"))
	}
	m.buf = make(map[int]cellAttrs)
	col := 0
	for {
		tok, err := m.dec.Token()
		if err != nil {
			return err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Local != "c" {
				continue
			}
			col++
			if ref := attr(el, "r"); ref != "" {
				if c, _, err := excelize.CellNameToCoordinates(ref); err == nil {
					col = c
				}
			}
			a := cellAttrs{style: rowStyle, typ: attr(el, "t")}
			if s := attr(el, "s"); s != "" {
				a.style, _ = strconv.Atoi(s)
			}
			m.buf[col] = a
		case xml.EndElement:
			if el.Name.Local == "row" {
				return nil
			}
		}
	}
}

func (m *sheetMeta) Close() error { return m.zr.Close() }

func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// firstSheetPart resolves the zip path of the workbook's first sheet
// through workbook.xml and its relationships.
func firstSheetPart(zr *zip.Reader) (string, error) {
	var wb struct {
		Sheets []struct {
			Attrs []xml.Attr `xml:",any,attr"`
		} `xml:"sheets>sheet"`
	}
	if err := decodePart(zr, "xl/workbook.xml", &wb); err != nil {
		return "", err
	}
	if len(wb.Sheets) == 0 {
		return "", errors.New("workbook has no sheets")
	}
	var relID string
	for _, a := range wb.Sheets[0].Attrs {
		if a.Name.Local == "id" && a.Name.Space != "" {
			relID = a.Value
		}
	}

	var rels struct {
		Rels []struct {
			ID     string `xml:"Id,attr"`
			Target string `xml:"Target,attr"`
		} `xml:"Relationship"`
	}
	if err := decodePart(zr, "xl/_rels/workbook.xml.rels", &rels); err != nil {
		return "", err
	}
	for _, r := range rels.Rels {
		if r.ID != relID {
			continue
		}
		if strings.HasPrefix(r.Target, "/") {
			return strings.TrimPrefix(r.Target, "/"), nil
		}
		return path.Join("xl", r.Target), nil
	}
	return "", fmt.Errorf("no relationship %q for first sheet", relID)
}

func decodePart(zr *zip.Reader, name string, v any) error {
	f, err := zr.Open(name)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()
	if err := xml.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}
