// Package artifacts builds downloadable office documents from OCR page text.
package artifacts

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	columnSplitter    = regexp.MustCompile(`\s{2,}`)
	paragraphSplitter = regexp.MustCompile(`\n{2,}`)
)

// pageBreakMarker separates pages in the spreadsheet export.
const pageBreakMarker = "--- Page Break ---"

// BuildXLSX creates a workbook with one row per OCR line, splitting columns
// on runs of two or more spaces. Pages are separated by a marker row.
func BuildXLSX(pages []string) ([]byte, error) {
	rows := make([][]string, 0, 64)
	for _, page := range pages {
		text := strings.TrimSpace(page)
		if text == "" {
			continue
		}
		for _, line := range strings.Split(text, "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			rows = append(rows, splitTableLine(line))
		}
		rows = append(rows, []string{pageBreakMarker})
	}
	// Drop the trailing page break.
	if n := len(rows); n > 0 && rows[n-1][0] == pageBreakMarker {
		rows = rows[:n-1]
	}
	if len(rows) == 0 {
		rows = append(rows, []string{"No data"})
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "OCR"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to remove default sheet: %w", err)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func splitTableLine(line string) []string {
	var cells []string
	for _, col := range columnSplitter.Split(line, -1) {
		if trimmed := strings.TrimSpace(col); trimmed != "" {
			cells = append(cells, trimmed)
		}
	}
	if len(cells) == 0 {
		cells = []string{strings.TrimSpace(line)}
	}
	return cells
}

// BuildDOCX creates a document with one section per OCR page, separated by
// page breaks. The OOXML container is assembled directly; no corpus library
// covers docx generation.
func BuildDOCX(pages []string) ([]byte, error) {
	var doc strings.Builder
	doc.WriteString(xml.Header)
	doc.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)

	first := true
	for _, page := range pages {
		text := strings.TrimSpace(page)
		if text == "" {
			continue
		}
		if !first {
			doc.WriteString(`<w:p><w:r><w:br w:type="page"/></w:r></w:p>`)
		}
		for _, paragraph := range paragraphSplitter.Split(text, -1) {
			doc.WriteString(`<w:p><w:r><w:t xml:space="preserve">`)
			if err := xml.EscapeText(&doc, []byte(paragraph)); err != nil {
				return nil, fmt.Errorf("failed to escape paragraph: %w", err)
			}
			doc.WriteString(`</w:t></w:r></w:p>`)
		}
		first = false
	}
	doc.WriteString(`</w:body></w:document>`)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	parts := []struct {
		name    string
		content string
	}{
		{"[Content_Types].xml", `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
			`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
			`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>` +
			`<Default Extension="xml" ContentType="application/xml"/>` +
			`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>` +
			`</Types>`},
		{"_rels/.rels", `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
			`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
			`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>` +
			`</Relationships>`},
		{"word/document.xml", doc.String()},
	}
	for _, part := range parts {
		w, err := zw.Create(part.name)
		if err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", part.name, err)
		}
		if _, err := w.Write([]byte(part.content)); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", part.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize docx: %w", err)
	}
	return buf.Bytes(), nil
}
