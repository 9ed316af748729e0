// Package xlsx renders spreadsheet rows as text, one section per sheet.
package xlsx

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/localrag/internal/core/domain"
)

type Parser struct{}

func New() *Parser {
	return &Parser{}
}

func (p *Parser) FileTypes() []string {
	return []string{domain.FileTypeXLSX}
}

// Parse treats the first non-empty row of each sheet as the header and writes every
// following row as "header: value" pairs so a chunk keeps the column meaning.
func (p *Parser) Parse(ctx context.Context, raw []byte) (domain.ExtractedText, error) {
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return domain.ExtractedText{}, domain.WrapError(domain.ErrInvalidInput, "extract xlsx", err)
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return domain.ExtractedText{}, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return domain.ExtractedText{}, domain.WrapError(domain.ErrInvalidInput, "extract xlsx", err)
		}
		body := renderRows(rows)
		if body == "" {
			continue
		}
		b.WriteString("## ")
		b.WriteString(sheet)
		b.WriteString("\n\n")
		b.WriteString(body)
		b.WriteString("\n\n")
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		return domain.ExtractedText{}, domain.WrapError(domain.ErrInvalidInput, "extract xlsx", errors.New("workbook has no cell values"))
	}
	return domain.ExtractedText{Text: text}, nil
}

func renderRows(rows [][]string) string {
	var header []string
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		cells := trimCells(row)
		if len(cells) == 0 {
			continue
		}
		if header == nil {
			header = cells
			lines = append(lines, strings.Join(cells, " | "))
			continue
		}
		pairs := make([]string, 0, len(cells))
		for i, cell := range cells {
			if cell == "" {
				continue
			}
			if i < len(header) && header[i] != "" {
				pairs = append(pairs, header[i]+": "+cell)
			} else {
				pairs = append(pairs, cell)
			}
		}
		if len(pairs) > 0 {
			lines = append(lines, strings.Join(pairs, "; "))
		}
	}
	return strings.Join(lines, "\n")
}

// trimCells trims every cell and drops trailing empties; nil means an empty row.
func trimCells(row []string) []string {
	out := make([]string, len(row))
	last := -1
	for i, cell := range row {
		out[i] = strings.TrimSpace(cell)
		if out[i] != "" {
			last = i
		}
	}
	if last < 0 {
		return nil
	}
	return out[:last+1]
}
