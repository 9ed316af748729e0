// Package pdf extracts per-page text from PDF files.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/localrag/internal/core/domain"
)

type Parser struct{}

func New() *Parser {
	return &Parser{}
}

func (p *Parser) FileTypes() []string {
	return []string{domain.FileTypePDF}
}

// Parse joins non-empty pages with blank lines. A page that fails to decode is skipped.
func (p *Parser) Parse(ctx context.Context, raw []byte) (out domain.ExtractedText, err error) {
	defer func() {
		// the reader panics on some malformed cross-reference tables
		if r := recover(); r != nil {
			out = domain.ExtractedText{}
			err = domain.WrapError(domain.ErrInvalidInput, "extract pdf", fmt.Errorf("malformed pdf: %v", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return domain.ExtractedText{}, domain.WrapError(domain.ErrInvalidInput, "extract pdf", err)
	}

	total := reader.NumPage()
	parts := make([]string, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return domain.ExtractedText{}, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			slog.Warn("pdf_page_parse_failed", "page", i, "error", err)
			continue
		}
		if text = normalizePage(text); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return domain.ExtractedText{}, domain.WrapError(domain.ErrInvalidInput, "extract pdf",
			errors.New("no extractable text, the file may be scanned images"))
	}
	return domain.ExtractedText{Text: strings.Join(parts, "\n\n"), Pages: total}, nil
}

func normalizePage(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
