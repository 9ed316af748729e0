// Package plaintext reads text and markdown files.
package plaintext

import (
	"context"
	"errors"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/kirillkom/localrag/internal/core/domain"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type Parser struct{}

func New() *Parser {
	return &Parser{}
}

func (p *Parser) FileTypes() []string {
	return []string{domain.FileTypeText, domain.FileTypeMarkdown}
}

// Parse accepts UTF-8 and falls back to Windows-1251 for legacy Cyrillic files.
// Markdown is kept as written so headings still mark sections.
func (p *Parser) Parse(_ context.Context, raw []byte) (domain.ExtractedText, error) {
	if len(raw) >= len(utf8BOM) && string(raw[:len(utf8BOM)]) == string(utf8BOM) {
		raw = raw[len(utf8BOM):]
	}
	if utf8.Valid(raw) {
		return domain.ExtractedText{Text: string(raw)}, nil
	}
	if looksBinary(raw) {
		return domain.ExtractedText{}, domain.WrapError(domain.ErrInvalidInput, "extract text", errors.New("file is binary, not text"))
	}
	decoded, err := charmap.Windows1251.NewDecoder().Bytes(raw)
	if err != nil {
		return domain.ExtractedText{}, domain.WrapError(domain.ErrInvalidInput, "extract text", err)
	}
	return domain.ExtractedText{Text: string(decoded)}, nil
}

func looksBinary(raw []byte) bool {
	sample := raw
	if len(sample) > 512 {
		sample = sample[:512]
	}
	for _, b := range sample {
		if b == 0 {
			return true
		}
	}
	return false
}
