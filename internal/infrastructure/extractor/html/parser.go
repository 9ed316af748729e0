// Package html extracts readable text from HTML pages.
package html

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/kirillkom/localrag/internal/core/domain"
)

type Parser struct{}

func New() *Parser {
	return &Parser{}
}

func (p *Parser) FileTypes() []string {
	return []string{domain.FileTypeHTML}
}

var skipped = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"head":     true,
	"svg":      true,
	"template": true,
}

var blocks = map[string]bool{
	"p": true, "div": true, "br": true, "hr": true, "li": true, "tr": true,
	"blockquote": true, "pre": true, "table": true, "section": true, "article": true,
	"ul": true, "ol": true, "dl": true, "dt": true, "dd": true, "header": true, "footer": true,
}

// headingLevel maps h1..h6 to the markdown prefix the chunker reads sections from.
func headingLevel(tag string) string {
	if len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6' {
		return strings.Repeat("#", int(tag[1]-'0'))
	}
	return ""
}

// Parse walks the token stream, dropping non-content elements. Headings come out as
// markdown headings and block elements end lines.
func (p *Parser) Parse(_ context.Context, raw []byte) (domain.ExtractedText, error) {
	r, err := charset.NewReader(bytes.NewReader(raw), "text/html")
	if err != nil {
		return domain.ExtractedText{}, domain.WrapError(domain.ErrInvalidInput, "extract html", err)
	}

	var b strings.Builder
	var line strings.Builder
	flush := func() {
		text := strings.Join(strings.Fields(line.String()), " ")
		line.Reset()
		if text != "" {
			b.WriteString(text)
			b.WriteString("\n")
		}
	}

	z := html.NewTokenizer(r)
	depthSkipped := 0
	prefix := ""
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); err != nil && !errors.Is(err, io.EOF) {
				return domain.ExtractedText{}, domain.WrapError(domain.ErrInvalidInput, "extract html", err)
			}
			flush()
			return domain.ExtractedText{Text: tidy(b.String())}, nil
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipped[tag] {
				if tt == html.StartTagToken {
					depthSkipped++
				}
				continue
			}
			if level := headingLevel(tag); level != "" {
				flush()
				prefix = level + " "
				line.WriteString(prefix)
				continue
			}
			if blocks[tag] {
				flush()
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipped[tag] {
				if depthSkipped > 0 {
					depthSkipped--
				}
				continue
			}
			if headingLevel(tag) != "" {
				if strings.TrimSpace(line.String()) == strings.TrimSpace(prefix) {
					line.Reset()
				}
				prefix = ""
				flush()
				b.WriteString("\n")
				continue
			}
			if blocks[tag] {
				flush()
			}
		case html.TextToken:
			if depthSkipped > 0 {
				continue
			}
			line.Write(z.Text())
		}
	}
}

func tidy(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(s)
}
