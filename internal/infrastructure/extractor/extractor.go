// Package extractor turns stored source files into plain text, dispatching on file type.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode"

	"github.com/kirillkom/localrag/internal/core/domain"
	"github.com/kirillkom/localrag/internal/core/ports"
)

// DefaultMaxFileSize bounds how much of a stored file is read.
const DefaultMaxFileSize = 50 << 20

// Parser converts the raw bytes of one format.
type Parser interface {
	FileTypes() []string
	Parse(ctx context.Context, raw []byte) (domain.ExtractedText, error)
}

type Registry struct {
	storage     ports.ObjectStorage
	parsers     map[string]Parser
	maxFileSize int64
}

func New(storage ports.ObjectStorage, maxFileSize int64, parsers ...Parser) *Registry {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	r := &Registry{
		storage:     storage,
		parsers:     make(map[string]Parser),
		maxFileSize: maxFileSize,
	}
	for _, p := range parsers {
		for _, ft := range p.FileTypes() {
			r.parsers[ft] = p
		}
	}
	return r
}

func (r *Registry) Supports(fileType string) bool {
	_, ok := r.parsers[fileType]
	return ok
}

func (r *Registry) Extract(ctx context.Context, doc *domain.Document) (domain.ExtractedText, error) {
	if !r.Supports(doc.FileType) {
		return domain.ExtractedText{}, domain.WrapError(domain.ErrInvalidInput, "extract",
			fmt.Errorf("no extractor for file type %q (%s)", doc.FileType, doc.Filename))
	}
	if r.storage == nil {
		return domain.ExtractedText{}, domain.WrapError(domain.ErrConfiguration, "extract", errors.New("registry has no object storage"))
	}

	reader, err := r.storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return domain.ExtractedText{}, fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	out, err := r.ExtractReader(ctx, doc.FileType, reader)
	if err != nil {
		return domain.ExtractedText{}, err
	}
	slog.Debug("document_text_extracted",
		"document_id", doc.ID,
		"file_type", doc.FileType,
		"chars", len([]rune(out.Text)),
		"pages", out.Pages,
		"language", out.Language,
	)
	return out, nil
}

// ExtractReader parses a file that is not in object storage, such as a local file passed to the CLI.
func (r *Registry) ExtractReader(ctx context.Context, fileType string, src io.Reader) (domain.ExtractedText, error) {
	parser, ok := r.parsers[fileType]
	if !ok {
		return domain.ExtractedText{}, domain.WrapError(domain.ErrInvalidInput, "extract",
			fmt.Errorf("no extractor for file type %q", fileType))
	}

	raw, err := io.ReadAll(io.LimitReader(src, r.maxFileSize+1))
	if err != nil {
		return domain.ExtractedText{}, fmt.Errorf("read source document: %w", err)
	}
	if int64(len(raw)) > r.maxFileSize {
		return domain.ExtractedText{}, domain.WrapError(domain.ErrInvalidInput, "extract",
			fmt.Errorf("file too large: more than %d bytes", r.maxFileSize))
	}

	out, err := parser.Parse(ctx, raw)
	if err != nil {
		return domain.ExtractedText{}, err
	}
	out.Text = strings.TrimSpace(out.Text)
	if out.Language == "" {
		out.Language = DetectLanguage(out.Text)
	}
	return out, nil
}

const (
	languageSampleRunes = 1000
	cyrillicShare       = 0.3
)

// DetectLanguage reports "ru" when more than 30% of the letters in the leading sample are
// Cyrillic and "en" otherwise.
func DetectLanguage(text string) string {
	letters, cyrillic, seen := 0, 0, 0
	for _, r := range text {
		if seen == languageSampleRunes {
			break
		}
		seen++
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.Is(unicode.Cyrillic, r) {
			cyrillic++
		}
	}
	if letters > 0 && float64(cyrillic)/float64(letters) > cyrillicShare {
		return "ru"
	}
	return "en"
}
