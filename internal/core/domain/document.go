package domain

import (
	"path/filepath"
	"strings"
	"time"
)

type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusFailed     DocumentStatus = "failed"
)

type Document struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Filename    string         `json:"filename"`
	MimeType    string         `json:"mime_type"`
	FileType    string         `json:"file_type,omitempty"`
	Language    string         `json:"language,omitempty"`
	StoragePath string         `json:"storage_path"`
	ContentHash string         `json:"content_hash,omitempty"`
	TotalChunks int            `json:"total_chunks"`
	Status      DocumentStatus `json:"status"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ExtractedText is the plain-text rendition of a stored document.
// Pages is zero when the format carries no page structure.
type ExtractedText struct {
	Text     string
	Pages    int
	Language string
}

// IndexedDocument summarizes a successful processing run.
type IndexedDocument struct {
	DocumentID   string `json:"document_id"`
	ChunkCount   int    `json:"chunk_count"`
	LexicalCount int    `json:"lexical_count"`
	DenseCount   int    `json:"dense_count"`
}

// DeletedDocument reports how many chunks each index dropped.
type DeletedDocument struct {
	DocumentID     string `json:"document_id"`
	LexicalRemoved int    `json:"lexical_removed"`
	DenseRemoved   int    `json:"dense_removed"`
}

// Supported source formats, identified by file type.
const (
	FileTypeText     = "txt"
	FileTypeMarkdown = "md"
	FileTypeHTML     = "html"
	FileTypePDF      = "pdf"
	FileTypeXLSX     = "xlsx"
)

var fileTypesByExtension = map[string]string{
	".txt":      FileTypeText,
	".text":     FileTypeText,
	".md":       FileTypeMarkdown,
	".markdown": FileTypeMarkdown,
	".html":     FileTypeHTML,
	".htm":      FileTypeHTML,
	".pdf":      FileTypePDF,
	".xlsx":     FileTypeXLSX,
}

var fileTypesByMime = map[string]string{
	"text/plain":      FileTypeText,
	"text/markdown":   FileTypeMarkdown,
	"text/html":       FileTypeHTML,
	"application/pdf": FileTypePDF,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": FileTypeXLSX,
}

// DetectFileType resolves the file type from the extension, falling back to the MIME type.
func DetectFileType(filename, mimeType string) (string, bool) {
	if ft, ok := fileTypesByExtension[strings.ToLower(filepath.Ext(filename))]; ok {
		return ft, true
	}
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	ft, ok := fileTypesByMime[mt]
	return ft, ok
}

// TitleFromFilename strips directories and the extension.
func TitleFromFilename(filename string) string {
	base := filepath.Base(filename)
	if title := strings.TrimSuffix(base, filepath.Ext(base)); title != "" {
		return title
	}
	return base
}
