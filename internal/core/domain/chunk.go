package domain

import (
	"fmt"
	"time"
)

// ChunkMetadata is carried by every chunk into both indexes and back out in results.
type ChunkMetadata struct {
	DocTitle  string    `json:"doc_title"`
	Source    string    `json:"source"`
	FileType  string    `json:"file_type,omitempty"`
	Language  string    `json:"language,omitempty"`
	Page      int       `json:"page,omitempty"`
	Section   string    `json:"section,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Chunk is a bounded span of document text, the unit of indexing and citation.
type Chunk struct {
	ChunkID      string        `json:"chunk_id"`
	DocID        string        `json:"doc_id"`
	Text         string        `json:"text"`
	CharStart    int           `json:"char_start"`
	CharEnd      int           `json:"char_end"`
	ChunkIndex   int           `json:"chunk_index"`
	TokenCount   int           `json:"token_count"`
	CharCount    int           `json:"char_count"`
	OverlapChars int           `json:"overlap_chars"`
	Metadata     ChunkMetadata `json:"metadata"`
}

// ChunkSource describes the document a chunker run works on.
type ChunkSource struct {
	DocID     string
	Title     string
	Source    string
	FileType  string
	Language  string
	Pages     int
	CreatedAt time.Time
}

// ChunkID builds the stable identifier of the ordinal-th (1-based) chunk of a document.
func ChunkID(docID string, ordinal int) string {
	return fmt.Sprintf("%s_%03d", docID, ordinal)
}
