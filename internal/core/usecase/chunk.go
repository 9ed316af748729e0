package usecase

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kirillkom/localrag/internal/core/domain"
	"github.com/kirillkom/localrag/internal/core/ports"
)

// ChunkUseCase exposes the chunker on its own, without indexing.
type ChunkUseCase struct {
	chunker ports.Chunker
}

func NewChunkUseCase(chunker ports.Chunker) *ChunkUseCase {
	return &ChunkUseCase{chunker: chunker}
}

func (uc *ChunkUseCase) IngestChunks(ctx context.Context, text string, src domain.ChunkSource) ([]domain.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if src.DocID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ingest chunks", errors.New("document id is required"))
	}
	chunks, err := uc.chunker.CreateChunks(text, src)
	if err != nil {
		return nil, err
	}
	slog.Debug("document_chunked", "document_id", src.DocID, "chunks", len(chunks))
	return chunks, nil
}
