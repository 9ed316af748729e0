package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/localrag/internal/core/domain"
	"github.com/kirillkom/localrag/internal/core/ports"
)

type ProcessDocumentUseCase struct {
	repo      ports.DocumentRepository
	extractor ports.TextExtractor
	chunker   ports.Chunker
	lexical   ports.LexicalIndex
	dense     ports.DenseIndex
}

func NewProcessDocumentUseCase(
	repo ports.DocumentRepository,
	extractor ports.TextExtractor,
	chunker ports.Chunker,
	lexical ports.LexicalIndex,
	dense ports.DenseIndex,
) *ProcessDocumentUseCase {
	return &ProcessDocumentUseCase{
		repo:      repo,
		extractor: extractor,
		chunker:   chunker,
		lexical:   lexical,
		dense:     dense,
	}
}

// ProcessByID extracts, chunks and indexes a stored document.
// A document whose content is already indexed under another id is marked failed and not retried.
func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, documentID string) error {
	if err := uc.markStatus(ctx, documentID, domain.StatusProcessing, ""); err != nil {
		return fmt.Errorf("set status=processing: %w", err)
	}

	started := time.Now()
	indexed, err := uc.processPipeline(ctx, documentID)
	if err != nil {
		if failErr := uc.markFailed(ctx, documentID, err); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		if domain.IsKind(err, domain.ErrDuplicateDocument) {
			slog.Info("document_duplicate_skipped", "document_id", documentID, "reason", err.Error())
			return nil
		}
		return err
	}

	slog.Info("document_indexed",
		"document_id", documentID,
		"chunks", indexed.ChunkCount,
		"lexical", indexed.LexicalCount,
		"dense", indexed.DenseCount,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return nil
}

func (uc *ProcessDocumentUseCase) processPipeline(ctx context.Context, documentID string) (*domain.IndexedDocument, error) {
	doc, err := uc.loadDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	extracted, err := uc.extractText(ctx, doc)
	if err != nil {
		return nil, err
	}

	hash := contentHash(extracted.Text)
	if err := uc.checkDuplicate(ctx, doc.ID, hash); err != nil {
		return nil, err
	}

	chunks, err := uc.chunk(doc, extracted)
	if err != nil {
		return nil, err
	}

	indexed, err := uc.index(ctx, doc.ID, chunks)
	if err != nil {
		return nil, err
	}

	if err := uc.repo.MarkIndexed(ctx, doc.ID, hash, len(chunks)); err != nil {
		return nil, fmt.Errorf("mark document indexed: %w", err)
	}
	return indexed, nil
}

func (uc *ProcessDocumentUseCase) loadDocument(ctx context.Context, documentID string) (*domain.Document, error) {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch document by id: %w", err)
	}
	return doc, nil
}

func (uc *ProcessDocumentUseCase) extractText(ctx context.Context, doc *domain.Document) (domain.ExtractedText, error) {
	extracted, err := uc.extractor.Extract(ctx, doc)
	if err != nil {
		return domain.ExtractedText{}, fmt.Errorf("extract text: %w", err)
	}
	if strings.TrimSpace(extracted.Text) == "" {
		return domain.ExtractedText{}, domain.WrapError(domain.ErrInvalidInput, "extract text", errors.New("empty extracted text"))
	}
	return extracted, nil
}

func (uc *ProcessDocumentUseCase) checkDuplicate(ctx context.Context, documentID, hash string) error {
	existing, err := uc.repo.FindReadyByContentHash(ctx, hash)
	if err != nil {
		return fmt.Errorf("lookup content hash: %w", err)
	}
	if existing != nil && existing.ID != documentID {
		return domain.WrapError(domain.ErrDuplicateDocument, "process document", fmt.Errorf("duplicate of %s", existing.ID))
	}
	return nil
}

func (uc *ProcessDocumentUseCase) chunk(doc *domain.Document, extracted domain.ExtractedText) ([]domain.Chunk, error) {
	language := extracted.Language
	if language == "" {
		language = doc.Language
	}
	chunks, err := uc.chunker.CreateChunks(extracted.Text, domain.ChunkSource{
		DocID:     doc.ID,
		Title:     doc.Title,
		Source:    doc.Filename,
		FileType:  doc.FileType,
		Language:  language,
		Pages:     extracted.Pages,
		CreatedAt: doc.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("chunk document: %w", err)
	}
	if len(chunks) == 0 {
		return nil, domain.WrapError(domain.ErrChunking, "chunk document", errors.New("chunking produced zero chunks"))
	}
	return chunks, nil
}

// index replaces the document's chunks in both indexes. A write that fails on either side
// leaves neither index holding the document.
func (uc *ProcessDocumentUseCase) index(ctx context.Context, documentID string, chunks []domain.Chunk) (*domain.IndexedDocument, error) {
	// A re-chunk can yield fewer chunks than the previous run.
	if err := uc.purge(ctx, documentID); err != nil {
		return nil, fmt.Errorf("clear previous chunks: %w", err)
	}

	var lexicalIDs, denseIDs []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ids, err := uc.lexical.IndexChunks(gctx, chunks)
		if err != nil {
			return fmt.Errorf("index chunks in lexical index: %w", err)
		}
		lexicalIDs = ids
		return nil
	})
	g.Go(func() error {
		ids, err := uc.dense.IndexChunks(gctx, chunks)
		if err != nil {
			return fmt.Errorf("index chunks in dense index: %w", err)
		}
		denseIDs = ids
		return nil
	})
	if err := g.Wait(); err != nil {
		if purgeErr := uc.purge(context.WithoutCancel(ctx), documentID); purgeErr != nil {
			slog.Error("document_index_cleanup_failed", "document_id", documentID, "error", purgeErr)
		}
		return nil, err
	}
	return &domain.IndexedDocument{
		DocumentID:   documentID,
		ChunkCount:   len(chunks),
		LexicalCount: len(lexicalIDs),
		DenseCount:   len(denseIDs),
	}, nil
}

func (uc *ProcessDocumentUseCase) purge(ctx context.Context, documentID string) error {
	var g errgroup.Group
	g.Go(func() error {
		if _, err := uc.lexical.DeleteDocument(ctx, documentID); err != nil {
			return fmt.Errorf("lexical: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if _, err := uc.dense.DeleteDocument(ctx, documentID); err != nil {
			return fmt.Errorf("dense: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func (uc *ProcessDocumentUseCase) markStatus(ctx context.Context, documentID string, status domain.DocumentStatus, errMessage string) error {
	return uc.repo.UpdateStatus(ctx, documentID, status, errMessage)
}

func (uc *ProcessDocumentUseCase) markFailed(ctx context.Context, documentID string, processErr error) error {
	if processErr == nil {
		return nil
	}
	return uc.markStatus(ctx, documentID, domain.StatusFailed, processErr.Error())
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
