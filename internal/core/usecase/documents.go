package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/localrag/internal/core/domain"
	"github.com/kirillkom/localrag/internal/core/ports"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// DocumentService is the read and delete side of the document lifecycle.
type DocumentService struct {
	repo    ports.DocumentRepository
	storage ports.ObjectStorage
	lexical ports.LexicalIndex
	dense   ports.DenseIndex
}

func NewDocumentService(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	lexical ports.LexicalIndex,
	dense ports.DenseIndex,
) *DocumentService {
	return &DocumentService{
		repo:    repo,
		storage: storage,
		lexical: lexical,
		dense:   dense,
	}
}

func (s *DocumentService) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	if id == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get document", errors.New("id is required"))
	}
	return s.repo.GetByID(ctx, id)
}

func (s *DocumentService) List(ctx context.Context, limit, offset int) ([]domain.Document, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	offset = max(offset, 0)
	return s.repo.List(ctx, limit, offset)
}

// Delete removes the chunks from both indexes first, then the stored file and the metadata row.
// A failed index delete leaves the row in place so the call can be repeated.
func (s *DocumentService) Delete(ctx context.Context, id string) (*domain.DeletedDocument, error) {
	doc, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	out := &domain.DeletedDocument{DocumentID: doc.ID}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.lexical.DeleteDocument(gctx, doc.ID)
		if err != nil {
			return fmt.Errorf("delete from lexical index: %w", err)
		}
		out.LexicalRemoved = n
		return nil
	})
	g.Go(func() error {
		n, err := s.dense.DeleteDocument(gctx, doc.ID)
		if err != nil {
			return fmt.Errorf("delete from dense index: %w", err)
		}
		out.DenseRemoved = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if doc.StoragePath != "" {
		if err := s.storage.Delete(ctx, doc.StoragePath); err != nil {
			slog.Warn("document_file_delete_failed", "document_id", doc.ID, "storage_path", doc.StoragePath, "error", err)
		}
	}
	if err := s.repo.Delete(ctx, doc.ID); err != nil {
		return nil, fmt.Errorf("delete document metadata: %w", err)
	}

	slog.Info("document_deleted",
		"document_id", doc.ID,
		"lexical_removed", out.LexicalRemoved,
		"dense_removed", out.DenseRemoved,
	)
	return out, nil
}
