package bootstrap

import (
	"context"
	"errors"

	"github.com/kirillkom/localrag/internal/core/ports"
)

// inlineQueue runs document processing in the publishing goroutine. The CLI and the
// MCP server use it so an upload is indexed before the command returns.
type inlineQueue struct {
	processor ports.DocumentProcessor
}

func newInlineQueue(processor ports.DocumentProcessor) *inlineQueue {
	return &inlineQueue{processor: processor}
}

func (q *inlineQueue) PublishDocumentIngested(ctx context.Context, documentID string) error {
	return q.processor.ProcessByID(ctx, documentID)
}

func (q *inlineQueue) SubscribeDocumentIngested(context.Context, func(context.Context, string) error) error {
	return errors.New("inline queue has no subscribers")
}
