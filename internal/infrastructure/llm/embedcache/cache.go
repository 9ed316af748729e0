// Package embedcache memoizes query embeddings in front of an embedder.
package embedcache

import (
	"context"
	"crypto/sha256"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kirillkom/localrag/internal/core/ports"
)

type key [32]byte

// Embedder caches EmbedQuery results. Batch embedding of chunks passes straight through.
type Embedder struct {
	next  ports.Embedder
	model string
	cache *lru.Cache[key, []float32]
}

// New wraps next with an LRU of size entries; model is part of the key.
func New(next ports.Embedder, model string, size int) (*Embedder, error) {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[key, []float32](size)
	if err != nil {
		return nil, err
	}
	return &Embedder{next: next, model: model, cache: cache}, nil
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return e.next.Embed(ctx, texts)
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	k := e.key(text)
	if v, ok := e.cache.Get(k); ok {
		return slices.Clone(v), nil
	}
	v, err := e.next.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Add(k, slices.Clone(v))
	return v, nil
}

func (e *Embedder) Len() int { return e.cache.Len() }

func (e *Embedder) key(text string) key {
	h := sha256.New()
	h.Write([]byte(e.model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	var k key
	copy(k[:], h.Sum(nil))
	return k
}
