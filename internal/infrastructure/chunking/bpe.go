package chunking

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"github.com/kirillkom/localrag/internal/core/ports"
)

// DefaultEncoding is the BPE vocabulary chunk sizes are measured in.
const DefaultEncoding = "cl100k_base"

var useOfflineLoader sync.Once

// BPETokenizer counts tokens with a tiktoken vocabulary embedded in the binary.
// Special-token markers in document text are counted as ordinary text.
type BPETokenizer struct {
	enc *tiktoken.Tiktoken
}

func NewBPETokenizer(encoding string) (*BPETokenizer, error) {
	useOfflineLoader.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %q: %w", encoding, err)
	}
	return &BPETokenizer{enc: enc}, nil
}

func (t *BPETokenizer) Count(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	return len(t.enc.EncodeOrdinary(text)), nil
}

// NewTokenizer returns the BPE tokenizer for encoding, or the estimating tokenizer
// when the encoding cannot be loaded.
func NewTokenizer(encoding string) ports.Tokenizer {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	tok, err := NewBPETokenizer(encoding)
	if err != nil {
		slog.Warn("tokenizer_fallback_estimating", "encoding", encoding, "error", err)
		return NewEstimatingTokenizer()
	}
	return tok
}
