package chunking

import (
	"strings"
	"testing"

	"github.com/kirillkom/localrag/internal/core/domain"
)

func TestBPETokenizerCountsCl100k(t *testing.T) {
	tok, err := NewBPETokenizer(DefaultEncoding)
	if err != nil {
		t.Fatalf("load encoding: %v", err)
	}
	cases := []struct {
		text string
		want int
	}{
		{text: "", want: 0},
		{text: "hello world", want: 2},
		{text: "Hello, world!", want: 4},
	}
	for _, tc := range cases {
		got, err := tok.Count(tc.text)
		if err != nil {
			t.Fatalf("count %q: %v", tc.text, err)
		}
		if got != tc.want {
			t.Fatalf("count %q: expected %d, got %d", tc.text, tc.want, got)
		}
	}
}

func TestBPETokenizerTreatsSpecialMarkersAsText(t *testing.T) {
	tok, err := NewBPETokenizer(DefaultEncoding)
	if err != nil {
		t.Fatalf("load encoding: %v", err)
	}
	n, err := tok.Count("<|endoftext|>")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n < 2 {
		t.Fatalf("expected the marker to be split into ordinary tokens, got %d", n)
	}
}

func TestNewTokenizerFallsBackOnUnknownEncoding(t *testing.T) {
	if _, ok := NewTokenizer("no_such_encoding").(EstimatingTokenizer); !ok {
		t.Fatal("expected estimating tokenizer for an unknown encoding")
	}
	if _, ok := NewTokenizer("").(*BPETokenizer); !ok {
		t.Fatal("expected BPE tokenizer for the default encoding")
	}
}

func TestCreateChunksWithBPETokenizerRespectsTokenBound(t *testing.T) {
	tok, err := NewBPETokenizer(DefaultEncoding)
	if err != nil {
		t.Fatalf("load encoding: %v", err)
	}
	text := longDocument(10, 5) + strings.Repeat("Тариф Pro стоит двадцать долларов. ", 20)
	c := New(tok, testConfig(48, 8, 5))

	chunks, err := c.CreateChunks(text, domain.ChunkSource{DocID: "doc"})
	if err != nil {
		t.Fatalf("create chunks: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		n, _ := tok.Count(ch.Text)
		if n > 48 || n != ch.TokenCount {
			t.Fatalf("chunk %d: stored %d tokens, counted %d, limit 48", i, ch.TokenCount, n)
		}
	}
}
