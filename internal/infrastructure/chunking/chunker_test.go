package chunking

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"unicode"

	"github.com/kirillkom/localrag/internal/core/domain"
)

func testConfig(size, overlap, minSize int) domain.ChunkingConfig {
	cfg := domain.DefaultPipelineConfig().Chunking
	cfg.ChunkSize = size
	cfg.Overlap = overlap
	cfg.MinChunkSize = minSize
	return cfg
}

func longDocument(paragraphs, sentences int) string {
	var b strings.Builder
	for p := 0; p < paragraphs; p++ {
		for s := 0; s < sentences; s++ {
			fmt.Fprintf(&b, "Sentence %d of paragraph %d describes the product. ", s, p)
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

func TestCreateChunksRespectsTokenBoundAndOffsets(t *testing.T) {
	text := longDocument(12, 5)
	c := New(NewEstimatingTokenizer(), testConfig(50, 10, 5))

	chunks, err := c.CreateChunks(text, domain.ChunkSource{DocID: "doc", Title: "Guide", Source: "guide.md"})
	if err != nil {
		t.Fatalf("create chunks: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}

	normalized := []rune(Normalize(text))
	tok := NewEstimatingTokenizer()
	for i, ch := range chunks {
		if ch.TokenCount > 50 {
			t.Fatalf("chunk %d has %d tokens, limit 50", i, ch.TokenCount)
		}
		if n, _ := tok.Count(ch.Text); n != ch.TokenCount {
			t.Fatalf("chunk %d token count mismatch: stored %d, counted %d", i, ch.TokenCount, n)
		}
		if want := fmt.Sprintf("doc_%03d", i+1); ch.ChunkID != want {
			t.Fatalf("chunk %d id: expected %s, got %s", i, want, ch.ChunkID)
		}
		if ch.ChunkIndex != i {
			t.Fatalf("chunk %d has index %d", i, ch.ChunkIndex)
		}
		if ch.CharEnd-ch.CharStart != ch.CharCount {
			t.Fatalf("chunk %d offsets %d..%d do not match char count %d", i, ch.CharStart, ch.CharEnd, ch.CharCount)
		}
		if got := string(normalized[ch.CharStart:ch.CharEnd]); got != ch.Text {
			t.Fatalf("chunk %d text is not the normalized span at its offsets", i)
		}
		if ch.Metadata.DocTitle != "Guide" || ch.Metadata.Source != "guide.md" {
			t.Fatalf("chunk %d lost metadata: %+v", i, ch.Metadata)
		}
	}
}

func TestCreateChunksCoversWholeDocument(t *testing.T) {
	text := longDocument(7, 6)
	c := New(NewEstimatingTokenizer(), testConfig(40, 8, 5))

	chunks, err := c.CreateChunks(text, domain.ChunkSource{DocID: "doc"})
	if err != nil {
		t.Fatalf("create chunks: %v", err)
	}

	normalized := []rune(Normalize(text))
	covered := make([]bool, len(normalized))
	for _, ch := range chunks {
		for i := ch.CharStart; i < ch.CharEnd; i++ {
			covered[i] = true
		}
	}
	for i, r := range normalized {
		if !unicode.IsSpace(r) && !covered[i] {
			t.Fatalf("rune %d (%q) is not covered by any chunk", i, r)
		}
	}
}

func TestCreateChunksCarriesOverlap(t *testing.T) {
	text := longDocument(6, 3)
	c := New(NewEstimatingTokenizer(), testConfig(50, 10, 5))

	chunks, err := c.CreateChunks(text, domain.ChunkSource{DocID: "doc"})
	if err != nil {
		t.Fatalf("create chunks: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	if chunks[0].OverlapChars != 0 {
		t.Fatalf("first chunk cannot carry overlap, got %d", chunks[0].OverlapChars)
	}
	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1], chunks[i]
		if cur.CharStart >= prev.CharEnd {
			t.Fatalf("chunk %d starts at %d, previous ends at %d: no overlap", i, cur.CharStart, prev.CharEnd)
		}
		if cur.OverlapChars == 0 {
			t.Fatalf("chunk %d reports no overlap", i)
		}
		shared := string([]rune(cur.Text)[:cur.OverlapChars])
		if !strings.HasSuffix(prev.Text, strings.TrimSpace(shared)) {
			t.Fatalf("chunk %d overlap %q is not a tail of the previous chunk", i, shared)
		}
	}
}

func TestCreateChunksWithoutOverlap(t *testing.T) {
	text := longDocument(6, 3)
	c := New(NewEstimatingTokenizer(), testConfig(50, 0, 5))

	chunks, err := c.CreateChunks(text, domain.ChunkSource{DocID: "doc"})
	if err != nil {
		t.Fatalf("create chunks: %v", err)
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].CharStart < chunks[i-1].CharEnd {
			t.Fatalf("chunk %d overlaps previous chunk with overlap disabled", i)
		}
	}
}

func TestCreateChunksSmallDocumentSurvives(t *testing.T) {
	c := New(NewEstimatingTokenizer(), testConfig(1000, 100, 50))

	chunks, err := c.CreateChunks("  Короткий документ.  ", domain.ChunkSource{DocID: "tiny"})
	if err != nil {
		t.Fatalf("create chunks: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].ChunkID != "tiny_001" || chunks[0].Text != "Короткий документ." {
		t.Fatalf("unexpected chunk: %+v", chunks[0])
	}
}

func TestCreateChunksSplitsOversizedWord(t *testing.T) {
	word := strings.Repeat("x", 400)
	c := New(NewEstimatingTokenizer(), testConfig(20, 5, 0))

	chunks, err := c.CreateChunks("start "+word+" end", domain.ChunkSource{DocID: "doc"})
	if err != nil {
		t.Fatalf("create chunks: %v", err)
	}
	var rebuilt strings.Builder
	for _, ch := range chunks {
		if ch.TokenCount > 20 {
			t.Fatalf("chunk %s has %d tokens, limit 20", ch.ChunkID, ch.TokenCount)
		}
		rebuilt.WriteString(ch.Text)
	}
	if strings.Count(rebuilt.String(), "x") < len(word) {
		t.Fatal("oversized word lost characters while splitting")
	}
}

func TestCreateChunksKeepsMidStreamChunksAboveMinimum(t *testing.T) {
	vocab := []string{
		"a", "rag", "index", "retrieval", "internationalization",
		"pneumonoultramicroscopicsilicovolcanoconiosis",
		strings.Repeat("long", 30),
	}
	for seed := int64(1); seed <= 20; seed++ {
		rnd := rand.New(rand.NewSource(seed))
		var b strings.Builder
		for i := 0; i < 300; i++ {
			b.WriteString(vocab[rnd.Intn(len(vocab))])
			switch rnd.Intn(12) {
			case 0:
				b.WriteString(". ")
			case 1:
				b.WriteString("\n\n")
			default:
				b.WriteString(" ")
			}
		}
		text := b.String()
		c := New(NewEstimatingTokenizer(), testConfig(40, 8, 10))

		chunks, err := c.CreateChunks(text, domain.ChunkSource{DocID: "doc"})
		if err != nil {
			t.Fatalf("seed %d: create chunks: %v", seed, err)
		}
		normalized := []rune(Normalize(text))
		covered := make([]bool, len(normalized))
		for i, ch := range chunks {
			if ch.TokenCount > 40 {
				t.Fatalf("seed %d: chunk %d has %d tokens, limit 40", seed, i, ch.TokenCount)
			}
			if i < len(chunks)-1 && ch.TokenCount < 10 {
				t.Fatalf("seed %d: chunk %d of %d has %d tokens, minimum 10: %q", seed, i, len(chunks), ch.TokenCount, ch.Text)
			}
			for j := ch.CharStart; j < ch.CharEnd; j++ {
				covered[j] = true
			}
		}
		for i, r := range normalized {
			if !unicode.IsSpace(r) && !covered[i] {
				t.Fatalf("seed %d: rune %d (%q) is not covered by any chunk", seed, i, r)
			}
		}
	}
}

func TestCreateChunksEmptyTextFails(t *testing.T) {
	c := New(NewEstimatingTokenizer(), testConfig(100, 10, 5))

	_, err := c.CreateChunks(" \n\r\n\t ", domain.ChunkSource{DocID: "doc"})
	if !domain.IsKind(err, domain.ErrChunking) {
		t.Fatalf("expected chunking error, got %v", err)
	}
}

func TestCreateChunksEnforcesChunkCeiling(t *testing.T) {
	cfg := testConfig(30, 5, 5)
	cfg.MaxChunksPerDoc = 2
	c := New(NewEstimatingTokenizer(), cfg)

	_, err := c.CreateChunks(longDocument(10, 4), domain.ChunkSource{DocID: "doc"})
	if !domain.IsKind(err, domain.ErrChunking) {
		t.Fatalf("expected chunking error, got %v", err)
	}
}

type failingTokenizer struct{}

func (failingTokenizer) Count(string) (int, error) { return 0, errors.New("tokenizer down") }

func TestCreateChunksPropagatesTokenizerFailure(t *testing.T) {
	c := New(failingTokenizer{}, testConfig(100, 10, 5))

	_, err := c.CreateChunks("some text", domain.ChunkSource{DocID: "doc"})
	if err == nil || !strings.Contains(err.Error(), "tokenizer down") {
		t.Fatalf("expected tokenizer error, got %v", err)
	}
}

func TestCreateChunksSectionsAndPages(t *testing.T) {
	var b strings.Builder
	b.WriteString("# Введение\n\n")
	b.WriteString(strings.Repeat("Первая часть текста про продукт. ", 12))
	b.WriteString("\n\n## Тарифы\n\n")
	b.WriteString(strings.Repeat("Тариф Pro стоит двадцать долларов. ", 12))
	c := New(NewEstimatingTokenizer(), testConfig(60, 0, 5))

	chunks, err := c.CreateChunks(b.String(), domain.ChunkSource{DocID: "doc", Pages: 4})
	if err != nil {
		t.Fatalf("create chunks: %v", err)
	}
	first, last := chunks[0], chunks[len(chunks)-1]
	if first.Metadata.Section != "Введение" {
		t.Fatalf("expected first section Введение, got %q", first.Metadata.Section)
	}
	if last.Metadata.Section != "Тарифы" {
		t.Fatalf("expected last section Тарифы, got %q", last.Metadata.Section)
	}
	if first.Metadata.Page != 1 {
		t.Fatalf("expected first chunk on page 1, got %d", first.Metadata.Page)
	}
	if last.Metadata.Page < 2 || last.Metadata.Page > 4 {
		t.Fatalf("expected last chunk on a later page within 4, got %d", last.Metadata.Page)
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize("  Title\r\n\r\n\r\n\r\nline   one\t\tend  \n  line two ")
	want := "Title\n\nline one end\nline two"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
