package chunking

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kirillkom/localrag/internal/core/domain"
	"github.com/kirillkom/localrag/internal/core/ports"
)

// Chunker splits normalized document text into token-bounded chunks that overlap
// by a tail of whole words. Chunk offsets are rune offsets into the normalized text,
// and every chunk is a contiguous span of it.
type Chunker struct {
	tokenizer ports.Tokenizer
	settings  func() domain.ChunkingConfig
}

func New(tokenizer ports.Tokenizer, cfg domain.ChunkingConfig) *Chunker {
	return &Chunker{
		tokenizer: tokenizer,
		settings:  func() domain.ChunkingConfig { return cfg },
	}
}

// NewFromSource reads chunking settings from the current pipeline snapshot on every call.
func NewFromSource(tokenizer ports.Tokenizer, source ports.PipelineConfigSource) *Chunker {
	return &Chunker{
		tokenizer: tokenizer,
		settings:  func() domain.ChunkingConfig { return source.Current().Chunking },
	}
}

func (c *Chunker) CreateChunks(text string, src domain.ChunkSource) ([]domain.Chunk, error) {
	cfg := c.settings()
	normalized := Normalize(text)
	if normalized == "" {
		return nil, domain.WrapError(domain.ErrChunking, "create chunks", errors.New("document has no text"))
	}

	r := &run{runes: []rune(normalized), tokenizer: c.tokenizer, cfg: cfg}
	spans := r.chunkSpans()
	if r.err != nil {
		return nil, fmt.Errorf("count tokens: %w", r.err)
	}
	if len(spans) == 0 {
		return nil, domain.WrapError(domain.ErrChunking, "create chunks", errors.New("chunking produced zero chunks"))
	}
	if cfg.MaxChunksPerDoc > 0 && len(spans) > cfg.MaxChunksPerDoc {
		return nil, domain.WrapError(
			domain.ErrChunking,
			"create chunks",
			fmt.Errorf("document produced %d chunks, limit is %d", len(spans), cfg.MaxChunksPerDoc),
		)
	}

	headings := findHeadings(normalized)
	chunks := make([]domain.Chunk, 0, len(spans))
	for i, s := range spans {
		start, end := r.trim(s.start, s.end)
		chunkText := string(r.runes[start:end])
		tokens, err := c.tokenizer.Count(chunkText)
		if err != nil {
			return nil, fmt.Errorf("count tokens: %w", err)
		}
		overlap := min(max(s.core-start, 0), end-start)

		chunks = append(chunks, domain.Chunk{
			ChunkID:      domain.ChunkID(src.DocID, i+1),
			DocID:        src.DocID,
			Text:         chunkText,
			CharStart:    start,
			CharEnd:      end,
			ChunkIndex:   i,
			TokenCount:   tokens,
			CharCount:    end - start,
			OverlapChars: overlap,
			Metadata: domain.ChunkMetadata{
				DocTitle:  src.Title,
				Source:    src.Source,
				FileType:  src.FileType,
				Language:  src.Language,
				Page:      estimatePage(start, len(r.runes), src.Pages),
				Section:   sectionAt(headings, s.core, end),
				CreatedAt: src.CreatedAt,
			},
		})
	}
	return chunks, nil
}

var (
	horizontalSpace = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	manyNewlines    = regexp.MustCompile(`\n{3,}`)
	headingPattern  = regexp.MustCompile(`(?m)^#{1,6}[ \t]+(.+)$`)
)

// Normalize unifies line endings, collapses horizontal whitespace, trims every line
// and limits blank lines to a single paragraph break.
func Normalize(text string) string {
	text = strings.ToValidUTF8(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = horizontalSpace.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	text = strings.Join(lines, "\n")
	text = manyNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// span is a chunk in rune offsets: [start, core) is the overlap carried from the
// previous chunk, [core, end) is new content.
type span struct {
	start, core, end int
}

type piece struct {
	start, end int
}

type run struct {
	runes     []rune
	tokenizer ports.Tokenizer
	cfg       domain.ChunkingConfig
	err       error
}

func (r *run) chunkSpans() []span {
	queue := r.split(piece{0, len(r.runes)}, 0)
	var spans []span
	start, core, end := 0, 0, 0

	for len(queue) > 0 && r.err == nil {
		p := queue[0]
		queue = queue[1:]

		if r.fits(start, p.end) {
			end = p.end
			continue
		}

		if r.hasText(core, end) {
			if r.count(start, end) < r.cfg.MinChunkSize {
				if words := r.words(p); len(words) > 1 {
					queue = append(words, queue...)
					continue
				}
				// A single word that does not fit: take as much of it as fits.
				if cut := r.longestFit(start, p); cut > p.start {
					end = cut
					queue = append([]piece{{cut, p.end}}, queue...)
					continue
				}
			}
			spans = append(spans, span{start: start, core: core, end: end})
			start = r.overlapStart(start, end)
			core = end
			queue = append([]piece{p}, queue...)
			continue
		}

		// Only the carried overlap precedes p.
		if words := r.words(p); len(words) > 1 {
			queue = append(words, queue...)
			continue
		}
		start, core = p.start, p.start
		if !r.fits(start, p.end) {
			queue = append(r.windows(p), queue...)
			continue
		}
		end = p.end
	}

	if !r.hasText(core, end) {
		return spans
	}
	// A short tail is kept: dropping it would lose document text.
	return append(spans, span{start: start, core: core, end: end})
}

// split breaks p by the separator at level, descending to finer separators only for
// parts that still exceed the chunk size. Separators stay attached to the left part.
func (r *run) split(p piece, level int) []piece {
	if r.fits(p.start, p.end) {
		return []piece{p}
	}
	if level >= len(r.cfg.Separators) {
		return r.windows(p)
	}
	parts := r.splitKeep(p, []rune(r.cfg.Separators[level]))
	if len(parts) == 1 {
		return r.split(p, level+1)
	}
	out := make([]piece, 0, len(parts))
	for _, part := range parts {
		out = append(out, r.split(part, level+1)...)
	}
	return out
}

func (r *run) splitKeep(p piece, sep []rune) []piece {
	if len(sep) == 0 {
		return []piece{p}
	}
	var out []piece
	from := p.start
	for i := p.start; i+len(sep) <= p.end; {
		if !r.matchAt(i, sep) {
			i++
			continue
		}
		cut := i + len(sep)
		out = r.appendPart(out, piece{from, cut})
		from, i = cut, cut
	}
	if from < p.end {
		out = r.appendPart(out, piece{from, p.end})
	}
	return out
}

func (r *run) appendPart(out []piece, part piece) []piece {
	if len(out) > 0 && !r.hasText(part.start, part.end) {
		out[len(out)-1].end = part.end
		return out
	}
	return append(out, part)
}

func (r *run) matchAt(i int, sep []rune) bool {
	for j, sr := range sep {
		if r.runes[i+j] != sr {
			return false
		}
	}
	return true
}

// words splits p after every whitespace run.
func (r *run) words(p piece) []piece {
	var out []piece
	from := p.start
	for i := p.start; i < p.end; i++ {
		if unicode.IsSpace(r.runes[i]) && (i+1 == p.end || !unicode.IsSpace(r.runes[i+1])) {
			out = append(out, piece{from, i + 1})
			from = i + 1
		}
	}
	if from < p.end {
		out = append(out, piece{from, p.end})
	}
	return out
}

// windows cuts p into the longest rune windows that fit the chunk size.
func (r *run) windows(p piece) []piece {
	var out []piece
	for a := p.start; a < p.end; {
		lo, hi := a+1, p.end
		for lo < hi {
			mid := (lo + hi + 1) / 2
			if r.fits(a, mid) {
				lo = mid
			} else {
				hi = mid - 1
			}
		}
		out = append(out, piece{a, lo})
		a = lo
	}
	return out
}

// longestFit returns the furthest offset in p that still fits after start, or p.start
// when nothing of p fits.
func (r *run) longestFit(start int, p piece) int {
	lo, hi := p.start, p.end-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if r.fits(start, mid) {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// overlapStart returns where the overlap tail of [start, end) begins: the longest run
// of trailing whole words within the overlap budget, or end when even the last word is too long.
func (r *run) overlapStart(start, end int) int {
	if r.cfg.Overlap <= 0 {
		return end
	}
	first, last := r.trim(start, end)
	if first >= last {
		return end
	}
	starts := []int{first}
	for i := first + 1; i < last; i++ {
		if unicode.IsSpace(r.runes[i-1]) && !unicode.IsSpace(r.runes[i]) {
			starts = append(starts, i)
		}
	}
	idx := sort.Search(len(starts), func(i int) bool {
		return r.count(starts[i], end) <= r.cfg.Overlap
	})
	if idx == len(starts) {
		return end
	}
	return starts[idx]
}

func (r *run) fits(a, b int) bool {
	return r.count(a, b) <= r.cfg.ChunkSize
}

func (r *run) count(a, b int) int {
	if r.err != nil {
		return 0
	}
	a, b = r.trim(a, b)
	if a >= b {
		return 0
	}
	n, err := r.tokenizer.Count(string(r.runes[a:b]))
	if err != nil {
		r.err = err
		return 0
	}
	return n
}

func (r *run) hasText(a, b int) bool {
	a, b = r.trim(a, b)
	return a < b
}

func (r *run) trim(a, b int) (int, int) {
	for a < b && unicode.IsSpace(r.runes[a]) {
		a++
	}
	for b > a && unicode.IsSpace(r.runes[b-1]) {
		b--
	}
	return a, b
}

type heading struct {
	pos   int
	title string
}

func findHeadings(text string) []heading {
	matches := headingPattern.FindAllStringSubmatchIndex(text, -1)
	out := make([]heading, 0, len(matches))
	byteOff, runeOff := 0, 0
	for _, m := range matches {
		runeOff += utf8.RuneCountInString(text[byteOff:m[0]])
		byteOff = m[0]
		title := strings.TrimSpace(strings.TrimRight(text[m[2]:m[3]], "# "))
		if title != "" {
			out = append(out, heading{pos: runeOff, title: title})
		}
	}
	return out
}

// sectionAt picks the last heading at or before the chunk's new content,
// falling back to the first heading inside the chunk.
func sectionAt(headings []heading, core, end int) string {
	section := ""
	for _, h := range headings {
		if h.pos <= core {
			section = h.title
			continue
		}
		if section == "" && h.pos < end {
			return h.title
		}
		break
	}
	return section
}

func estimatePage(charStart, total, pages int) int {
	if pages <= 0 || total <= 0 {
		return 0
	}
	page := int(float64(charStart)/float64(total)*float64(pages)) + 1
	return min(page, pages)
}
