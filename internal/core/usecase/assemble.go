package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kirillkom/localrag/internal/core/domain"
	"github.com/kirillkom/localrag/internal/core/ports"
)

// AssembledContext is the bounded context window and the results that made it in.
type AssembledContext struct {
	Text     string
	Entries  []string
	Included []domain.ScoredResult
}

// BuildContext renders results in order until the next entry would push the total past
// maxLength runes. Chunks are never truncated.
func BuildContext(results []domain.ScoredResult, maxLength int) AssembledContext {
	var out AssembledContext
	total := 0
	for _, res := range results {
		entry := contextEntry(res)
		size := utf8.RuneCountInString(entry)
		if total+size > maxLength {
			break
		}
		out.Entries = append(out.Entries, entry)
		out.Included = append(out.Included, res)
		total += size
	}
	out.Text = strings.Join(out.Entries, "\n")
	return out
}

// BuildCitations keeps the first result per (source, page).
func BuildCitations(results []domain.ScoredResult) []domain.Citation {
	type citationKey struct {
		source string
		page   int
	}
	seen := make(map[citationKey]struct{}, len(results))
	out := make([]domain.Citation, 0, len(results))
	for _, res := range results {
		source := docSource(res.Metadata)
		key := citationKey{source: source, page: res.Metadata.Page}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, domain.Citation{
			Source:     source,
			DocTitle:   docTitle(res.Metadata),
			Section:    res.Metadata.Section,
			Page:       res.Metadata.Page,
			ChunkID:    res.ChunkID,
			Confidence: res.Score,
		})
	}
	return out
}

type Assembly struct {
	Answer    string
	Citations []domain.Citation
	Contexts  []string
	Included  int
	// GenerationTime stays zero when the generator was skipped.
	GenerationTime time.Duration
}

// Assembler turns the final result list into an answer with citations.
type Assembler struct {
	generator ports.Generator
}

func NewAssembler(generator ports.Generator) *Assembler {
	return &Assembler{generator: generator}
}

func (a *Assembler) Assemble(ctx context.Context, question string, results []domain.ScoredResult, cfg domain.AnswerConfig) (*Assembly, error) {
	window := BuildContext(results, cfg.MaxContextLength)
	if len(window.Included) == 0 {
		return &Assembly{Answer: cfg.InsufficientDataText, Citations: []domain.Citation{}}, nil
	}
	if a.generator == nil {
		return nil, domain.WrapError(domain.ErrModelUnavailable, "assemble answer", errors.New("no generator configured"))
	}

	if cfg.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.GenerationTimeout)
		defer cancel()
	}

	prompt := BuildAnswerPrompt(question, window.Text)
	started := time.Now()
	text, err := a.generator.Generate(ctx, prompt, cfg.GenerationOptions())
	elapsed := time.Since(started)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !domain.IsUpstream(err) {
			err = domain.WrapError(domain.ErrUpstreamTimeout, "generate answer", err)
		}
		slog.Error("answer_generation_failed",
			"model", a.generator.Model(),
			"context_results", len(window.Included),
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
		return nil, err
	}

	contexts := make([]string, 0, len(window.Included))
	for _, res := range window.Included {
		contexts = append(contexts, strings.TrimSpace(res.Text))
	}
	return &Assembly{
		Answer:         strings.TrimSpace(text),
		Citations:      BuildCitations(window.Included),
		Contexts:       contexts,
		Included:       len(window.Included),
		GenerationTime: elapsed,
	}, nil
}
