package usecase

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/kirillkom/localrag/internal/core/domain"
)

// Deduplicator drops passages that repeat an earlier one: byte-identical after trimming,
// mostly made of lines already seen, or fuzzy-similar in their opening window.
// First occurrences win and input order is preserved.
type Deduplicator struct {
	cfg domain.DedupConfig
}

func NewDeduplicator(cfg domain.DedupConfig) *Deduplicator {
	return &Deduplicator{cfg: cfg}
}

// Sections returns the trimmed unique sections. Blank sections are dropped.
func (d *Deduplicator) Sections(sections []string) []string {
	state := d.newState()
	out := make([]string, 0, len(sections))
	for _, section := range sections {
		if clean, ok := state.accept(section); ok {
			out = append(out, clean)
		}
	}
	return out
}

// Results keeps the results whose text survives the same cascade as Sections.
func (d *Deduplicator) Results(results []domain.ScoredResult) []domain.ScoredResult {
	state := d.newState()
	out := make([]domain.ScoredResult, 0, len(results))
	for _, res := range results {
		if _, ok := state.accept(res.Text); ok {
			out = append(out, res)
		}
	}
	return out
}

type dedupState struct {
	cfg      domain.DedupConfig
	hashes   map[string]struct{}
	lines    map[string]struct{}
	accepted [][]string
}

func (d *Deduplicator) newState() *dedupState {
	return &dedupState{
		cfg:    d.cfg,
		hashes: make(map[string]struct{}),
		lines:  make(map[string]struct{}),
	}
}

func (s *dedupState) accept(section string) (string, bool) {
	clean := strings.TrimSpace(section)
	if clean == "" {
		return "", false
	}

	sum := md5.Sum([]byte(clean))
	hash := hex.EncodeToString(sum[:])
	if _, seen := s.hashes[hash]; seen {
		return "", false
	}

	lines := nonEmptyLines(clean)
	if s.mostlySeen(lines) {
		return "", false
	}

	window := compareWindow(clean, s.cfg.CompareChars)
	threshold := s.cfg.LongThreshold
	if utf8.RuneCountInString(clean) < s.cfg.ShortSectionChars {
		threshold = s.cfg.ShortThreshold
	}
	for _, existing := range s.accepted {
		if difflib.NewMatcher(window, existing).Ratio() > threshold {
			return "", false
		}
	}

	s.accepted = append(s.accepted, window)
	s.hashes[hash] = struct{}{}
	for _, line := range lines {
		if utf8.RuneCountInString(line) > s.cfg.MinLineChars {
			s.lines[line] = struct{}{}
		}
	}
	return clean, true
}

func (s *dedupState) mostlySeen(lines []string) bool {
	if len(lines) == 0 {
		return false
	}
	duplicates := 0
	for _, line := range lines {
		if _, ok := s.lines[line]; ok {
			duplicates++
		}
	}
	return float64(duplicates)/float64(len(lines)) > s.cfg.LineOverlapRatio
}

func nonEmptyLines(text string) []string {
	raw := strings.Split(text, "\n")
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// compareWindow cuts the first limit runes and lower-cases them, one sequence element per rune.
func compareWindow(text string, limit int) []string {
	out := make([]string, 0, min(limit, len(text)))
	for _, r := range text {
		if len(out) == limit {
			break
		}
		out = append(out, strings.ToLower(string(r)))
	}
	return out
}
