package chunking

import (
	"unicode"
	"unicode/utf8"
)

// EstimatingTokenizer approximates a cl100k-style BPE vocabulary without model files.
// ASCII letter runs cost one token per four letters, other scripts one per two runes,
// digit runs one per three digits, each punctuation or symbol rune one token and each
// newline run one token. Counts are deterministic and never grow when text is cut.
type EstimatingTokenizer struct{}

func NewEstimatingTokenizer() EstimatingTokenizer {
	return EstimatingTokenizer{}
}

func (EstimatingTokenizer) Count(text string) (int, error) {
	return estimateTokens(text), nil
}

type runClass int

const (
	classNone runClass = iota
	classLetter
	classDigit
	classNewline
	classSpace
)

func estimateTokens(text string) int {
	total := 0
	class := classNone
	ascii, other, digits := 0, 0, 0

	flush := func() {
		switch class {
		case classLetter:
			total += ceilDiv(ascii, 4) + ceilDiv(other, 2)
		case classDigit:
			total += ceilDiv(digits, 3)
		case classNewline:
			total++
		}
		ascii, other, digits = 0, 0, 0
	}

	for _, r := range text {
		next := classify(r)
		if next == classNone {
			flush()
			class = classNone
			total++
			continue
		}
		if next != class {
			flush()
			class = next
		}
		switch next {
		case classLetter:
			if r < utf8.RuneSelf {
				ascii++
			} else {
				other++
			}
		case classDigit:
			digits++
		}
	}
	flush()
	return total
}

func classify(r rune) runClass {
	switch {
	case r == '\n':
		return classNewline
	case unicode.IsSpace(r):
		return classSpace
	case unicode.IsLetter(r) || unicode.IsMark(r):
		return classLetter
	case unicode.IsDigit(r):
		return classDigit
	default:
		return classNone
	}
}

func ceilDiv(n, d int) int {
	if n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}
