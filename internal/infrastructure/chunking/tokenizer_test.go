package chunking

import "testing"

func TestEstimatingTokenizerCounts(t *testing.T) {
	tok := NewEstimatingTokenizer()
	cases := []struct {
		text string
		want int
	}{
		{text: "", want: 0},
		{text: "hello", want: 2},
		{text: "привет", want: 3},
		{text: "12345", want: 2},
		{text: "a, b", want: 3},
		{text: "a\n\nb", want: 3},
		{text: "   ", want: 0},
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

func TestEstimatingTokenizerNeverGrowsOnPrefix(t *testing.T) {
	tok := NewEstimatingTokenizer()
	text := []rune("Тариф Pro: $29/мес, до 10 агентов. Support@example.com")
	prev := 0
	for i := 1; i <= len(text); i++ {
		n, _ := tok.Count(string(text[:i]))
		if n < prev {
			t.Fatalf("prefix %d counted %d tokens, shorter prefix counted %d", i, n, prev)
		}
		prev = n
	}
}
