package tokenizer

import "testing"

func TestEstimate(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"   ", 0},
		{"4", 1},
		{"four", 1},
		{"hello", 2},
		{"héllo wörld", 3},
	}
	for _, tc := range cases {
		if got := (Estimate{}).Count(tc.text); got != tc.want {
			t.Errorf("Estimate(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}

func TestCountAll(t *testing.T) {
	if got := CountAll(Estimate{}, "abcd", "", "abcdefgh"); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestBPECountsWhenEncodingAvailable(t *testing.T) {
	bpe, err := NewBPE(DefaultEncoding)
	if err != nil {
		t.Skipf("encoding unavailable: %v", err)
	}
	if got := bpe.Count("hello world"); got != 2 {
		t.Fatalf("expected 2 tokens, got %d", got)
	}
	if got := bpe.Count(""); got != 0 {
		t.Fatalf("expected 0 tokens for empty text, got %d", got)
	}
}
