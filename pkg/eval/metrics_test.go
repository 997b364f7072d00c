package eval

import (
	"math"
	"testing"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		name     string
		s1       string
		s2       string
		expected int
	}{
		{"identical strings", "hello", "hello", 0},
		{"one substitution", "hello", "hallo", 1},
		{"one insertion", "hello", "helloo", 1},
		{"one deletion", "hello", "hell", 1},
		{"empty strings", "", "", 0},
		{"one empty string", "hello", "", 5},
		{"completely different", "abc", "xyz", 3},
		{"multi-byte runes count once", "naïve", "naive", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := levenshtein([]rune(tt.s1), []rune(tt.s2))
			if got != tt.expected {
				t.Errorf("levenshtein(%q, %q) = %d, want %d", tt.s1, tt.s2, got, tt.expected)
			}
		})
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		s1       string
		s2       string
		expected float64
	}{
		{"identical strings", "hello", "hello", 1.0},
		{"completely different", "abc", "xyz", 0.0},
		{"one char different", "hello", "hallo", 0.8},
		{"empty strings", "", "", 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := similarity([]rune(tt.s1), []rune(tt.s2))
			if diff := got - tt.expected; diff > 0.01 || diff < -0.01 {
				t.Errorf("similarity(%q, %q) = %.3f, want %.3f", tt.s1, tt.s2, got, tt.expected)
			}
		})
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name          string
		original      string
		transcribed   string
		wordAccuracy  float64
		correct       int
		substitutions int
		deletions     int
		insertions    int
	}{
		{
			name:         "line breaks and case are ignored",
			original:     "Invoice 42\nTotal due",
			transcribed:  "invoice 42 total   DUE",
			wordAccuracy: 1,
			correct:      4,
		},
		{
			name:          "one substitution",
			original:      "the quick brown fox",
			transcribed:   "the quack brown fox",
			wordAccuracy:  0.75,
			correct:       3,
			substitutions: 1,
		},
		{
			name:         "missing word",
			original:     "the quick brown fox",
			transcribed:  "the brown fox",
			wordAccuracy: 0.75,
			correct:      3,
			deletions:    1,
		},
		{
			name:         "extra word",
			original:     "the fox",
			transcribed:  "the red fox",
			wordAccuracy: 0.5,
			correct:      2,
			insertions:   1,
		},
		{
			name:         "nothing extracted",
			original:     "a b",
			transcribed:  "",
			wordAccuracy: 0,
			deletions:    2,
		},
		{
			name:         "text where none expected",
			original:     "",
			transcribed:  "noise",
			wordAccuracy: 0,
			insertions:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Compare(tt.original, tt.transcribed)
			if math.Abs(m.WordAccuracy-tt.wordAccuracy) > 1e-9 {
				t.Errorf("WordAccuracy = %v, want %v", m.WordAccuracy, tt.wordAccuracy)
			}
			if math.Abs(m.WordErrorRate-(1-tt.wordAccuracy)) > 1e-9 {
				t.Errorf("WordErrorRate = %v", m.WordErrorRate)
			}
			if m.CorrectWords != tt.correct || m.Substitutions != tt.substitutions ||
				m.Deletions != tt.deletions || m.Insertions != tt.insertions {
				t.Errorf("counts = %d correct, %d sub, %d del, %d ins",
					m.CorrectWords, m.Substitutions, m.Deletions, m.Insertions)
			}
		})
	}
}

func TestAverage(t *testing.T) {
	avg := Average([]Metrics{
		{CharacterSimilarity: 1, WordAccuracy: 1, TotalWordsOriginal: 3},
		{CharacterSimilarity: 0.5, WordAccuracy: 0, TotalWordsOriginal: 2, WordErrorRate: 1},
	})
	if avg.CharacterSimilarity != 0.75 || avg.WordAccuracy != 0.5 || avg.WordErrorRate != 0.5 {
		t.Errorf("unexpected averages: %+v", avg)
	}
	if avg.TotalWordsOriginal != 5 {
		t.Errorf("TotalWordsOriginal = %d, want 5", avg.TotalWordsOriginal)
	}
	if (Average(nil) != Metrics{}) {
		t.Error("Average(nil) should be zero")
	}
}
