// Package eval scores extracted text against a ground-truth transcript.
package eval

import (
	"strings"
)

// Metrics compares a transcript with the text extracted in reading order.
type Metrics struct {
	CharacterSimilarity   float64 `json:"character_similarity" yaml:"character_similarity"`
	WordSimilarity        float64 `json:"word_similarity" yaml:"word_similarity"`
	WordAccuracy          float64 `json:"word_accuracy" yaml:"word_accuracy"`
	WordErrorRate         float64 `json:"word_error_rate" yaml:"word_error_rate"`
	TotalWordsOriginal    int     `json:"total_words_original" yaml:"total_words_original"`
	TotalWordsTranscribed int     `json:"total_words_transcribed" yaml:"total_words_transcribed"`
	CorrectWords          int     `json:"correct_words" yaml:"correct_words"`
	Substitutions         int     `json:"substitutions" yaml:"substitutions"`
	Deletions             int     `json:"deletions" yaml:"deletions"`
	Insertions            int     `json:"insertions" yaml:"insertions"`
}

// Compare computes similarity and word error metrics. Both texts are
// lower-cased and whitespace is collapsed first, so line breaks between
// detections do not count as errors.
func Compare(original, transcribed string) Metrics {
	origNorm := normalizeText(original)
	transNorm := normalizeText(transcribed)
	origWords := strings.Fields(origNorm)
	transWords := strings.Fields(transNorm)

	charSim := similarity([]rune(origNorm), []rune(transNorm))
	wordSim := similarity(origWords, transWords)
	wordAcc, correct, subs, dels, ins := wordLevelMetrics(origWords, transWords)

	return Metrics{
		CharacterSimilarity:   charSim,
		WordSimilarity:        wordSim,
		WordAccuracy:          wordAcc,
		WordErrorRate:         1.0 - wordAcc,
		TotalWordsOriginal:    len(origWords),
		TotalWordsTranscribed: len(transWords),
		CorrectWords:          correct,
		Substitutions:         subs,
		Deletions:             dels,
		Insertions:            ins,
	}
}

// Average returns the mean of each rate over ms. Counts are summed.
func Average(ms []Metrics) Metrics {
	var avg Metrics
	if len(ms) == 0 {
		return avg
	}
	for _, m := range ms {
		avg.CharacterSimilarity += m.CharacterSimilarity
		avg.WordSimilarity += m.WordSimilarity
		avg.WordAccuracy += m.WordAccuracy
		avg.WordErrorRate += m.WordErrorRate
		avg.TotalWordsOriginal += m.TotalWordsOriginal
		avg.TotalWordsTranscribed += m.TotalWordsTranscribed
		avg.CorrectWords += m.CorrectWords
		avg.Substitutions += m.Substitutions
		avg.Deletions += m.Deletions
		avg.Insertions += m.Insertions
	}
	n := float64(len(ms))
	avg.CharacterSimilarity /= n
	avg.WordSimilarity /= n
	avg.WordAccuracy /= n
	avg.WordErrorRate /= n
	return avg
}

func normalizeText(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// levenshtein is the edit distance between two token sequences.
func levenshtein[T comparable](a, b []T) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost) // deletion, insertion, substitution
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func similarity[T comparable](a, b []T) float64 {
	maxLen := max(len(a), len(b))
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshtein(a, b))/float64(maxLen)
}

// wordLevelMetrics aligns the word sequences and counts each edit type.
func wordLevelMetrics(orig, trans []string) (float64, int, int, int, int) {
	m, n := len(orig), len(trans)
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}
	for i := 0; i <= m; i++ {
		dp[i][0] = i
	}
	for j := 0; j <= n; j++ {
		dp[0][j] = j
	}

	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if orig[i-1] == trans[j-1] {
				dp[i][j] = dp[i-1][j-1]
			} else {
				dp[i][j] = 1 + min(dp[i-1][j], dp[i][j-1], dp[i-1][j-1])
			}
		}
	}

	// Backtrack to count operations
	i, j := m, n
	substitutions, deletions, insertions, correct := 0, 0, 0, 0
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && orig[i-1] == trans[j-1]:
			correct++
			i--
			j--
		case i > 0 && j > 0 && dp[i][j] == dp[i-1][j-1]+1:
			substitutions++
			i--
			j--
		case i > 0 && dp[i][j] == dp[i-1][j]+1:
			deletions++
			i--
		default:
			insertions++
			j--
		}
	}

	wer := 0.0
	if m > 0 {
		wer = float64(substitutions+deletions+insertions) / float64(m)
	} else if n > 0 {
		wer = 1.0
	}
	return 1.0 - wer, correct, substitutions, deletions, insertions
}
