package analyzer

import (
	"strings"
	"unicode"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
)

var skeletonKeywords = map[string]struct{}{
	"if": {}, "else": {}, "for": {}, "while": {}, "return": {}, "func": {}, "def": {},
	"class": {}, "import": {}, "switch": {}, "case": {}, "break": {}, "continue": {},
	"try": {}, "catch": {}, "except": {}, "var": {}, "const": {}, "let": {}, "struct": {},
	"public": {}, "private": {}, "static": {}, "void": {}, "int": {}, "new": {},
}

// skeleton strips a text down to its structure: identifiers and ordinary words
// collapse to "w" (runs merged), numbers become "n", keywords and punctuation stay.
func skeleton(text string) []string {
	var out []string
	push := func(s string) {
		if s == "w" && len(out) > 0 && out[len(out)-1] == "w" {
			return
		}
		out = append(out, s)
	}

	runes := []rune(text)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsDigit(r):
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			push("n")
		case unicode.IsLetter(r) || r == '_':
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_') {
				j++
			}
			word := strings.ToLower(string(runes[i:j]))
			if _, ok := skeletonKeywords[word]; ok {
				push(word)
			} else {
				push("w")
			}
			i = j
		default:
			push(string(r))
			i++
		}
	}
	return out
}

func levenshtein(a, b []string) int {
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
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// structuralSimilarity is 1 minus the normalised edit distance of two skeletons.
func structuralSimilarity(a, b []string) float64 {
	longest := max(len(a), len(b))
	if longest == 0 {
		return 1
	}
	return models.Clamp01(1 - float64(levenshtein(a, b))/float64(longest))
}

// lexicalSimilarity is the multiset token overlap over the longer document.
func lexicalSimilarity(a, b []string) float64 {
	longest := max(len(a), len(b))
	if longest == 0 {
		return 0
	}
	counts := make(map[string]int, len(a))
	for _, w := range a {
		counts[w]++
	}
	shared := 0
	for _, w := range b {
		if counts[w] > 0 {
			counts[w]--
			shared++
		}
	}
	return float64(shared) / float64(longest)
}

// alignSpans finds runs of identical tokens along a longest common subsequence
// and keeps those at least minLen tokens long. Inputs are truncated to limit.
func alignSpans(a, b []string, minLen, limit int) []models.AlignedSpan {
	if limit > 0 {
		a = a[:min(len(a), limit)]
		b = b[:min(len(b), limit)]
	}
	n, m := len(a), len(b)
	if n == 0 || m == 0 {
		return nil
	}

	// dp[i][j] is the LCS length of a[i:] and b[j:].
	dp := make([][]int32, n+1)
	for i := range dp {
		dp[i] = make([]int32, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else {
				dp[i][j] = max(dp[i+1][j], dp[i][j+1])
			}
		}
	}

	var spans []models.AlignedSpan
	runStartA, runStartB, runLen := 0, 0, 0
	flush := func() {
		if runLen >= minLen {
			spans = append(spans, models.AlignedSpan{
				AStart: runStartA,
				AEnd:   runStartA + runLen,
				BStart: runStartB,
				BEnd:   runStartB + runLen,
				Text:   strings.Join(a[runStartA:runStartA+runLen], " "),
			})
		}
		runLen = 0
	}

	i, j := 0, 0
	for i < n && j < m {
		if a[i] == b[j] {
			if runLen > 0 && (runStartA+runLen != i || runStartB+runLen != j) {
				flush()
			}
			if runLen == 0 {
				runStartA, runStartB = i, j
			}
			runLen++
			i++
			j++
			continue
		}
		flush()
		if dp[i+1][j] >= dp[i][j+1] {
			i++
		} else {
			j++
		}
	}
	flush()
	return spans
}
