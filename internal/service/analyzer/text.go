package analyzer

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Embedder turns texts into fixed-size vectors. The model behind it is pluggable.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

type token struct {
	text  string
	start int
	end   int
}

// tokenize splits text into lowercase word tokens carrying byte offsets.
func tokenize(text string) []token {
	var tokens []token
	start := -1
	for i, r := range text {
		isWord := unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\''
		if isWord && start < 0 {
			start = i
		}
		if !isWord && start >= 0 {
			tokens = append(tokens, token{text: strings.ToLower(text[start:i]), start: start, end: i})
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, token{text: strings.ToLower(text[start:]), start: start, end: len(text)})
	}
	return tokens
}

func tokenTexts(tokens []token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.text
	}
	return out
}

type window struct {
	startToken int
	endToken   int
	text       string
}

// slidingWindows returns overlapping windows of size tokens advancing by stride.
// Texts shorter than size produce one window covering everything.
func slidingWindows(tokens []token, size, stride int) []window {
	if len(tokens) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(tokens)
	}
	if stride <= 0 {
		stride = size
	}
	words := tokenTexts(tokens)
	if len(tokens) <= size {
		return []window{{startToken: 0, endToken: len(tokens), text: strings.Join(words, " ")}}
	}

	var out []window
	for start := 0; ; start += stride {
		end := start + size
		if end >= len(tokens) {
			end = len(tokens)
			start = end - size
			out = append(out, window{startToken: start, endToken: end, text: strings.Join(words[start:end], " ")})
			break
		}
		out = append(out, window{startToken: start, endToken: end, text: strings.Join(words[start:end], " ")})
	}
	return out
}

// HashingEmbedder is the default local embedder: hashed unigram and bigram
// counts, L2-normalised. It needs no external service.
type HashingEmbedder struct {
	Dim int
}

func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &HashingEmbedder{Dim: dim}
}

func (e *HashingEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(tokenTexts(tokenize(text)))
	}
	return out, nil
}

func (e *HashingEmbedder) vector(words []string) []float64 {
	vec := make([]float64, e.Dim)
	for i, w := range words {
		vec[e.bucket(w)] += 1
		if i > 0 {
			vec[e.bucket(words[i-1]+" "+w)] += 0.5
		}
	}
	normalize(vec)
	return vec
}

func (e *HashingEmbedder) bucket(s string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(e.Dim))
}

func normalize(vec []float64) {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] /= norm
	}
}

// cosine returns the cosine similarity clamped to [0,1].
func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	v := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// splitParagraphs splits on blank lines.
func splitParagraphs(text string) []string {
	var out []string
	var cur []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			if len(cur) > 0 {
				out = append(out, strings.Join(cur, " "))
				cur = nil
			}
			continue
		}
		cur = append(cur, strings.TrimSpace(line))
	}
	if len(cur) > 0 {
		out = append(out, strings.Join(cur, " "))
	}
	return out
}

// splitSentences splits on terminal punctuation, dropping empty sentences.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(text[start:i]); s != "" {
				out = append(out, s)
			}
			start = i + utf8.RuneLen(r)
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}
