package services

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rishivishwanath/autocont/models"
)

// TimingPolicy decides how narration time is shared between captions
type TimingPolicy string

const (
	// TimingProportional gives each caption a share proportional to its
	// character count. It approximates speech pace, there is no forced
	// alignment against the audio.
	TimingProportional TimingPolicy = "proportional"
	// TimingUniform gives every caption the same share
	TimingUniform TimingPolicy = "uniform"
)

// TextProcessor splits narration text into timed captions
type TextProcessor struct {
	MaxChars  int // soft limit, a single longer word still gets its own caption
	MaxWords  int
	MaxChunks int // 0 means unbounded
	Timing    TimingPolicy
}

// NewTextProcessor creates a new text processor
func NewTextProcessor(maxChars, maxWords, maxChunks int, timing TimingPolicy) *TextProcessor {
	if timing == "" {
		timing = TimingProportional
	}
	return &TextProcessor{
		MaxChars:  maxChars,
		MaxWords:  maxWords,
		MaxChunks: maxChunks,
		Timing:    timing,
	}
}

// Segment splits text into captions covering [0, totalDuration] without gaps
// or overlaps. Empty text yields no captions.
func (tp *TextProcessor) Segment(text string, totalDuration float64) ([]models.Caption, error) {
	chunks := tp.Chunk(text)
	if len(chunks) == 0 {
		return []models.Caption{}, nil
	}

	if totalDuration <= 0 || math.IsNaN(totalDuration) || math.IsInf(totalDuration, 0) {
		return nil, &TimingError{
			Duration: totalDuration,
			Msg:      "narration has no usable duration",
		}
	}

	weights := tp.weights(chunks)
	var totalWeight float64
	for _, w := range weights {
		totalWeight += w
	}

	captions := make([]models.Caption, len(chunks))
	var cumulative float64
	start := 0.0
	for i, chunk := range chunks {
		cumulative += weights[i]
		end := totalDuration * cumulative / totalWeight
		if i == len(chunks)-1 {
			end = totalDuration
		}
		captions[i] = models.Caption{Text: chunk, Start: start, End: end}
		start = end
	}

	return captions, nil
}

func (tp *TextProcessor) weights(chunks []string) []float64 {
	weights := make([]float64, len(chunks))
	for i, chunk := range chunks {
		if tp.Timing == TimingUniform {
			weights[i] = 1
			continue
		}
		weights[i] = float64(utf8.RuneCountInString(chunk))
	}
	return weights
}

// Chunk packs words greedily into caption chunks. A chunk never spans two
// sentences unless MaxChunks forces an even redistribution.
func (tp *TextProcessor) Chunk(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return []string{}
	}

	chunks := []string{}
	for _, sentence := range tp.splitIntoSentences(text) {
		chunks = append(chunks, tp.packWords(strings.Fields(sentence))...)
	}

	if tp.MaxChunks > 0 && len(chunks) > tp.MaxChunks {
		return redistribute(strings.Fields(text), tp.MaxChunks)
	}

	return chunks
}

// packWords fills each chunk until the next word would break a limit
func (tp *TextProcessor) packWords(words []string) []string {
	chunks := []string{}
	current := []string{}
	currentLen := 0

	for _, word := range words {
		wordLen := utf8.RuneCountInString(word)
		potentialLen := currentLen + wordLen
		if len(current) > 0 {
			potentialLen++
		}

		tooLong := tp.MaxChars > 0 && potentialLen > tp.MaxChars
		tooMany := tp.MaxWords > 0 && len(current) >= tp.MaxWords

		if len(current) > 0 && (tooLong || tooMany) {
			chunks = append(chunks, strings.Join(current, " "))
			current = current[:0]
			potentialLen = wordLen
		}

		current = append(current, word)
		currentLen = potentialLen
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}

	return chunks
}

// redistribute spreads words over n chunks, earlier chunks take the remainder
func redistribute(words []string, n int) []string {
	if n > len(words) {
		n = len(words)
	}

	chunks := make([]string, 0, n)
	base, extra := len(words)/n, len(words)%n
	pos := 0
	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		chunks = append(chunks, strings.Join(words[pos:pos+size], " "))
		pos += size
	}
	return chunks
}

// splitIntoSentences splits text into individual sentences
func (tp *TextProcessor) splitIntoSentences(text string) []string {
	sentences := []string{}
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		current.WriteRune(runes[i])

		// Look ahead to avoid splitting on abbreviations like "3.5"
		if isSentenceEnding(runes[i]) && i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			if sentence := strings.TrimSpace(current.String()); sentence != "" {
				sentences = append(sentences, sentence)
			}
			current.Reset()
		}
	}

	if sentence := strings.TrimSpace(current.String()); sentence != "" {
		sentences = append(sentences, sentence)
	}

	return sentences
}

func isSentenceEnding(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '。' || r == '！' || r == '？'
}

// WrapLines breaks text into lines of at most maxChars runes on word
// boundaries. Words longer than maxChars are kept whole on their own line.
func WrapLines(text string, maxChars int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{}
	}
	if maxChars <= 0 {
		return []string{strings.Join(words, " ")}
	}

	lines := []string{}
	line := ""
	for _, word := range words {
		if line == "" {
			line = word
			continue
		}
		if utf8.RuneCountInString(line)+1+utf8.RuneCountInString(word) > maxChars {
			lines = append(lines, line)
			line = word
			continue
		}
		line += " " + word
	}
	lines = append(lines, line)

	return lines
}
