package textsplit

import (
	"strings"
	"unicode/utf8"
)

// Separators tried in order: paragraph, line, sentence, word. The empty
// string is the hard rune cut of last resort.
var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter cuts text into chunks of at most ChunkSize runes with roughly
// ChunkOverlap runes carried between consecutive chunks. Splitting prefers
// natural boundaries and only falls back to a hard cut when a single word
// exceeds the chunk size. A Splitter is a pure function of its input.
type Splitter struct {
	ChunkSize    int
	ChunkOverlap int
}

func New(chunkSize, chunkOverlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 5
	}
	return &Splitter{ChunkSize: chunkSize, ChunkOverlap: chunkOverlap}
}

// Split returns the chunks in document order. Every chunk is a trimmed
// contiguous substring of text; whitespace-only chunks are dropped.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.split(text, defaultSeparators)
}

func (s *Splitter) split(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	var deeper []string
	for i, cand := range separators {
		if cand == "" || strings.Contains(text, cand) {
			sep = cand
			deeper = separators[i+1:]
			break
		}
	}

	if sep == "" {
		return trimAll(hardCut(text, s.ChunkSize, s.ChunkOverlap))
	}

	parts := strings.SplitAfter(text, sep)

	var chunks []string
	var pending []string
	flush := func() {
		if len(pending) > 0 {
			chunks = append(chunks, s.merge(pending)...)
			pending = nil
		}
	}
	for _, part := range parts {
		if utf8.RuneCountInString(part) <= s.ChunkSize {
			pending = append(pending, part)
			continue
		}
		// Oversize part: emit what we have, then split it at finer boundaries.
		flush()
		chunks = append(chunks, s.split(part, deeper)...)
	}
	flush()
	return chunks
}

// merge packs consecutive small parts into chunks, keeping a trailing
// window of parts (up to ChunkOverlap runes) as the start of the next chunk.
func (s *Splitter) merge(parts []string) []string {
	var chunks []string
	var cur []string
	curLen := 0

	for _, p := range parts {
		pLen := utf8.RuneCountInString(p)
		if curLen+pLen > s.ChunkSize && curLen > 0 {
			if c := strings.TrimSpace(strings.Join(cur, "")); c != "" {
				chunks = append(chunks, c)
			}
			for curLen > s.ChunkOverlap || (curLen+pLen > s.ChunkSize && curLen > 0) {
				curLen -= utf8.RuneCountInString(cur[0])
				cur = cur[1:]
			}
		}
		cur = append(cur, p)
		curLen += pLen
	}
	if c := strings.TrimSpace(strings.Join(cur, "")); c != "" {
		chunks = append(chunks, c)
	}
	return chunks
}

// hardCut slices text into rune windows of the given size with overlap.
func hardCut(text string, size, overlap int) []string {
	if overlap >= size {
		overlap = size / 2
	}
	var out []string
	runes := []rune(text)
	for i := 0; i < len(runes); {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
		if end == len(runes) {
			break
		}
		i += size - overlap
	}
	return out
}

func trimAll(in []string) []string {
	out := in[:0]
	for _, c := range in {
		if t := strings.TrimSpace(c); t != "" {
			out = append(out, t)
		}
	}
	return out
}
