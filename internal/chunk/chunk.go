// Package chunk splits document text into bounded segments for model calls.
package chunk

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultSize is the default maximum chunk length in characters.
const DefaultSize = 8000

var (
	paragraphBreak = regexp.MustCompile(`\n\s*\n`)
	sentenceEnd    = regexp.MustCompile(`[.!?]\s+`)
)

type piece struct {
	text string
	sep  string // joins the piece to the preceding one in the same chunk
}

// Split returns text divided into chunks of at most maxSize characters.
// Paragraphs are kept whole where they fit; longer paragraphs are split into
// sentences. A single sentence longer than maxSize becomes its own chunk.
// A non-positive maxSize selects DefaultSize.
func Split(text string, maxSize int) []string {
	if maxSize <= 0 {
		maxSize = DefaultSize
	}
	if utf8.RuneCountInString(text) <= maxSize {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}

	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
		}
		cur.Reset()
		curLen = 0
	}

	for _, p := range pieces(text, maxSize) {
		n := utf8.RuneCountInString(p.text)
		switch {
		case curLen == 0:
		case curLen+utf8.RuneCountInString(p.sep)+n <= maxSize:
			cur.WriteString(p.sep)
			curLen += utf8.RuneCountInString(p.sep)
		default:
			flush()
		}
		cur.WriteString(p.text)
		curLen += n
	}
	flush()
	return chunks
}

// pieces yields whole paragraphs, or the sentences of paragraphs that are
// longer than maxSize.
func pieces(text string, maxSize int) []piece {
	var out []piece
	for _, para := range paragraphBreak.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if utf8.RuneCountInString(para) <= maxSize {
			out = append(out, piece{text: para, sep: "\n\n"})
			continue
		}
		for i, s := range Sentences(para) {
			sep := " "
			if i == 0 {
				sep = "\n\n"
			}
			out = append(out, piece{text: s, sep: sep})
		}
	}
	return out
}

// Sentences splits text after end punctuation that is followed by whitespace.
// The punctuation stays with its sentence; the whitespace is dropped.
func Sentences(text string) []string {
	var out []string
	start := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[start : loc[0]+1]); s != "" {
			out = append(out, s)
		}
		start = loc[1]
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}
