package chunk

import (
	"fmt"
	"strings"
	"unicode"

	"ai-ragchat-be/pkg/apperr"
)

// Span is one chunk of a document with its rune offsets in the source text.
// Spans of consecutive chunks may overlap.
type Span struct {
	Start int
	End   int
	Text  string
}

// Splitter cuts text into overlapping windows of at most Size runes,
// preferring to end a window on a sentence terminator and otherwise on a
// word boundary.
type Splitter struct {
	size    int
	overlap int
}

// NewSplitter validates the window geometry. overlap must be strictly
// smaller than size, otherwise the cursor could never advance.
func NewSplitter(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, apperr.Configuration("chunk.new", fmt.Sprintf("chunk size must be positive, got %d", size))
	}
	if overlap < 0 {
		return nil, apperr.Configuration("chunk.new", fmt.Sprintf("chunk overlap must not be negative, got %d", overlap))
	}
	if overlap >= size {
		return nil, apperr.Configuration("chunk.new", fmt.Sprintf("chunk overlap (%d) must be smaller than chunk size (%d)", overlap, size))
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

// Split is a convenience wrapper for one-off splits.
func Split(text string, size, overlap int) ([]string, error) {
	s, err := NewSplitter(size, overlap)
	if err != nil {
		return nil, err
	}
	return s.Split(text), nil
}

func (s *Splitter) Size() int    { return s.size }
func (s *Splitter) Overlap() int { return s.overlap }

// Split returns the trimmed, non-empty chunk texts in document order.
func (s *Splitter) Split(text string) []string {
	spans := s.Spans(text)
	chunks := make([]string, len(spans))
	for i, sp := range spans {
		chunks[i] = sp.Text
	}
	return chunks
}

// Spans walks the text with a cursor. Every window that does not reach the
// end of the text moves the cursor forward by at least size-overlap runes,
// so the number of spans never exceeds ceil(len/(size-overlap)) + 1.
//
// A window may only be shortened to a boundary lying inside its last
// `overlap` runes. Inside that region the last sentence terminator wins,
// then the last whitespace; with neither the window is cut hard. A splitter
// without overlap therefore always cuts at size.
func (s *Splitter) Spans(text string) []Span {
	runes := []rune(text)
	total := len(runes)

	var spans []Span
	cursor := skipSpace(runes, 0)

	for cursor < total {
		hard := cursor + s.size
		if hard >= total {
			spans = appendSpan(spans, runes, cursor, total)
			break
		}

		minEnd := hard - s.overlap
		end, cut := s.boundary(runes, minEnd, hard)
		spans = appendSpan(spans, runes, cursor, end)

		lower := end - s.overlap
		if lower < minEnd {
			lower = minEnd
		}

		var next int
		switch cut {
		case cutSentence:
			next = sentenceStart(runes, lower, end)
		case cutWord:
			next, _ = wordStart(runes, lower, end)
		default:
			// the window already ends mid-word, so keep the raw overlap
			// unless a word starts inside it
			var ok bool
			if next, ok = wordStart(runes, lower, end); !ok {
				next = lower
			}
		}
		cursor = skipSpace(runes, next)
	}

	return spans
}

type cutKind int

const (
	cutHard cutKind = iota
	cutWord
	cutSentence
)

func (s *Splitter) boundary(runes []rune, minEnd, hard int) (int, cutKind) {
	for p := hard - 1; p >= minEnd-1 && p >= 0; p-- {
		if isTerminator(runes[p]) {
			return p + 1, cutSentence
		}
	}
	if unicode.IsSpace(runes[hard]) {
		return hard, cutWord
	}
	for p := hard - 1; p >= minEnd; p-- {
		if unicode.IsSpace(runes[p]) {
			return p, cutWord
		}
	}
	return hard, cutHard
}

// sentenceStart picks where the next window begins after a sentence cut:
// the first sentence that starts inside [lower, end), or end when the
// overlap region holds no complete sentence start.
func sentenceStart(runes []rune, lower, end int) int {
	for i := lower - 1; i < end-1; i++ {
		if i >= 0 && isTerminator(runes[i]) {
			return i + 1
		}
	}
	return end
}

// wordStart moves lower forward to the beginning of a word. It reports
// false when no word starts before end.
func wordStart(runes []rune, lower, end int) (int, bool) {
	i := lower
	if i > 0 && !unicode.IsSpace(runes[i-1]) {
		for i < end && !unicode.IsSpace(runes[i]) {
			i++
		}
	}
	return i, i < end
}

func appendSpan(spans []Span, runes []rune, start, end int) []Span {
	text := strings.TrimSpace(string(runes[start:end]))
	if text == "" {
		return spans
	}
	return append(spans, Span{Start: start, End: end, Text: text})
}

func skipSpace(runes []rune, i int) int {
	for i < len(runes) && unicode.IsSpace(runes[i]) {
		i++
	}
	return i
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
