package knowledge

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// defaultSeparators is the split hierarchy, coarsest first. The empty string
// terminates the list and means a hard cut at the size boundary.
var defaultSeparators = []string{"\n\n", "\n", "。", "！", "？", "；", ".", " ", ""}

// Chunker splits documents into bounded, overlapping chunks. Sizes are
// measured in runes so CJK text is not penalized.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker validates the bounds and creates a chunker.
func NewChunker(chunkSize, chunkOverlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, errors.New("chunker: chunk size must be positive")
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, errors.New("chunker: overlap must be in [0, chunk size)")
	}
	return &Chunker{chunkSize: chunkSize, chunkOverlap: chunkOverlap}, nil
}

// Split breaks text into chunks of at most chunkSize runes, preferring the
// coarsest separator that still appears in the text and falling back level by
// level. Adjacent chunks share up to chunkOverlap runes of trailing context.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return c.split(text, defaultSeparators)
}

func (c *Chunker) split(text string, separators []string) []string {
	if utf8.RuneCountInString(text) <= c.chunkSize {
		return []string{text}
	}

	sep := ""
	var finer []string
	for i, s := range separators {
		if s == "" {
			break
		}
		if strings.Contains(text, s) {
			sep = s
			finer = separators[i+1:]
			break
		}
	}
	if sep == "" {
		return c.hardSplit(text)
	}

	pieces := splitAfterSep(text, sep)

	var (
		out    []string
		buf    []string
		bufLen int
		fresh  bool
	)
	emit := func() {
		chunk := strings.TrimSpace(strings.Join(buf, ""))
		if chunk != "" {
			out = append(out, chunk)
		}
	}

	for _, piece := range pieces {
		n := utf8.RuneCountInString(piece)

		// A single piece over the budget descends to the next separator.
		if n > c.chunkSize {
			if fresh {
				emit()
			}
			out = append(out, c.split(piece, finer)...)
			buf, bufLen, fresh = nil, 0, false
			continue
		}

		if bufLen+n > c.chunkSize {
			if fresh {
				emit()
			}
			buf, bufLen = overlapTail(buf, c.chunkOverlap)
			fresh = false
			if bufLen+n > c.chunkSize {
				buf, bufLen = nil, 0
			}
		}

		buf = append(buf, piece)
		bufLen += n
		fresh = true
	}
	if fresh {
		emit()
	}

	return out
}

// hardSplit cuts at rune boundaries when no separator is left to respect.
func (c *Chunker) hardSplit(text string) []string {
	runes := []rune(text)
	step := c.chunkSize - c.chunkOverlap

	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + c.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}

// overlapTail returns the longest run of trailing pieces whose combined rune
// count fits within overlap.
func overlapTail(pieces []string, overlap int) ([]string, int) {
	var (
		tail    []string
		tailLen int
	)
	for i := len(pieces) - 1; i >= 0; i-- {
		n := utf8.RuneCountInString(pieces[i])
		if tailLen+n > overlap {
			break
		}
		tail = append([]string{pieces[i]}, tail...)
		tailLen += n
	}
	return tail, tailLen
}

// splitAfterSep splits keeping the separator attached to the preceding piece
// and drops empty fragments.
func splitAfterSep(text, sep string) []string {
	parts := strings.SplitAfter(text, sep)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
