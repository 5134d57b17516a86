package splitter

import (
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// TextSplitter cuts evidence into chunks small enough to embed.
type TextSplitter struct {
	splitter  textsplitter.TextSplitter
	chunkSize int
}

// NewRecursiveCharacterTextSplitter splits source snippets on paragraph,
// line and word boundaries.
func NewRecursiveCharacterTextSplitter(chunkSize, chunkOverlap int) *TextSplitter {
	chunkSize, chunkOverlap = sizes(chunkSize, chunkOverlap)
	ts := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)
	return &TextSplitter{splitter: ts, chunkSize: chunkSize}
}

// NewMarkdownTextSplitter splits compiled answers along their headings so
// every chunk keeps the section it belongs to.
func NewMarkdownTextSplitter(chunkSize, chunkOverlap int) *TextSplitter {
	chunkSize, chunkOverlap = sizes(chunkSize, chunkOverlap)
	ts := textsplitter.NewMarkdownTextSplitter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)
	return &TextSplitter{splitter: ts, chunkSize: chunkSize}
}

func sizes(chunkSize, chunkOverlap int) (int, int) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = min(DefaultChunkOverlap, chunkSize/5)
	}
	return chunkSize, chunkOverlap
}

// SplitText splits text into trimmed, non-empty chunks. Text that already
// fits one chunk is returned as is.
func (ts *TextSplitter) SplitText(text string) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if len(text) <= ts.chunkSize {
		return []string{text}, nil
	}

	chunks, err := ts.splitter.SplitText(text)
	if err != nil {
		return nil, err
	}
	out := chunks[:0]
	for _, c := range chunks {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out, nil
}
