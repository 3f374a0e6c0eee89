// Package chunk splits extracted document text into overlapping,
// token-bounded pieces that preserve their position in the source.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/Aman-CERP/driverag/internal/errors"
	"github.com/Aman-CERP/driverag/internal/extract"
)

// Chunk is a retrievable unit of document text. Immutable once created.
// Sequence indexes are dense starting at 0 per document; adjacent
// chunks share overlapping offset spans because of the token overlap.
type Chunk struct {
	ID         string // SHA256(doc_id:seq:text)[:16]
	DocumentID string
	Seq        int
	Text       string
	TokenCount int
	Page       int // 1-indexed page containing the chunk start
	StartChar  int // byte offset into the extracted text
	EndChar    int // exclusive
	CreatedAt  time.Time
}

// Splitter produces chunks of at most MaxTokens tokens, carrying the
// trailing OverlapTokens of each chunk into the next one.
type Splitter struct {
	MaxTokens     int
	OverlapTokens int
	MinTokens     int // a shorter tail chunk is merged into its predecessor
}

func NewSplitter(maxTokens, overlapTokens, minTokens int) (*Splitter, error) {
	if maxTokens <= 0 {
		return nil, errors.New(errors.ErrCodeInvalidInput, "chunk size must be positive")
	}
	if overlapTokens < 0 || overlapTokens >= maxTokens {
		return nil, errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("overlap %d must be in [0, %d)", overlapTokens, maxTokens))
	}
	return &Splitter{
		MaxTokens:     maxTokens,
		OverlapTokens: overlapTokens,
		MinTokens:     minTokens,
	}, nil
}

// token is a word with its position in the source text.
type token struct {
	start, end int
	paraEnd    bool // a blank line follows this token
	sentEnd    bool // the token ends a sentence
}

// Split breaks a document into chunks. Chunk boundaries prefer
// paragraph breaks, then sentence breaks, then a hard token cut when a
// single sentence exceeds the budget. Output is deterministic for a
// given (document id, text, splitter) triple.
func (s *Splitter) Split(docID string, doc *extract.Document) []Chunk {
	toks := tokenize(doc.Text)
	if len(toks) == 0 {
		return nil
	}

	type span struct{ a, b int } // token index range, b exclusive
	var spans []span

	start := 0
	for start < len(toks) {
		limit := start + s.MaxTokens
		if limit >= len(toks) {
			spans = append(spans, span{start, len(toks)})
			break
		}

		end := boundaryBefore(toks, start, limit, func(t token) bool { return t.paraEnd })
		if end < 0 {
			end = boundaryBefore(toks, start, limit, func(t token) bool { return t.sentEnd })
		}
		if end < 0 {
			end = limit
		}
		spans = append(spans, span{start, end})

		next := end - s.OverlapTokens
		if next <= start {
			next = end
		}
		start = next
	}

	// Merge an undersized tail into its predecessor.
	if n := len(spans); n > 1 && spans[n-1].b-spans[n-1].a < s.MinTokens {
		spans[n-2].b = spans[n-1].b
		spans = spans[:n-1]
	}

	now := time.Now().UTC()
	chunks := make([]Chunk, 0, len(spans))
	for seq, sp := range spans {
		startChar := toks[sp.a].start
		endChar := toks[sp.b-1].end
		text := doc.Text[startChar:endChar]
		chunks = append(chunks, Chunk{
			ID:         ChunkID(docID, seq, text),
			DocumentID: docID,
			Seq:        seq,
			Text:       text,
			TokenCount: sp.b - sp.a,
			Page:       doc.PageFor(startChar),
			StartChar:  startChar,
			EndChar:    endChar,
			CreatedAt:  now,
		})
	}
	return chunks
}

// ChunkID derives a stable chunk identifier from its identity triple.
func ChunkID(docID string, seq int, text string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", docID, seq, text)))
	return hex.EncodeToString(sum[:])[:16]
}

// boundaryBefore returns the exclusive end index of the last boundary
// token in (start, limit], or -1 when the window contains none.
func boundaryBefore(toks []token, start, limit int, isBoundary func(token) bool) int {
	for i := limit - 1; i > start; i-- {
		if isBoundary(toks[i]) {
			return i + 1
		}
	}
	return -1
}

func tokenize(text string) []token {
	var toks []token
	i := 0
	for i < len(text) {
		for i < len(text) && isSpace(text[i]) {
			i++
		}
		if i >= len(text) {
			break
		}
		start := i
		for i < len(text) && !isSpace(text[i]) {
			i++
		}
		toks = append(toks, token{
			start:   start,
			end:     i,
			sentEnd: endsSentence(text[start:i]),
		})
	}

	// Mark paragraph ends by looking at the gap after each token.
	for j := 0; j < len(toks)-1; j++ {
		gap := text[toks[j].end:toks[j+1].start]
		if strings.Count(gap, "\n") >= 2 {
			toks[j].paraEnd = true
		}
	}
	if len(toks) > 0 {
		toks[len(toks)-1].paraEnd = true
		toks[len(toks)-1].sentEnd = true
	}
	return toks
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f'
}

func endsSentence(word string) bool {
	trimmed := strings.TrimRight(word, `"')]`)
	return strings.HasSuffix(trimmed, ".") ||
		strings.HasSuffix(trimmed, "!") ||
		strings.HasSuffix(trimmed, "?")
}
