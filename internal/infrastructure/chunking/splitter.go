package chunking

import (
	"strings"
	"unicode"

	"github.com/antonvlasov/corpus-qa/internal/core/domain"
)

// Splitter walks a document's token stream and emits overlapping chunks.
// Chunking is a pure function of the text and configuration, so chunk ids,
// ranges and hashes are reproducible across runs.
type Splitter struct {
	TargetTokens    int
	OverlapTokens   int
	RespectSections bool
}

func NewSplitter(targetTokens, overlapTokens int, respectSections bool) *Splitter {
	if targetTokens <= 0 {
		targetTokens = 500
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}
	if overlapTokens >= targetTokens {
		overlapTokens = targetTokens / 4
	}
	return &Splitter{
		TargetTokens:    targetTokens,
		OverlapTokens:   overlapTokens,
		RespectSections: respectSections,
	}
}

// token spans are rune offsets into the document text.
type token struct {
	start        int
	end          int
	sectionStart bool
}

func (s *Splitter) Chunk(doc domain.SourceDocument) []domain.Chunk {
	runes := []rune(doc.Text)
	toks := tokenize(runes)
	if len(toks) == 0 {
		return nil
	}

	out := make([]domain.Chunk, 0, len(toks)/s.TargetTokens+1)
	start := 0
	for start < len(toks) {
		end := start + s.TargetTokens
		if end > len(toks) {
			end = len(toks)
		}
		if s.RespectSections {
			// Prefer breaking at the first section boundary, even under target.
			for i := start + 1; i < end; i++ {
				if toks[i].sectionStart {
					end = i
					break
				}
			}
		}

		startChar := toks[start].start
		endChar := toks[end-1].end
		text := string(runes[startChar:endChar])
		out = append(out, domain.Chunk{
			ID:          domain.ChunkID(doc.ID, len(out)),
			DocumentID:  doc.ID,
			Index:       len(out),
			Text:        text,
			StartChar:   startChar,
			EndChar:     endChar,
			ContentHash: domain.HashText(text),
		})

		if end == len(toks) {
			break
		}
		if s.RespectSections && toks[end].sectionStart {
			// Never overlap across a section boundary.
			start = end
			continue
		}
		next := end - s.OverlapTokens
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return out
}

// tokenize splits on Unicode whitespace. A token starts a section when the
// gap before it contains a blank line.
func tokenize(runes []rune) []token {
	toks := make([]token, 0, len(runes)/5+1)
	i := 0
	for i < len(runes) {
		if unicode.IsSpace(runes[i]) {
			i++
			continue
		}
		start := i
		for i < len(runes) && !unicode.IsSpace(runes[i]) {
			i++
		}
		gapStart := 0
		if len(toks) > 0 {
			gapStart = toks[len(toks)-1].end
		}
		toks = append(toks, token{
			start:        start,
			end:          i,
			sectionStart: len(toks) == 0 || isBlankLineGap(runes[gapStart:start]),
		})
	}
	return toks
}

func isBlankLineGap(gap []rune) bool {
	return strings.Count(string(gap), "\n") >= 2
}
