package usecase

import "github.com/antonvlasov/corpus-qa/internal/core/domain"

// assembleCitations turns ranked candidates into labeled citations.
//
// Near-duplicates are collapsed: when two chunks of the same document share
// more than dedupOverlap of the shorter chunk's character range, only the
// higher-ranked one survives. The remaining chunks are admitted in rank order
// until the total text exceeds budgetChars; later chunks are dropped whole,
// never truncated. Labels are assigned 1..n after selection.
func assembleCitations(chunks []domain.ScoredChunk, dedupOverlap float64, budgetChars int) []domain.Citation {
	if len(chunks) == 0 {
		return nil
	}

	kept := make([]domain.ScoredChunk, 0, len(chunks))
	used := 0
	for _, candidate := range chunks {
		if overlapsKept(candidate, kept, dedupOverlap) {
			continue
		}
		cost := len(candidate.Entry.Text)
		if len(kept) > 0 && used+cost > budgetChars {
			break
		}
		kept = append(kept, candidate)
		used += cost
	}

	citations := make([]domain.Citation, len(kept))
	for i, chunk := range kept {
		citations[i] = domain.Citation{
			Label:       i + 1,
			ChunkID:     chunk.Entry.ChunkID,
			DocumentID:  chunk.Entry.DocumentID,
			Text:        chunk.Entry.Text,
			Metadata:    chunk.Entry.Metadata,
			StartChar:   chunk.Entry.StartChar,
			EndChar:     chunk.Entry.EndChar,
			Similarity:  chunk.Similarity,
			RerankScore: chunk.RerankScore,
		}
	}
	return citations
}

func overlapsKept(candidate domain.ScoredChunk, kept []domain.ScoredChunk, threshold float64) bool {
	for _, existing := range kept {
		if existing.Entry.DocumentID != candidate.Entry.DocumentID {
			continue
		}
		if charOverlapRatio(candidate.Entry, existing.Entry) > threshold {
			return true
		}
	}
	return false
}

// charOverlapRatio is the shared character span divided by the shorter
// chunk's span.
func charOverlapRatio(a, b domain.IndexEntry) float64 {
	lo := a.StartChar
	if b.StartChar > lo {
		lo = b.StartChar
	}
	hi := a.EndChar
	if b.EndChar < hi {
		hi = b.EndChar
	}
	if hi <= lo {
		return 0
	}

	spanA := a.EndChar - a.StartChar
	spanB := b.EndChar - b.StartChar
	shorter := spanA
	if spanB < shorter {
		shorter = spanB
	}
	if shorter <= 0 {
		return 0
	}
	return float64(hi-lo) / float64(shorter)
}
