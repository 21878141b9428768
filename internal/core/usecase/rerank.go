package usecase

import (
	"context"
	"sort"

	"github.com/antonvlasov/corpus-qa/internal/core/domain"
)

// rerank scores every candidate with the relevance scorer and reorders by
// score, descending. Equal scores keep the incoming similarity order: the
// stable sort compares on score alone, so candidate order from retrieval is
// the tie-break. Any scoring failure discards all partial scores and falls
// back to similarity order.
func (uc *QueryUseCase) rerank(ctx context.Context, query string, candidates []domain.ScoredChunk, k int) ([]domain.ScoredChunk, bool) {
	if len(candidates) == 0 {
		return candidates, false
	}

	scored := make([]domain.ScoredChunk, len(candidates))
	copy(scored, candidates)

	for i := range scored {
		score, err := uc.scorer.Score(ctx, query, scored[i].Entry.Text)
		if err != nil {
			uc.logger.Warn("rerank scoring failed, falling back to similarity order",
				"chunk_id", scored[i].Entry.ChunkID, "error", err)
			uc.observer.RerankFallback()
			if len(candidates) > k {
				candidates = candidates[:k]
			}
			return candidates, false
		}
		s := score
		scored[i].RerankScore = &s
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return *scored[i].RerankScore > *scored[j].RerankScore
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, true
}
