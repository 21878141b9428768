package ollama

import (
	"fmt"
	"strings"

	"github.com/antonvlasov/corpus-qa/internal/core/domain"
)

func buildAnswerPrompt(question string, citations []domain.Citation) string {
	var b strings.Builder
	b.WriteString("You are a careful research assistant. Answer the question using ONLY the evidence passages below.\n")
	b.WriteString("Cite passages inline as [n] using their labels. If the evidence does not contain the answer, say so.\n\n")
	b.WriteString("Evidence:\n")
	for _, c := range citations {
		b.WriteString(fmt.Sprintf("[%d] ", c.Label))
		if c.Metadata.Title != "" {
			b.WriteString(c.Metadata.Title)
			if c.Metadata.Year != 0 {
				b.WriteString(fmt.Sprintf(" (%d)", c.Metadata.Year))
			}
			b.WriteString(": ")
		}
		b.WriteString(strings.TrimSpace(c.Text))
		b.WriteString("\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n\nAnswer:")
	return b.String()
}

func buildScorePrompt(query, passage string) string {
	var b strings.Builder
	b.WriteString("Rate how relevant the passage is to the query on a scale from 0 to 10.\n")
	b.WriteString("Respond with JSON only: {\"score\": <number>}\n\n")
	b.WriteString("Query: ")
	b.WriteString(strings.TrimSpace(query))
	b.WriteString("\n\nPassage:\n")
	b.WriteString(strings.TrimSpace(passage))
	return b.String()
}
