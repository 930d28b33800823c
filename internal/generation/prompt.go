package generation

import (
	"fmt"
	"strings"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/evidence"
)

const systemPrompt = `You answer questions about United States federal legislation: bills, resolutions, members of Congress and legislative actions.

Rules:
- Answer only from the numbered evidence. If the evidence does not answer the question, say so plainly.
- Cite bills in their conventional form, e.g. "H.R. 1234" or "S. 2960". When you introduce a bill, write it as **H.R. 1234: Title**.
- Prefer exact figures and dates from the evidence over estimates.
- Keep the answer under 250 words unless the question asks for a list.`

// maxHistoryTurns bounds the prior turns forwarded to the model.
const maxHistoryTurns = 6

// Prompt is the serialized model input.
type Prompt struct {
	System string
	User   string
	// Included is the number of evidence items that fit the budget.
	Included int
}

// BuildPrompt serializes the question and evidence, dropping the lowest-ranked
// items first until the user message fits maxBytes.
func BuildPrompt(req Request, maxBytes int) Prompt {
	header := fmt.Sprintf("Question: %s\n\nEvidence:\n", strings.TrimSpace(req.Question))
	footer := "\nAnswer the question using the evidence above."

	var items []evidence.Item
	if req.Bundle != nil {
		items = req.Bundle.Items
	}

	blocks := make([]string, len(items))
	for i, it := range items {
		blocks[i] = renderItem(i+1, it)
	}

	n := len(blocks)
	if maxBytes > 0 {
		size := len(header) + len(footer)
		n = 0
		for _, b := range blocks {
			if size+len(b) > maxBytes {
				break
			}
			size += len(b)
			n++
		}
	}

	var sb strings.Builder
	sb.WriteString(header)
	if n == 0 {
		sb.WriteString("(no evidence found)\n")
	}
	for _, b := range blocks[:n] {
		sb.WriteString(b)
	}
	sb.WriteString(footer)

	return Prompt{System: systemPrompt, User: sb.String(), Included: n}
}

func renderItem(n int, it evidence.Item) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%d] ", n)
	if it.Ref != nil {
		fmt.Fprintf(&sb, "%s ", it.Ref)
	}
	fmt.Fprintf(&sb, "(source: %s, score %.2f)\n", strings.Join(it.Sources, ","), it.Score)
	content := it.Content
	if content == "" {
		content = evidence.RenderFields(it.Fields)
	}
	sb.WriteString(strings.TrimSpace(content))
	sb.WriteString("\n\n")
	return sb.String()
}
