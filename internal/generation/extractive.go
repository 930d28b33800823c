package generation

import (
	"context"
	"fmt"
	"strings"
)

// ExtractiveGenerator answers without a model by quoting the top evidence.
type ExtractiveGenerator struct {
	maxItems int
}

// NewExtractiveGenerator creates a generator quoting at most maxItems items.
func NewExtractiveGenerator(maxItems int) *ExtractiveGenerator {
	if maxItems <= 0 {
		maxItems = 5
	}
	return &ExtractiveGenerator{maxItems: maxItems}
}

// Name identifies the generator in diagnostics.
func (g *ExtractiveGenerator) Name() string { return "extractive" }

// Generate lists the strongest evidence items.
func (g *ExtractiveGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.Bundle.Empty() {
		return "I couldn't find any legislative records matching that question.", nil
	}

	items := req.Bundle.Items
	if len(items) > g.maxItems {
		items = items[:g.maxItems]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Here is what the legislative records show (%d of %d matches):\n", len(items), req.Bundle.TotalCount)
	for _, it := range items {
		text := firstLine(it.Content)
		if text == "" {
			continue
		}
		fmt.Fprintf(&sb, "\n- %s", text)
	}
	return sb.String(), nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

var _ Generator = (*ExtractiveGenerator)(nil)
