// Package linker rewrites bill citations in generated answers into links to
// corpus entities. Citations that do not resolve are left as written.
package linker

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/billref"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/storage"
)

// Resolver maps a natural key to an entity ID.
type Resolver interface {
	Lookup(ctx context.Context, entityType storage.EntityType, naturalKey string) (string, error)
}

// Link is one rewritten citation. Start and End index the original text.
type Link struct {
	Ref      billref.Ref `json:"ref"`
	Citation string      `json:"citation"`
	EntityID string      `json:"entity_id"`
	URL      string      `json:"url"`
	Original string      `json:"original"`
	Start    int         `json:"start"`
	End      int         `json:"end"`
}

var (
	// **HR 1234: Some Title**
	boldTitlePattern = regexp.MustCompile(`\*\*([^*\n:]{2,40}?)\s*:\s*([^*\n]+?)\*\*`)
	markdownLink     = regexp.MustCompile(`\[[^\]\n]*\]\([^)\n]*\)`)
)

// Linker rewrites citations.
type Linker struct {
	resolver Resolver
	baseURL  string
	logger   *observability.Logger
}

// New creates a Linker. Links are rooted at baseURL ("" gives relative links).
func New(resolver Resolver, baseURL string, logger *observability.Logger) *Linker {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Linker{
		resolver: resolver,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   logger.WithComponent("linker"),
	}
}

type span struct {
	start, end int
	ref        billref.Ref
	title      string // set for the bold form
	bold       bool
}

func (s span) overlaps(o span) bool { return s.start < o.end && o.start < s.end }

// Link returns text with every resolvable citation rewritten, plus the links made.
func (l *Linker) Link(ctx context.Context, text string) (string, []Link) {
	if text == "" {
		return text, nil
	}

	var taken []span
	for _, loc := range markdownLink.FindAllStringIndex(text, -1) {
		taken = append(taken, span{start: loc[0], end: loc[1]})
	}
	free := func(s span) bool {
		for _, t := range taken {
			if s.overlaps(t) {
				return false
			}
		}
		return true
	}

	var candidates []span
	for _, m := range boldTitlePattern.FindAllStringSubmatchIndex(text, -1) {
		label := strings.TrimSpace(text[m[2]:m[3]])
		cite, ok := billref.FindFirst(label)
		if !ok || cite.Text != label {
			continue
		}
		s := span{start: m[0], end: m[1], ref: cite.Ref, title: text[m[4]:m[5]], bold: true}
		if free(s) {
			taken = append(taken, s)
			candidates = append(candidates, s)
		}
	}
	for _, m := range billref.FindAll(text) {
		s := span{start: m.Start, end: m.End, ref: m.Ref}
		if free(s) {
			taken = append(taken, s)
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return text, nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].start < candidates[j].start })

	resolved := make(map[string]string)
	var (
		sb    strings.Builder
		links []Link
		pos   int
	)
	for _, c := range candidates {
		id, ok := l.resolve(ctx, c.ref, resolved)
		if !ok {
			continue
		}

		link := Link{
			Ref:      c.ref,
			Citation: c.ref.String(),
			EntityID: id,
			URL:      l.baseURL + "/bills/" + id,
			Original: text[c.start:c.end],
			Start:    c.start,
			End:      c.end,
		}
		anchor := "[" + link.Citation + "](" + link.URL + ")"

		sb.WriteString(text[pos:c.start])
		if c.bold {
			sb.WriteString("**" + anchor + ": " + c.title + "**")
		} else {
			sb.WriteString(anchor)
		}
		pos = c.end
		links = append(links, link)
	}
	if len(links) == 0 {
		return text, nil
	}
	sb.WriteString(text[pos:])

	l.logger.Debug().Int("links", len(links)).Int("candidates", len(candidates)).Msg("Linked bill citations")
	return sb.String(), links
}

// resolve memoizes lookups so a bill cited twice costs one query. "" marks a miss.
func (l *Linker) resolve(ctx context.Context, ref billref.Ref, memo map[string]string) (string, bool) {
	key := ref.Key()
	if id, seen := memo[key]; seen {
		return id, id != ""
	}

	id, err := l.resolver.Lookup(ctx, storage.EntityBill, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			l.logger.Warn().Str("bill", key).Err(err).Msg("Bill lookup failed, leaving citation unlinked")
		}
		id = ""
	}
	memo[key] = id
	return id, id != ""
}
