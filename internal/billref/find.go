package billref

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Match is a bill citation found in free text. Start and End are byte offsets.
type Match struct {
	Start int
	End   int
	Text  string
	Ref   Ref
}

type citationPattern struct {
	re *regexp.Regexp
	// resolve maps submatches to a bill type; the number is always the last group.
	resolve func(groups []string) (Type, bool)
}

// Ordered most specific first; earlier patterns claim their span.
var citationPatterns = []citationPattern{
	{
		re: regexp.MustCompile(`(?i)\b(house|senate)\s+(joint\s+resolution|concurrent\s+resolution|resolution|bill)\s+(?:no\.?\s*)?(\d{1,5})\b`),
		resolve: func(g []string) (Type, bool) {
			chamber := "h"
			if strings.EqualFold(g[1], "senate") {
				chamber = "s"
			}
			kind := strings.ToLower(strings.Join(strings.Fields(g[2]), " "))
			switch kind {
			case "bill":
				if chamber == "h" {
					return HR, true
				}
				return S, true
			case "resolution":
				return Type(chamber + "res"), true
			case "joint resolution":
				return Type(chamber + "jres"), true
			case "concurrent resolution":
				return Type(chamber + "conres"), true
			}
			return "", false
		},
	},
	{
		re: regexp.MustCompile(`(?i)\b(h|s)\.?\s?(j|con)\.?\s?res\.?\s?(\d{1,5})\b`),
		resolve: func(g []string) (Type, bool) {
			return ParseType(g[1] + g[2] + "res")
		},
	},
	{
		re: regexp.MustCompile(`(?i)\b(h|s)\.?\s?res\.?\s?(\d{1,5})\b`),
		resolve: func(g []string) (Type, bool) {
			return ParseType(g[1] + "res")
		},
	},
	{
		re:      regexp.MustCompile(`(?i)\bh\.?\s?r\.?\s?(\d{1,5})\b`),
		resolve: func([]string) (Type, bool) { return HR, true },
	},
	{
		// Senate bills only in upper case: a lower-case "s 5" is too ambiguous.
		re:      regexp.MustCompile(`\bS\.?\s?(\d{1,5})\b`),
		resolve: func([]string) (Type, bool) { return S, true },
	},
}

// FindAll returns every non-overlapping bill citation in text, in order of appearance.
func FindAll(text string) []Match {
	var matches []Match
	taken := func(start, end int) bool {
		for _, m := range matches {
			if start < m.End && end > m.Start {
				return true
			}
		}
		return false
	}

	for _, p := range citationPatterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[0], loc[1]
			if taken(start, end) || afterApostrophe(text, start) || insideAbbreviation(text, start) {
				continue
			}

			groups := make([]string, len(loc)/2)
			for i := range groups {
				if loc[2*i] >= 0 {
					groups[i] = text[loc[2*i]:loc[2*i+1]]
				}
			}

			t, ok := p.resolve(groups)
			if !ok {
				continue
			}
			n, err := strconv.Atoi(groups[len(groups)-1])
			if err != nil || n <= 0 {
				continue
			}
			matches = append(matches, Match{
				Start: start,
				End:   end,
				Text:  text[start:end],
				Ref:   Ref{Type: t, Number: n},
			})
		}
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Start < matches[j].Start })
	return matches
}

// FindFirst returns the first citation in text.
func FindFirst(text string) (Match, bool) {
	all := FindAll(text)
	if len(all) == 0 {
		return Match{}, false
	}
	return all[0], true
}

func afterApostrophe(text string, start int) bool {
	return start > 0 && (text[start-1] == '\'' || strings.HasSuffix(text[:start], "’"))
}

// insideAbbreviation rejects matches that continue a dotted abbreviation,
// such as the "S. 2024" in "U.S. 2024".
func insideAbbreviation(text string, start int) bool {
	return start > 0 && text[start-1] == '.'
}
