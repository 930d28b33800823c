package intent

import (
	"regexp"
	"sort"
	"strings"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/billref"
)

// MatchBillReference finds the first bill citation ("HR 1234", "S. 2960",
// "House Resolution 123") in the question.
func MatchBillReference(question string) (billref.Ref, bool) {
	m, ok := billref.FindFirst(question)
	if !ok {
		return billref.Ref{}, false
	}
	return m.Ref, true
}

var (
	titledNamePattern = regexp.MustCompile(`(?i:\b(?:senator|sen\.|representative|rep\.|congressman|congresswoman|congressmember|speaker|leader))\s+([A-Z][a-zA-Z'’\-]+(?:\s+[A-Z][a-zA-Z'’\-]+){0,2})`)
	properNamePattern = regexp.MustCompile(`\b([A-Z][a-z'’\-]+(?:\s+[A-Z][a-z'’\-]+){1,2})\b`)
	memberWordPattern = regexp.MustCompile(`\b(senators?|representatives?|congress(?:wo)?m[ae]n|congressmembers?|lawmakers?|legislators?|members? of congress|co-?sponsors?|co-?sponsored|sponsors?|sponsored)\b`)
)

// Words that start a question or name an institution rather than a person.
var nonNameWords = map[string]bool{
	"what": true, "who": true, "which": true, "how": true, "show": true, "tell": true, "the": true,
	"did": true, "does": true, "is": true, "are": true, "list": true, "find": true, "give": true,
	"when": true, "where": true, "why": true, "has": true, "have": true, "can": true, "in": true,
	"on": true, "of": true, "for": true, "since": true, "during": true, "house": true, "senate": true,
	"congress": true, "united": true, "states": true, "democratic": true, "republican": true,
	"party": true, "committee": true, "act": true, "bill": true, "resolution": true, "federal": true,
	"national": true, "american": true, "affordable": true, "january": true, "february": true,
	"march": true, "april": true, "may": true, "june": true, "july": true, "august": true,
	"september": true, "october": true, "november": true, "december": true, "medicare": true,
	"medicaid": true, "social": true, "security": true, "supreme": true, "court": true,
	"senator": true, "representative": true, "congressman": true, "congresswoman": true,
	"speaker": true, "leader": true, "majority": true, "minority": true,
}

// MatchMember looks for members of Congress: titled names ("Senator Carter"),
// bare two or three word proper names, or generic member vocabulary. Names are
// returned in their original casing; ok with no names means the question is
// about members in general.
func MatchMember(question string) (names []string, ok bool) {
	seen := map[string]bool{}
	add := func(n string) {
		n = strings.TrimSuffix(strings.TrimSuffix(n, "'s"), "’s")
		n = strings.Join(strings.Fields(n), " ")
		if n != "" && !seen[strings.ToLower(n)] {
			seen[strings.ToLower(n)] = true
			names = append(names, n)
		}
	}

	for _, m := range titledNamePattern.FindAllStringSubmatch(question, -1) {
		add(trimNonNameWords(m[1], true))
	}

	for _, m := range properNamePattern.FindAllStringSubmatch(question, -1) {
		if candidate := properName(m[1]); candidate != "" {
			add(candidate)
		}
	}

	if len(names) > 0 {
		return names, true
	}
	return nil, memberWordPattern.MatchString(strings.ToLower(question))
}

// properName filters a run of capitalized words down to a plausible person name.
func properName(run string) string {
	words := strings.Fields(run)
	for len(words) > 0 && nonNameWords[strings.ToLower(words[0])] {
		words = words[1:]
	}
	if len(words) < 2 {
		return ""
	}
	for _, w := range words {
		if nonNameWords[strings.ToLower(strings.TrimSuffix(w, "'s"))] {
			return ""
		}
	}
	joined := strings.ToLower(strings.Join(words, " "))
	for name := range stateNames {
		if strings.Contains(joined, name) {
			return ""
		}
	}
	for _, kp := range policyKeywordPatterns {
		if kp.re.MatchString(joined) {
			return ""
		}
	}
	return strings.Join(words, " ")
}

func trimNonNameWords(run string, keepSingle bool) string {
	words := strings.Fields(run)
	for len(words) > 0 && nonNameWords[strings.ToLower(words[len(words)-1])] {
		words = words[:len(words)-1]
	}
	if len(words) == 0 || (!keepSingle && len(words) < 2) {
		return ""
	}
	return strings.Join(words, " ")
}

var partyPatterns = []struct {
	code string
	re   *regexp.Regexp
}{
	{"D", regexp.MustCompile(`\b(democrats?|democratic|dems?)\b`)},
	{"R", regexp.MustCompile(`\b(republicans?|gop)\b`)},
	{"I", regexp.MustCompile(`\b(independents?)\b`)},
}

// MatchParty returns the party codes (D, R, I) named in the question.
func MatchParty(question string) ([]string, bool) {
	lower := strings.ToLower(question)
	var codes []string
	for _, p := range partyPatterns {
		if p.re.MatchString(lower) {
			codes = append(codes, p.code)
		}
	}
	return codes, len(codes) > 0
}

// MatchState returns USPS codes for states named in the question, either by
// full name or by an unambiguous upper-case code.
func MatchState(question string) ([]string, bool) {
	codes, _ := MatchStateName(question)
	seen := make(map[string]bool, len(codes))
	for _, code := range codes {
		seen[code] = true
	}

	for _, code := range stateCodePattern.FindAllString(question, -1) {
		if _, ok := stateCodes[code]; !ok || ambiguousStateCodes[code] || seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}

	sort.Strings(codes)
	return codes, len(codes) > 0
}

// MatchStateName returns USPS codes for states named in full. Two-letter codes
// are ignored, so "(D-CA)" in a sponsor line does not count.
func MatchStateName(text string) ([]string, bool) {
	lower := strings.ToLower(text)
	seen := map[string]bool{}
	var codes []string

	for _, sp := range stateNamePatterns {
		loc := sp.re.FindStringIndex(lower)
		if loc == nil {
			continue
		}
		// Blank out the span so "virginia" does not also match inside "west virginia".
		lower = lower[:loc[0]] + strings.Repeat(" ", loc[1]-loc[0]) + lower[loc[1]:]
		if !seen[sp.code] {
			seen[sp.code] = true
			codes = append(codes, sp.code)
		}
	}

	sort.Strings(codes)
	return codes, len(codes) > 0
}

var (
	trendPattern     = regexp.MustCompile(`\b(trends?|trending|over time|over the (?:past|last)|increas(?:e|ed|es|ing)|decreas(?:e|ed|es|ing)|grow(?:th|ing)|declin(?:e|ed|es|ing)|changed? over|year over year|month over month|by month|by year|per month|per year|historically|timeline)\b`)
	statisticPattern = regexp.MustCompile(`\b(how many|number of|count|total|percent(?:age)?|average|statistics?|stats|how often|proportion|ratio|breakdown)\b`)
)

// MatchTrend reports whether the question asks how something changes over time.
func MatchTrend(question string) bool {
	return trendPattern.MatchString(strings.ToLower(question))
}

// MatchStatistic reports whether the question asks for a count or aggregate.
func MatchStatistic(question string) bool {
	return statisticPattern.MatchString(strings.ToLower(question))
}

// MatchTopic returns the policy areas and the keywords that signalled them.
func MatchTopic(question string) (areas []string, keywords []string, ok bool) {
	lower := strings.ToLower(question)
	seenArea := map[string]bool{}
	for _, kp := range policyKeywordPatterns {
		if !kp.re.MatchString(lower) {
			continue
		}
		keywords = append(keywords, kp.keyword)
		if !seenArea[kp.area] {
			seenArea[kp.area] = true
			areas = append(areas, kp.area)
		}
	}
	return areas, keywords, len(areas) > 0
}

var pronounPattern = regexp.MustCompile(`\b(it|its|this bill|that bill|the bill|this legislation|that legislation|this one|that one|he|she|him|her|his|hers|they|them|their)\b`)

// refersBack reports whether the question leans on an earlier turn.
func refersBack(question string) bool {
	return pronounPattern.MatchString(strings.ToLower(question))
}
