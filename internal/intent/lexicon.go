package intent

import (
	"regexp"
	"sort"
	"strings"
)

var stateNames = map[string]string{
	"alabama": "AL", "alaska": "AK", "arizona": "AZ", "arkansas": "AR", "california": "CA",
	"colorado": "CO", "connecticut": "CT", "delaware": "DE", "florida": "FL", "georgia": "GA",
	"hawaii": "HI", "idaho": "ID", "illinois": "IL", "indiana": "IN", "iowa": "IA",
	"kansas": "KS", "kentucky": "KY", "louisiana": "LA", "maine": "ME", "maryland": "MD",
	"massachusetts": "MA", "michigan": "MI", "minnesota": "MN", "mississippi": "MS", "missouri": "MO",
	"montana": "MT", "nebraska": "NE", "nevada": "NV", "new hampshire": "NH", "new jersey": "NJ",
	"new mexico": "NM", "new york": "NY", "north carolina": "NC", "north dakota": "ND", "ohio": "OH",
	"oklahoma": "OK", "oregon": "OR", "pennsylvania": "PA", "rhode island": "RI", "south carolina": "SC",
	"south dakota": "SD", "tennessee": "TN", "texas": "TX", "utah": "UT", "vermont": "VT",
	"virginia": "VA", "washington": "WA", "west virginia": "WV", "wisconsin": "WI", "wyoming": "WY",
	"district of columbia": "DC", "puerto rico": "PR",
}

// stateCodes is the reverse of stateNames.
var stateCodes = func() map[string]string {
	m := make(map[string]string, len(stateNames))
	for name, code := range stateNames {
		m[code] = name
	}
	return m
}()

// StateName returns the lower-case state name for a USPS code.
func StateName(code string) (string, bool) {
	name, ok := stateCodes[strings.ToUpper(code)]
	return name, ok
}

// Two-letter codes that are also common upper-case words are not treated as states.
var ambiguousStateCodes = map[string]bool{"IN": true, "OR": true, "ME": true, "OK": true, "HI": true, "DE": true, "LA": true, "PA": true, "AL": true, "MA": true, "ID": true, "CO": true, "OH": true, "MI": true}

// stateNamePatterns is ordered longest name first so "west virginia" wins over "virginia".
var stateNamePatterns = func() []struct {
	code string
	re   *regexp.Regexp
} {
	names := make([]string, 0, len(stateNames))
	for n := range stateNames {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	out := make([]struct {
		code string
		re   *regexp.Regexp
	}, len(names))
	for i, n := range names {
		out[i].code = stateNames[n]
		out[i].re = regexp.MustCompile(`\b` + strings.ReplaceAll(n, " ", `\s+`) + `\b`)
	}
	return out
}()

var stateCodePattern = regexp.MustCompile(`\b[A-Z]{2}\b`)

// policyAreas maps congress.gov policy areas to the keywords that signal them.
var policyAreas = []struct {
	area     string
	keywords []string
}{
	{"Health", []string{"health", "healthcare", "health care", "medicare", "medicaid", "insulin", "hospital", "hospitals", "prescription", "drug prices", "public health", "nurses", "mental health"}},
	{"Immigration", []string{"immigration", "immigrant", "immigrants", "border", "visa", "visas", "asylum", "daca", "deportation"}},
	{"Taxation", []string{"tax", "taxes", "taxation", "irs", "tax credit", "income tax"}},
	{"Environmental Protection", []string{"environment", "environmental", "climate", "pollution", "clean water", "water quality", "emissions", "epa", "drinking water"}},
	{"Energy", []string{"energy", "oil", "natural gas", "renewable", "solar", "wind power", "nuclear power", "electric grid"}},
	{"Armed Forces and National Security", []string{"defense", "military", "armed forces", "national security", "veterans", "pentagon", "ndaa"}},
	{"Education", []string{"education", "school", "schools", "student", "students", "student loans", "college", "teachers"}},
	{"Crime and Law Enforcement", []string{"crime", "criminal", "police", "policing", "law enforcement", "firearms", "gun", "guns", "fentanyl"}},
	{"Economics and Public Finance", []string{"budget", "deficit", "appropriations", "debt ceiling", "spending", "inflation"}},
	{"Agriculture and Food", []string{"agriculture", "farm", "farmers", "farming", "food", "nutrition", "snap"}},
	{"Transportation and Public Works", []string{"transportation", "highway", "highways", "infrastructure", "transit", "aviation", "railroad", "bridges"}},
	{"Labor and Employment", []string{"labor", "jobs", "employment", "workers", "wages", "minimum wage", "unions", "overtime"}},
	{"Housing and Community Development", []string{"housing", "rent", "renters", "mortgage", "homelessness", "affordable housing"}},
	{"Science, Technology, Communications", []string{"technology", "internet", "broadband", "artificial intelligence", "ai", "cybersecurity", "privacy", "social media", "telecommunications"}},
	{"Civil Rights and Liberties, Minority Issues", []string{"civil rights", "voting rights", "discrimination", "free speech", "civil liberties"}},
	{"Finance and Financial Sector", []string{"banking", "banks", "bank", "financial", "cryptocurrency", "crypto", "securities", "credit cards"}},
	{"International Affairs", []string{"foreign policy", "foreign aid", "sanctions", "ukraine", "israel", "china", "nato", "treaty"}},
	{"Social Welfare", []string{"social security", "welfare", "disability benefits", "child care", "poverty"}},
	{"Government Operations and Politics", []string{"election", "elections", "campaign finance", "government shutdown", "federal employees", "postal service"}},
	{"Commerce", []string{"small business", "small businesses", "consumer protection", "trade", "tariffs", "antitrust"}},
}

type keywordPattern struct {
	area    string
	keyword string
	re      *regexp.Regexp
}

var policyKeywordPatterns = func() []keywordPattern {
	var out []keywordPattern
	for _, pa := range policyAreas {
		for _, kw := range pa.keywords {
			out = append(out, keywordPattern{
				area:    pa.area,
				keyword: kw,
				re:      regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`),
			})
		}
	}
	return out
}()

// PolicyAreaKeywords returns the lower-case keywords that signal area.
func PolicyAreaKeywords(area string) []string {
	for _, pa := range policyAreas {
		if strings.EqualFold(pa.area, area) {
			return pa.keywords
		}
	}
	return nil
}
