package intent

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	lastNPattern   = regexp.MustCompile(`\b(?:last|past|previous)\s+(\d{1,3})\s+(days?|weeks?|months?|years?)\b`)
	sincePattern   = regexp.MustCompile(`\bsince\s+((?:19|20)\d{2})\b`)
	betweenPattern = regexp.MustCompile(`\b(?:between|from)\s+((?:19|20)\d{2})\s+(?:and|to|-)\s+((?:19|20)\d{2})\b`)
	inYearPattern  = regexp.MustCompile(`\b(?:in|during)\s+((?:19|20)\d{2})\b`)
)

// ParseDateRange extracts a date range relative to now. Ranges are returned as
// written; "between 2024 and 2020" yields an inverted range that callers reject.
func ParseDateRange(question string, now time.Time) (*DateRange, bool) {
	lower := strings.ToLower(question)
	now = now.UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	tomorrow := startOfDay.AddDate(0, 0, 1)

	if m := betweenPattern.FindStringSubmatch(lower); m != nil {
		y1, _ := strconv.Atoi(m[1])
		y2, _ := strconv.Atoi(m[2])
		return &DateRange{Start: yearStart(y1), End: yearStart(y2 + 1), Label: m[0]}, true
	}

	if m := lastNPattern.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		var start time.Time
		switch strings.TrimSuffix(m[2], "s") {
		case "day":
			start = startOfDay.AddDate(0, 0, -n)
		case "week":
			start = startOfDay.AddDate(0, 0, -7*n)
		case "month":
			start = startOfDay.AddDate(0, -n, 0)
		case "year":
			start = startOfDay.AddDate(-n, 0, 0)
		}
		return &DateRange{Start: start, End: tomorrow, Label: m[0]}, true
	}

	if m := sincePattern.FindStringSubmatch(lower); m != nil {
		y, _ := strconv.Atoi(m[1])
		return &DateRange{Start: yearStart(y), End: tomorrow, Label: m[0]}, true
	}

	switch {
	case strings.Contains(lower, "this year"):
		return &DateRange{Start: yearStart(now.Year()), End: tomorrow, Label: "this year"}, true
	case strings.Contains(lower, "last year"):
		return &DateRange{Start: yearStart(now.Year() - 1), End: yearStart(now.Year()), Label: "last year"}, true
	case strings.Contains(lower, "past year"):
		return &DateRange{Start: startOfDay.AddDate(-1, 0, 0), End: tomorrow, Label: "past year"}, true
	case strings.Contains(lower, "this month"):
		return &DateRange{Start: monthStart(now), End: tomorrow, Label: "this month"}, true
	case strings.Contains(lower, "last month"):
		this := monthStart(now)
		return &DateRange{Start: this.AddDate(0, -1, 0), End: this, Label: "last month"}, true
	case strings.Contains(lower, "this week"):
		return &DateRange{Start: startOfDay.AddDate(0, 0, -int(now.Weekday())), End: tomorrow, Label: "this week"}, true
	}

	if m := inYearPattern.FindStringSubmatch(lower); m != nil {
		y, _ := strconv.Atoi(m[1])
		return &DateRange{Start: yearStart(y), End: yearStart(y + 1), Label: m[1]}, true
	}

	return nil, false
}

func yearStart(y int) time.Time {
	return time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
