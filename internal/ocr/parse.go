package ocr

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/steps-tracker/constants"
	"github.com/joseph-ayodele/steps-tracker/internal/period"
)

// MaxPlausibleSteps bounds the numbers accepted as a daily step count.
const MaxPlausibleSteps = 200000

const numPat = `(\d{1,3}(?:[,.]\d{3})+|\d{2,6})`

var (
	reStepsAfter  = regexp.MustCompile(`(?i)` + numPat + `\s*(?:steps?|schritte|pasos|pas)\b`)
	reStepsBefore = regexp.MustCompile(`(?i)\bsteps?\s*[:\-]?\s*` + numPat)
	reNumber      = regexp.MustCompile(numPat)

	reISODate   = regexp.MustCompile(`\b(20\d{2})-(\d{1,2})-(\d{1,2})\b`)
	reSlashDate = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(20\d{2})\b`)
	reMonthDay  = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(20\d{2})\b`)
	reDayMonth  = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?,?\s+(20\d{2})\b`)
	reRelative  = regexp.MustCompile(`(?i)\b(today|yesterday)\b`)
)

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// Parsed is what the text heuristics recovered from one proof.
type Parsed struct {
	Steps        *int
	StepsKeyword bool // the count sat next to a "steps" label
	Date         string
	Notes        []string
}

func parseCount(s string) (int, bool) {
	s = strings.NewReplacer(",", "", ".", "").Replace(s)
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > MaxPlausibleSteps {
		return 0, false
	}
	return n, true
}

// ParseSteps finds the step count in normalized OCR text. A number labelled
// "steps" wins; otherwise the largest plausible number outside any date is used.
func ParseSteps(text string) (steps int, keyword, ok bool) {
	for _, re := range []*regexp.Regexp{reStepsAfter, reStepsBefore} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if n, ok := parseCount(m[1]); ok {
				return n, true, true
			}
		}
	}

	stripped := text
	for _, re := range []*regexp.Regexp{reISODate, reSlashDate, reMonthDay, reDayMonth} {
		stripped = re.ReplaceAllString(stripped, " ")
	}
	best := 0
	for _, m := range reNumber.FindAllString(stripped, -1) {
		if n, ok := parseCount(m); ok && n > best {
			best = n
		}
	}
	if best < 100 {
		return 0, false, false
	}
	return best, false, true
}

func mkDate(y, m, d int) (time.Time, bool) {
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes Feb 31 into March.
	if t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// ParseDate finds the record date in normalized OCR text. Slash dates are read
// month first unless the first field cannot be a month. "today" and
// "yesterday" resolve against now.
func ParseDate(text string, now time.Time) (string, bool) {
	if m := reISODate.FindStringSubmatch(text); m != nil {
		if t, ok := mkDate(atoi(m[1]), atoi(m[2]), atoi(m[3])); ok {
			return period.FormatDate(t), true
		}
	}
	if m := reMonthDay.FindStringSubmatch(text); m != nil {
		if t, ok := mkDate(atoi(m[3]), int(months[strings.ToLower(m[1])]), atoi(m[2])); ok {
			return period.FormatDate(t), true
		}
	}
	if m := reDayMonth.FindStringSubmatch(text); m != nil {
		if t, ok := mkDate(atoi(m[3]), int(months[strings.ToLower(m[2])]), atoi(m[1])); ok {
			return period.FormatDate(t), true
		}
	}
	if m := reSlashDate.FindStringSubmatch(text); m != nil {
		a, b, y := atoi(m[1]), atoi(m[2]), atoi(m[3])
		if a > 12 {
			a, b = b, a
		}
		if t, ok := mkDate(y, a, b); ok {
			return period.FormatDate(t), true
		}
	}
	if m := reRelative.FindStringSubmatch(text); m != nil {
		day := period.Day(now)
		if strings.EqualFold(m[1], "yesterday") {
			day = day.AddDate(0, 0, -1)
		}
		return period.FormatDate(day), true
	}
	return "", false
}

// Parse runs both heuristics. A date after today is dropped with a note.
func Parse(text string, now time.Time) Parsed {
	var p Parsed
	if n, kw, ok := ParseSteps(text); ok {
		p.Steps = &n
		p.StepsKeyword = kw
		if !kw {
			p.Notes = append(p.Notes, "step count inferred without a steps label")
		}
	} else {
		p.Notes = append(p.Notes, "no step count found")
	}
	if d, ok := ParseDate(text, now); ok {
		if err := period.ValidateRecordDate(d, now); err != nil {
			p.Notes = append(p.Notes, "ignored future date "+d)
		} else {
			p.Date = d
		}
	} else {
		p.Notes = append(p.Notes, "no date found")
	}
	return p
}

// heuristicScore rates how much of the expected content the text carried.
func heuristicScore(p Parsed) float64 {
	score := 0.2
	switch {
	case p.Steps != nil && p.StepsKeyword:
		score += 0.5
	case p.Steps != nil:
		score += 0.2
	}
	if p.Date != "" {
		score += 0.3
	}
	if score > 1 {
		score = 1
	}
	return score
}

// Grade blends the tesseract word confidence (0 when unavailable) with the
// heuristic score. Without a step count the result is always low.
func Grade(p Parsed, ocrConf float64) constants.Confidence {
	if p.Steps == nil {
		return constants.ConfidenceLow
	}
	conf := heuristicScore(p)
	if ocrConf > 0 {
		conf = 0.6*ocrConf + 0.4*conf
	}
	switch {
	case conf >= 0.75:
		return constants.ConfidenceHigh
	case conf >= 0.5:
		return constants.ConfidenceMedium
	}
	return constants.ConfidenceLow
}
