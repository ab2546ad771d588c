package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Lima is the portals' wall-clock zone (UTC-5, no daylight saving).
var Lima = time.FixedZone("PET", -5*60*60)

var (
	numericDate = regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{4})(?:\s+(\d{1,2}):(\d{2})(?::(\d{2}))?)?`)
	spanishDate = regexp.MustCompile(`(?i)(\d{1,2})\s+de\s+([a-záéíóúñ]+)\s+(?:de|del)\s+(\d{4})`)
)

var spanishMonths = map[string]time.Month{
	"enero":      time.January,
	"febrero":    time.February,
	"marzo":      time.March,
	"abril":      time.April,
	"mayo":       time.May,
	"junio":      time.June,
	"julio":      time.July,
	"agosto":     time.August,
	"septiembre": time.September,
	"setiembre":  time.September,
	"octubre":    time.October,
	"noviembre":  time.November,
	"diciembre":  time.December,
}

// ParseDate reads the first date found in text. It accepts dd/mm/yyyy with an
// optional hh:mm[:ss] suffix, then "dd de <mes> de yyyy". Anything else yields now.
func ParseDate(text string, now time.Time) time.Time {
	if t, ok := ParseDateStrict(text); ok {
		return t
	}
	return now
}

// ParseDateStrict is ParseDate without the fallback.
func ParseDateStrict(text string) (time.Time, bool) {
	if m := numericDate.FindStringSubmatch(text); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		hour, minute, second := atoiOr(m[4]), atoiOr(m[5]), atoiOr(m[6])
		if validDate(year, time.Month(month), day) && hour < 24 && minute < 60 && second < 60 {
			return time.Date(year, time.Month(month), day, hour, minute, second, 0, Lima), true
		}
	}
	if m := spanishDate.FindStringSubmatch(text); m != nil {
		month, ok := spanishMonths[strings.ToLower(m[2])]
		if !ok {
			return time.Time{}, false
		}
		day, _ := strconv.Atoi(m[1])
		year, _ := strconv.Atoi(m[3])
		if validDate(year, month, day) {
			return time.Date(year, month, day, 0, 0, 0, 0, Lima), true
		}
	}
	return time.Time{}, false
}

// LooksLikeDate reports whether text carries a parseable date.
func LooksLikeDate(text string) bool {
	_, ok := ParseDateStrict(text)
	return ok
}

func atoiOr(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// validDate rejects values time.Date would silently normalize (31/02).
func validDate(year int, month time.Month, day int) bool {
	if month < time.January || month > time.December || day < 1 {
		return false
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return t.Day() == day && t.Month() == month
}
