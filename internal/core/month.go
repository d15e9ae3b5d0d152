package core

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var monthKeyPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

// MonthParts is the lenient decoding of a month key. Year and Month are
// only meaningful when the matching flag is set.
type MonthParts struct {
	Year    int
	Month   int
	YearOK  bool
	MonthOK bool
}

// Valid reports whether both parts were decoded.
func (p MonthParts) Valid() bool {
	return p.YearOK && p.MonthOK
}

// BuildMonthKey formats year and month as "YYYY-MM". The month is clamped
// to 1..12 and a year outside 1..9999 falls back to the current year.
func BuildMonthKey(year, month int) string {
	if year < 1 || year > 9999 {
		year = time.Now().Year()
	}
	if month < 1 {
		month = 1
	}
	if month > 12 {
		month = 12
	}
	return fmt.Sprintf("%04d-%02d", year, month)
}

// CurrentMonthKey returns the key of the month containing t.
func CurrentMonthKey(t time.Time) string {
	return BuildMonthKey(t.Year(), int(t.Month()))
}

// ParseMonthKey never fails: unparseable parts are reported as undefined.
func ParseMonthKey(key string) MonthParts {
	var p MonthParts
	yearPart, monthPart, _ := strings.Cut(key, "-")
	monthPart, _, _ = strings.Cut(monthPart, "-")

	if y, err := strconv.Atoi(leadingInt(yearPart)); err == nil {
		p.Year, p.YearOK = y, true
	}
	if m, err := strconv.Atoi(leadingInt(monthPart)); err == nil && m >= 1 && m <= 12 {
		p.Month, p.MonthOK = m, true
	}
	return p
}

// leadingInt keeps an optional sign and the digits that follow it.
func leadingInt(s string) string {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	return s[:end]
}

// MonthDiff counts calendar months from one key to another, positive when
// to is later. It returns 0 when either key cannot be parsed.
func MonthDiff(from, to string) int {
	a, b := ParseMonthKey(from), ParseMonthKey(to)
	if !a.Valid() || !b.Valid() {
		return 0
	}
	return (b.Year-a.Year)*12 + (b.Month - a.Month)
}

// AddMonths shifts a valid key by n months. Invalid keys, and shifts that
// leave years 1..9999, return the key as is.
func AddMonths(key string, n int) string {
	p := ParseMonthKey(key)
	if !p.Valid() {
		return key
	}
	idx := p.Year*12 + (p.Month - 1) + n
	if idx < 12 || idx >= 10000*12 {
		return key
	}
	return BuildMonthKey(idx/12, idx%12+1)
}

// ValidateMonthKey is the strict check used where keys enter the system.
func ValidateMonthKey(key string) error {
	if !monthKeyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidMonthKey, key)
	}
	if !ParseMonthKey(key).MonthOK {
		return fmt.Errorf("%w: month out of range in %q", ErrInvalidMonthKey, key)
	}
	return nil
}
