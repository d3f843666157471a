package invoice

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// amountPattern matches a money amount with two decimals in either
// 1.234,56 or 1,234.56 notation, an optional currency symbol and a credit marker.
const amountPattern = `(?:[-−]\s*)?(?:R\$|US\$|\$)?\s*[-−]?\(?(?:\d{1,3}(?:[.,]\d{3})+|\d+)[.,]\d{2}\)?(?:\s?CR\b|-)?`

var (
	spaceRun = regexp.MustCompile(`[ \t]+`)
	digitsRe = regexp.MustCompile(`\d`)
)

// Fold lowercases s and strips accents so "Itaú" and "ITAU" compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// normalizeLines splits OCR output into trimmed, non-empty lines with OCR
// noise (non-breaking spaces, table pipes, bullets, repeated spaces) removed.
func normalizeLines(text string) []string {
	text = strings.ReplaceAll(text, "\u00a0", " ")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.Trim(line, " \t|•·*")
		line = spaceRun.ReplaceAllString(line, " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// ParseAmount converts a printed amount into a decimal. Leading or trailing
// minus signs, parentheses and a CR suffix all mark a credit.
func ParseAmount(s string) (decimal.Decimal, error) {
	raw := s
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "−", "-")
	negative := false

	if upper := strings.ToUpper(s); strings.HasSuffix(upper, "CR") {
		negative = true
		s = strings.TrimSpace(s[:len(s)-2])
	}
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	if strings.HasSuffix(s, "-") {
		negative = true
		s = strings.TrimSuffix(s, "-")
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") {
		negative = true
		s = strings.TrimSpace(strings.TrimPrefix(s, "-"))
	}
	for _, symbol := range []string{"US$", "R$", "$"} {
		s = strings.TrimPrefix(s, symbol)
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") {
		negative = true
		s = strings.TrimPrefix(s, "-")
	}
	s = strings.ReplaceAll(s, " ", "")
	s = strings.Trim(s, "()")

	if s == "" || !digitsRe.MatchString(s) {
		return decimal.Zero, fmt.Errorf("parsing amount %q: no digits", raw)
	}

	// The last separator is the decimal separator unless three digits follow it
	sep := strings.LastIndexAny(s, ".,")
	var intPart, fracPart string
	if n := len(s) - sep - 1; sep >= 0 && (n == 1 || n == 2) {
		intPart, fracPart = s[:sep], s[sep+1:]
	} else {
		intPart = s
	}
	intPart = strings.NewReplacer(".", "", ",", "").Replace(intPart)
	if intPart == "" {
		intPart = "0"
	}

	value := intPart
	if fracPart != "" {
		value += "." + fracPart
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing amount %q: %w", raw, err)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

var monthNames = map[string]time.Month{
	"jan": time.January, "fev": time.February, "feb": time.February,
	"mar": time.March, "abr": time.April, "apr": time.April,
	"mai": time.May, "may": time.May, "jun": time.June,
	"jul": time.July, "ago": time.August, "aug": time.August,
	"set": time.September, "sep": time.September, "out": time.October,
	"oct": time.October, "nov": time.November, "dez": time.December,
	"dec": time.December,
}

// parseMonth accepts Portuguese and English month names or abbreviations.
func parseMonth(s string) (time.Month, bool) {
	s = Fold(strings.TrimSpace(s))
	if len(s) < 3 {
		return 0, false
	}
	m, ok := monthNames[s[:3]]
	return m, ok
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

// date builds a validated calendar date; time.Date silently normalizes 31/02.
func date(year int, month time.Month, day int) (time.Time, bool) {
	if month < time.January || month > time.December || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Month() != month {
		return time.Time{}, false
	}
	return t, true
}

// normalizeYear expands two-digit years.
func normalizeYear(y int) int {
	if y < 100 {
		return 2000 + y
	}
	return y
}

// inferDate places a day/month printed without a year on the statement whose
// due date is due: purchases from a later month belong to the previous year.
func inferDate(day int, month time.Month, due time.Time) (time.Time, bool) {
	year := due.Year()
	if month > due.Month() {
		year--
	}
	return date(year, month, day)
}

// findAmount returns the first amount captured by re in any line.
func findAmount(lines []string, re *regexp.Regexp) (decimal.Decimal, bool) {
	for _, line := range lines {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		d, err := ParseAmount(m[len(m)-1])
		if err == nil {
			return d, true
		}
	}
	return decimal.Zero, false
}

// numericDate parses day/month/year (dmy) or month/day/year (mdy) captures.
func numericDate(a, b, y string, dayFirst bool) (time.Time, bool) {
	day, month := atoi(a), atoi(b)
	if !dayFirst {
		day, month = month, day
	}
	return date(normalizeYear(atoi(y)), time.Month(month), day)
}

// cleanDescription trims separators left over after removing installment markers.
func cleanDescription(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, " -–")
	return strings.TrimSpace(s)
}
