package invoice

import (
	"regexp"
	"strings"
	"time"
)

const genericBank = "generic"

var (
	genericDueDate      = regexp.MustCompile(`(?i)due\s+date\D{0,10}?(\d{1,2})/(\d{1,2})/(\d{2,4})`)
	genericDueDateWords = regexp.MustCompile(`(?i)due\s+date\W{0,5}([A-Za-z]{3,9})\.?\s+(\d{1,2}),?\s+(\d{4})`)
	genericTotal        = regexp.MustCompile(`(?i)(?:new\s+balance|statement\s+balance|total\s+amount\s+due|total\s+balance)\D{0,10}?(` + amountPattern + `)`)
	genericLine         = regexp.MustCompile(`^(\d{2})/(\d{2})(?:/\d{2,4})?\s+(?:\d{2}/\d{2}(?:/\d{2,4})?\s+)?(.+?)\s+(` + amountPattern + `)$`)
)

// GenericParser parses English-language statements in the common US layout:
// "MM/DD [MM/DD] DESCRIPTION 1,234.56". It is the registry fallback.
type GenericParser struct{}

// Bank returns the parser name.
func (p *GenericParser) Bank() string { return genericBank }

// Detect looks for the headings every US statement carries.
func (p *GenericParser) Detect(text string) bool {
	folded := Fold(text)
	if strings.Contains(folded, "payment due date") {
		return true
	}
	return strings.Contains(folded, "due date") &&
		(strings.Contains(folded, "new balance") || strings.Contains(folded, "statement balance"))
}

// Parse extracts the invoice from the statement text.
func (p *GenericParser) Parse(text string) (*Invoice, error) {
	lines := normalizeLines(text)

	due, ok := genericDue(lines)
	if !ok {
		return nil, ErrDueDateNotFound
	}
	total, ok := findAmount(lines, genericTotal)
	if !ok {
		return nil, ErrTotalNotFound
	}

	inv := &Invoice{Bank: genericBank, DueDate: due, Total: total}
	for _, line := range lines {
		m := genericLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		d, ok := inferDate(atoi(m[2]), timeMonth(m[1]), due)
		if !ok {
			continue
		}
		amount, err := ParseAmount(m[4])
		if err != nil {
			continue
		}
		l := Line{Date: d, Description: cleanDescription(m[3]), Amount: amount}
		inv.Transactions = append(inv.Transactions, markCredit(l, enCreditKeywords))
	}
	return inv.finish(), nil
}

func genericDue(lines []string) (time.Time, bool) {
	for _, line := range lines {
		if m := genericDueDate.FindStringSubmatch(line); m != nil {
			if d, ok := numericDate(m[1], m[2], m[3], false); ok {
				return d, true
			}
		}
		if m := genericDueDateWords.FindStringSubmatch(line); m != nil {
			if month, ok := parseMonth(m[1]); ok {
				if d, ok := date(atoi(m[3]), month, atoi(m[2])); ok {
					return d, true
				}
			}
		}
	}
	return time.Time{}, false
}
