package invoice

import (
	"regexp"
	"strings"
	"time"
)

const nubankBank = "nubank"

var (
	nubankDueDate        = regexp.MustCompile(`(?i)vencimento\D{0,20}?(\d{1,2})\s+(?:de\s+)?([A-Za-zÀ-ÿ]{3,9})\.?\s+(?:de\s+)?(\d{4})`)
	nubankDueDateNumeric = regexp.MustCompile(`(?i)vencimento\D{0,20}?(\d{2})/(\d{2})/(\d{2,4})`)
	nubankTotal          = regexp.MustCompile(`(?i)total\s+(?:a\s+pagar|da\s+fatura|desta\s+fatura)\D{0,10}?(` + amountPattern + `)`)
	nubankLine           = regexp.MustCompile(`^(\d{2})\s+([A-Za-z]{3})\s+(.+?)\s+(` + amountPattern + `)$`)
	nubankInstallment    = regexp.MustCompile(`(?i)\s*[-–]?\s*parcela\s+(\d{1,2})\s*(?:/|de)\s*(\d{1,2})`)
)

// NubankParser parses Nubank credit card statements, which print
// transactions as "05 FEV Description R$ 23,90".
type NubankParser struct{}

// Bank returns the parser name.
func (p *NubankParser) Bank() string { return nubankBank }

// Detect looks for the Nubank brand on the statement.
func (p *NubankParser) Detect(text string) bool {
	folded := Fold(text)
	return strings.Contains(folded, "nubank") || strings.Contains(folded, "nu pagamentos")
}

// Parse extracts the invoice from the statement text.
func (p *NubankParser) Parse(text string) (*Invoice, error) {
	lines := normalizeLines(text)

	due, ok := nubankDue(lines)
	if !ok {
		return nil, ErrDueDateNotFound
	}
	total, ok := findAmount(lines, nubankTotal)
	if !ok {
		return nil, ErrTotalNotFound
	}

	inv := &Invoice{Bank: nubankBank, DueDate: due, Total: total}
	for _, line := range lines {
		m := nubankLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		month, ok := parseMonth(m[2])
		if !ok {
			continue
		}
		d, ok := inferDate(atoi(m[1]), month, due)
		if !ok {
			continue
		}
		amount, err := ParseAmount(m[4])
		if err != nil {
			continue
		}

		l := Line{Date: d, Description: m[3], Amount: amount}
		if im := nubankInstallment.FindStringSubmatchIndex(l.Description); im != nil {
			n, of := atoi(l.Description[im[2]:im[3]]), atoi(l.Description[im[4]:im[5]])
			if n >= 1 && n <= of {
				l.Installment = &Installment{Number: n, Of: of}
				l.Description = l.Description[:im[0]] + l.Description[im[1]:]
			}
		}
		l.Description = cleanDescription(l.Description)
		inv.Transactions = append(inv.Transactions, markCredit(l, ptCreditKeywords))
	}
	return inv.finish(), nil
}

func nubankDue(lines []string) (time.Time, bool) {
	for _, line := range lines {
		if m := nubankDueDate.FindStringSubmatch(line); m != nil {
			if month, ok := parseMonth(m[2]); ok {
				if d, ok := date(atoi(m[3]), month, atoi(m[1])); ok {
					return d, true
				}
			}
		}
		if m := nubankDueDateNumeric.FindStringSubmatch(line); m != nil {
			if d, ok := numericDate(m[1], m[2], m[3], true); ok {
				return d, true
			}
		}
	}
	return time.Time{}, false
}
