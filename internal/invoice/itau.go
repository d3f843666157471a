package invoice

import (
	"regexp"
	"strings"
)

const itauBank = "itau"

var (
	itauDueDate     = regexp.MustCompile(`(?i)vencimento\D{0,20}?(\d{2})/(\d{2})/(\d{2,4})`)
	itauTotal       = regexp.MustCompile(`(?i)total\s+(?:desta|da)\s+(?:sua\s+)?fatura\D{0,15}?(` + amountPattern + `)`)
	itauLine        = regexp.MustCompile(`^(\d{2})/(\d{2})\s+(.+?)\s+(` + amountPattern + `)$`)
	itauInstallment = regexp.MustCompile(`\s(\d{2})/(\d{2})$`)
)

// ItauParser parses Itaú/Itaucard statements, which print transactions as
// "05/02 DESCRIPTION 02/10 23,90" with an optional installment marker.
type ItauParser struct{}

// Bank returns the parser name.
func (p *ItauParser) Bank() string { return itauBank }

// Detect looks for the Itaú brand on the statement.
func (p *ItauParser) Detect(text string) bool {
	return strings.Contains(Fold(text), "itau")
}

// Parse extracts the invoice from the statement text.
func (p *ItauParser) Parse(text string) (*Invoice, error) {
	lines := normalizeLines(text)

	var inv Invoice
	inv.Bank = itauBank

	foundDue := false
	for _, line := range lines {
		if m := itauDueDate.FindStringSubmatch(line); m != nil {
			if d, ok := numericDate(m[1], m[2], m[3], true); ok {
				inv.DueDate = d
				foundDue = true
				break
			}
		}
	}
	if !foundDue {
		return nil, ErrDueDateNotFound
	}

	total, ok := findAmount(lines, itauTotal)
	if !ok {
		return nil, ErrTotalNotFound
	}
	inv.Total = total

	for _, line := range lines {
		// Installments billed on future statements are listed after this header
		if folded := Fold(line); strings.Contains(folded, "proximas faturas") || strings.Contains(folded, "proxima fatura") {
			break
		}

		m := itauLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		d, ok := inferDate(atoi(m[1]), timeMonth(m[2]), inv.DueDate)
		if !ok {
			continue
		}
		amount, err := ParseAmount(m[4])
		if err != nil {
			continue
		}

		l := Line{Date: d, Description: m[3], Amount: amount}
		if im := itauInstallment.FindStringSubmatch(l.Description); im != nil {
			n, of := atoi(im[1]), atoi(im[2])
			if n >= 1 && n <= of {
				l.Installment = &Installment{Number: n, Of: of}
				l.Description = strings.TrimSuffix(l.Description, im[0])
			}
		}
		l.Description = cleanDescription(l.Description)
		inv.Transactions = append(inv.Transactions, markCredit(l, ptCreditKeywords))
	}
	return inv.finish(), nil
}
