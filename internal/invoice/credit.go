package invoice

import (
	"strings"
	"time"
)

var (
	ptCreditKeywords = []string{"pagamento recebido", "pagamento efetuado", "pagamento de fatura", "estorno", "credito de"}
	enCreditKeywords = []string{"payment thank you", "payment - thank you", "autopay payment", "refund", "return credit"}
)

// markCredit negates payments and refunds that the statement prints without a sign.
func markCredit(l Line, keywords []string) Line {
	if !l.Amount.IsPositive() {
		return l
	}
	folded := Fold(l.Description)
	for _, kw := range keywords {
		if strings.Contains(folded, kw) {
			l.Amount = l.Amount.Neg()
			break
		}
	}
	return l
}

func timeMonth(s string) time.Month {
	return time.Month(atoi(s))
}
