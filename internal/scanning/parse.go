package scanning

import (
	"strings"
)

// transcriptionPrompt is the shared prompt used by all LLM engines for reading statement pages
const transcriptionPrompt = `You are reading one page of a credit card statement (invoice). Transcribe ALL text on the page exactly as printed.

Rules:
- Keep the original line structure: one printed line per output line.
- Keep each transaction on a single line in the order date, description, amount.
- Copy dates, amounts, currency symbols, minus signs and installment markers (e.g. 02/10) exactly as printed.
- Do not translate, summarize, reorder or correct anything.
- Do not add commentary before or after the text.
- Do not use markdown code blocks`

// cleanModelOutput strips the markdown fences LLMs add around transcriptions despite the prompt
func cleanModelOutput(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	// Drop the opening fence line, including any language tag
	if i := strings.Index(text, "\n"); i >= 0 {
		text = text[i+1:]
	} else {
		text = strings.TrimPrefix(text, "```")
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
