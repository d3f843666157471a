package invoice

import (
	"fmt"
	"sort"
	"strings"
)

// Parser extracts an Invoice from the text of one statement layout.
type Parser interface {
	// Bank returns the layout name used to select the parser.
	Bank() string
	// Detect reports whether text looks like this layout.
	Detect(text string) bool
	// Parse extracts the due date, total and transactions.
	Parse(text string) (*Invoice, error)
}

// Registry holds named parsers. Detection runs in registration order.
type Registry struct {
	parsers  map[string]Parser
	order    []string
	fallback string
}

// NewRegistry creates an empty parser registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

// Register adds a parser. Panics on duplicate bank.
func (r *Registry) Register(p Parser) {
	key := strings.ToLower(p.Bank())
	if _, ok := r.parsers[key]; ok {
		panic("duplicate invoice parser: " + key)
	}
	r.parsers[key] = p
	r.order = append(r.order, key)
}

// SetFallback names the parser used when no layout is detected.
func (r *Registry) SetFallback(bank string) {
	r.fallback = strings.ToLower(bank)
}

// Get returns the parser for bank, or nil.
func (r *Registry) Get(bank string) Parser {
	return r.parsers[strings.ToLower(strings.TrimSpace(bank))]
}

// Banks returns the registered bank names, sorted.
func (r *Registry) Banks() []string {
	banks := make([]string, 0, len(r.parsers))
	for name := range r.parsers {
		banks = append(banks, name)
	}
	sort.Strings(banks)
	return banks
}

// Detect returns the first parser recognising text, then the fallback, or nil.
func (r *Registry) Detect(text string) Parser {
	for _, name := range r.order {
		if name == r.fallback {
			continue
		}
		if p := r.parsers[name]; p.Detect(text) {
			return p
		}
	}
	if r.fallback != "" {
		return r.parsers[r.fallback]
	}
	return nil
}

// Parse parses text with the named parser, or detects the layout when bank is empty.
func (r *Registry) Parse(text, bank string) (*Invoice, error) {
	var p Parser
	if strings.TrimSpace(bank) != "" {
		p = r.Get(bank)
		if p == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownBank, bank)
		}
	} else {
		p = r.Detect(text)
		if p == nil {
			return nil, ErrNoParser
		}
	}

	inv, err := p.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parsing %s invoice: %w", p.Bank(), err)
	}
	return inv, nil
}

// DefaultRegistry returns a registry with all built-in parsers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&NubankParser{})
	r.Register(&ItauParser{})
	r.Register(&GenericParser{})
	r.SetFallback(genericBank)
	return r
}
