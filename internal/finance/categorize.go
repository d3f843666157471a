package finance

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zombor/household-finance/internal/invoice"
)

// Uncategorized is assigned when no rule matches
const Uncategorized = "uncategorized"

//go:embed categories.yaml
var defaultCategories []byte

// CategoryRule maps description keywords to a category
type CategoryRule struct {
	Name     string   `yaml:"name" json:"name"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

type categoriesFile struct {
	Categories []CategoryRule `yaml:"categories"`
}

// Categorizer assigns categories to transaction descriptions
type Categorizer struct {
	rules []CategoryRule
}

// NewCategorizer folds the rule keywords once so matching is a substring check
func NewCategorizer(rules []CategoryRule) *Categorizer {
	folded := make([]CategoryRule, 0, len(rules))
	for _, r := range rules {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			continue
		}
		rule := CategoryRule{Name: name}
		for _, kw := range r.Keywords {
			if kw = invoice.Fold(strings.TrimSpace(kw)); kw != "" {
				rule.Keywords = append(rule.Keywords, kw)
			}
		}
		folded = append(folded, rule)
	}
	return &Categorizer{rules: folded}
}

// ParseCategoryRules decodes a categories YAML document
func ParseCategoryRules(data []byte) ([]CategoryRule, error) {
	var f categoriesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing category rules: %w", err)
	}
	return f.Categories, nil
}

// DefaultCategorizer uses the rules bundled with the binary
func DefaultCategorizer() *Categorizer {
	rules, err := ParseCategoryRules(defaultCategories)
	if err != nil {
		panic(err)
	}
	return NewCategorizer(rules)
}

// LoadCategorizer reads rules from a YAML file
func LoadCategorizer(path string) (*Categorizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading category rules: %w", err)
	}
	rules, err := ParseCategoryRules(data)
	if err != nil {
		return nil, err
	}
	return NewCategorizer(rules), nil
}

// Categorize returns the first category with a keyword found in description
func (c *Categorizer) Categorize(description string) string {
	folded := invoice.Fold(description)
	for _, r := range c.rules {
		for _, kw := range r.Keywords {
			if strings.Contains(folded, kw) {
				return r.Name
			}
		}
	}
	return Uncategorized
}

// Categories lists the configured category names in rule order
func (c *Categorizer) Categories() []string {
	names := make([]string, 0, len(c.rules)+1)
	for _, r := range c.rules {
		names = append(names, r.Name)
	}
	return append(names, Uncategorized)
}
