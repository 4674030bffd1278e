// Package masker removes personally identifiable information from text
// before it is persisted. Built-in rules cover Brazilian documents (CPF,
// CNPJ, RG), emails, phone numbers, and credit cards; custom rules can
// be loaded from a JSON file.
package masker

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
)

// Built-in rule names.
const (
	RuleCPF        = "cpf"
	RuleCNPJ       = "cnpj"
	RuleRG         = "rg"
	RuleCreditCard = "credit_card"
	RulePhone      = "phone"
	RuleEmail      = "email"
)

type rule struct {
	name    string
	re      *regexp.Regexp
	matches atomic.Uint64
}

// Masker applies an ordered list of masking rules to text.
// Rules run in registration order so document patterns are consumed
// before looser ones can match their fragments.
type Masker struct {
	mu    sync.RWMutex
	rules []*rule
}

// New returns a Masker with the built-in rules registered.
func New() *Masker {
	m := &Masker{}

	// CPF (000.000.000-00 or 00000000000)
	m.mustAdd(RuleCPF, `\b\d{3}\.?\d{3}\.?\d{3}-?\d{2}\b`)
	// CNPJ (00.000.000/0000-00)
	m.mustAdd(RuleCNPJ, `\b\d{2}\.?\d{3}\.?\d{3}/?\d{4}-?\d{2}\b`)
	// RG (00.000.000-0, check digit may be X)
	m.mustAdd(RuleRG, `\b\d{1,2}\.?\d{3}\.?\d{3}-?[0-9X]\b`)
	// Credit card (16 digits with optional separators)
	m.mustAdd(RuleCreditCard, `\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`)
	// Brazilian phone, optional country code
	m.mustAdd(RulePhone, `\b(?:\+55\s?)?\(?[1-9]{2}\)?\s?9?\d{4}-?\d{4}\b`)
	// Email
	m.mustAdd(RuleEmail, `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

	return m
}

func (m *Masker) mustAdd(name, pattern string) {
	if err := m.AddRule(name, pattern); err != nil {
		panic(err)
	}
}

// AddRule registers a rule. A rule with the same name is replaced in place,
// keeping its position in the evaluation order.
func (m *Masker) AddRule(name, pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("compile rule %q: %w", name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.rules {
		if m.rules[i].name == name {
			m.rules[i].re = re
			return nil
		}
	}
	m.rules = append(m.rules, &rule{name: name, re: re})
	return nil
}

// RemoveRule unregisters a rule. It reports whether the rule existed.
func (m *Masker) RemoveRule(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.rules {
		if m.rules[i].name == name {
			m.rules = append(m.rules[:i], m.rules[i+1:]...)
			return true
		}
	}
	return false
}

// Rules returns the registered rule names in evaluation order.
func (m *Masker) Rules() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, len(m.rules))
	for i, r := range m.rules {
		names[i] = r.name
	}
	return names
}

// MaskText applies all rules to text and returns the masked result.
// Masking is idempotent: masked output contains no digits where a
// pattern could re-match, so a second pass is a no-op.
func (m *Masker) MaskText(text string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.rules {
		if !r.re.MatchString(text) {
			continue
		}
		name := r.name
		text = r.re.ReplaceAllStringFunc(text, func(match string) string {
			r.matches.Add(1)
			return generateMask(match, name)
		})
	}
	return text
}

// MatchCounts reports how many matches each rule has redacted since
// the Masker was created.
func (m *Masker) MatchCounts() map[string]uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]uint64, len(m.rules))
	for _, r := range m.rules {
		counts[r.name] = r.matches.Load()
	}
	return counts
}

// generateMask produces the replacement for a matched value. Known
// categories keep a recognizable shape and a short disambiguating
// suffix; unknown categories are fully replaced.
func generateMask(original, category string) string {
	switch category {
	case RuleCPF:
		if len(original) >= 11 {
			return "***.***.***-" + original[len(original)-2:]
		}
		return "***.***.**-**"

	case RuleEmail:
		at := strings.IndexByte(original, '@')
		if at < 1 {
			return "***@***"
		}
		return original[:1] + "***" + original[at:]

	case RulePhone:
		digits := digitsOf(original)
		if len(digits) >= 8 {
			return "(***) ***-" + digits[len(digits)-4:]
		}
		return "(***) ***-****"

	case RuleCreditCard:
		digits := digitsOf(original)
		if len(digits) >= 4 {
			return "**** **** **** " + digits[len(digits)-4:]
		}
		return "**** **** **** ****"

	case RuleRG:
		return "**.***.***-*"

	case RuleCNPJ:
		return "**.***.***/****-**"

	default:
		return strings.Repeat("*", len(original))
	}
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, c := range s {
		if c >= '0' && c <= '9' {
			b.WriteByte(byte(c))
		}
	}
	return b.String()
}
