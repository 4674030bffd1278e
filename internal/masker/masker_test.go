package masker

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCPFMasking(t *testing.T) {
	m := New()

	masked := m.MaskText("Meu CPF é 123.456.789-01")
	if !strings.Contains(masked, "***.***.***-01") {
		t.Errorf("formatted CPF not masked: %q", masked)
	}

	masked = m.MaskText("CPF: 12345678901")
	if !strings.Contains(masked, "***.***.***-01") {
		t.Errorf("unformatted CPF not masked: %q", masked)
	}
}

func TestEmailMasking(t *testing.T) {
	m := New()

	masked := m.MaskText("Meu email é joao@exemplo.com")
	if !strings.Contains(masked, "j***@exemplo.com") {
		t.Errorf("email not masked: %q", masked)
	}

	masked = m.MaskText("a@b.com")
	if !strings.Contains(masked, "a***@b.com") {
		t.Errorf("short email not masked: %q", masked)
	}
}

func TestPhoneMasking(t *testing.T) {
	m := New()

	masked := m.MaskText("Telefone: (11) 99999-1234")
	if !strings.Contains(masked, "(***) ***-1234") {
		t.Errorf("phone not masked: %q", masked)
	}

	masked = m.MaskText("+55 11 99999-1234")
	if !strings.Contains(masked, "(***) ***-1234") {
		t.Errorf("phone with country code not masked: %q", masked)
	}
}

func TestCreditCardMasking(t *testing.T) {
	m := New()

	masked := m.MaskText("Card: 1234 5678 9012 3456")
	if !strings.Contains(masked, "**** **** **** 3456") {
		t.Errorf("card with spaces not masked: %q", masked)
	}

	masked = m.MaskText("1234-5678-9012-3456")
	if !strings.Contains(masked, "**** **** **** 3456") {
		t.Errorf("card with dashes not masked: %q", masked)
	}
}

func TestRGMasking(t *testing.T) {
	m := New()

	masked := m.MaskText("RG: 12.345.678-9")
	if masked != "RG: **.***.***-*" {
		t.Errorf("RG not masked: %q", masked)
	}
}

func TestCNPJMasking(t *testing.T) {
	m := New()

	masked := m.MaskText("CNPJ: 12.345.678/0001-90")
	if masked != "CNPJ: **.***.***/****-**" {
		t.Errorf("CNPJ not masked: %q", masked)
	}
}

func TestMultiplePatterns(t *testing.T) {
	m := New()

	masked := m.MaskText("CPF: 123.456.789-01 Email: test@test.com Telefone: (11) 99999-1234")

	if !strings.Contains(masked, "***.***.***-01") {
		t.Errorf("CPF missing in %q", masked)
	}
	if !strings.Contains(masked, "t***@test.com") {
		t.Errorf("email missing in %q", masked)
	}
	if !strings.Contains(masked, "(***) ***-1234") {
		t.Errorf("phone missing in %q", masked)
	}
}

func TestMaskingIsIdempotent(t *testing.T) {
	m := New()

	inputs := []string{
		"Meu CPF é 123.456.789-01",
		"joao@exemplo.com",
		"(11) 99999-1234",
		"1234 5678 9012 3456",
		"CNPJ: 12.345.678/0001-90 RG: 12.345.678-9",
	}

	for _, input := range inputs {
		once := m.MaskText(input)
		twice := m.MaskText(once)
		if once != twice {
			t.Errorf("masking not idempotent for %q: %q != %q", input, once, twice)
		}
	}
}

func TestNoFalsePositives(t *testing.T) {
	m := New()

	texts := []string{
		"",
		"This is just regular text with no sensitive data",
		"version 1.2.3 released",
	}

	for _, text := range texts {
		if got := m.MaskText(text); got != text {
			t.Errorf("MaskText(%q) = %q, want unchanged", text, got)
		}
	}
}

func TestGenerateMaskEdgeCases(t *testing.T) {
	if got := generateMask("123", RuleCPF); got != "***.***.**-**" {
		t.Errorf("short CPF mask = %q", got)
	}
	if got := generateMask("notanemail", RuleEmail); got != "***@***" {
		t.Errorf("email without @ mask = %q", got)
	}
	if got := generateMask("1234", RulePhone); got != "(***) ***-****" {
		t.Errorf("short phone mask = %q", got)
	}
	if got := generateMask("secret", "unknown"); got != "******" {
		t.Errorf("unknown category mask = %q", got)
	}
}

func TestAddAndRemoveRule(t *testing.T) {
	m := New()

	if err := m.AddRule("badge_id", `\bID-\d{6}\b`); err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	masked := m.MaskText("My ID is ID-123456")
	if strings.Contains(masked, "ID-123456") {
		t.Errorf("custom rule did not mask: %q", masked)
	}

	if !m.RemoveRule(RuleCPF) {
		t.Error("RemoveRule(cpf) = false, want true")
	}
	if m.RemoveRule("non_existent") {
		t.Error("RemoveRule(non_existent) = true, want false")
	}

	text := "CPF: 123.456.789-01"
	if got := m.MaskText(text); got != text {
		t.Errorf("removed rule still masking: %q", got)
	}
}

func TestRuleOrderStable(t *testing.T) {
	m := New()

	names := m.Rules()
	want := []string{RuleCPF, RuleCNPJ, RuleRG, RuleCreditCard, RulePhone, RuleEmail}
	if len(names) != len(want) {
		t.Fatalf("Rules() = %v", names)
	}
	for i, n := range want {
		if names[i] != n {
			t.Errorf("rule %d = %q, want %q", i, names[i], n)
		}
	}

	// Per-rule independence: removing one rule leaves the rest working.
	m.RemoveRule(RuleEmail)
	masked := m.MaskText("test@test.com and 123.456.789-01")
	if !strings.Contains(masked, "test@test.com") {
		t.Errorf("disabled rule still active: %q", masked)
	}
	if !strings.Contains(masked, "***.***.***-01") {
		t.Errorf("remaining rule broken: %q", masked)
	}
}

func TestInvalidPattern(t *testing.T) {
	m := New()
	if err := m.AddRule("broken", `[unclosed`); err == nil {
		t.Error("expected error for invalid pattern")
	}
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json")

	content := `{
  "rules": [
    {"name": "badge_id", "pattern": "\\bID-\\d{6}\\b"}
  ],
  "disable": ["rg"]
}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	m := New()
	if err := m.LoadRules(path); err != nil {
		t.Fatalf("LoadRules: %v", err)
	}

	masked := m.MaskText("ID-123456")
	if masked != "*********" {
		t.Errorf("custom rule mask = %q", masked)
	}

	text := "RG: 12.345.678-9"
	if got := m.MaskText(text); got != text {
		t.Errorf("disabled rule still masking: %q", got)
	}
}

func TestLoadRulesRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()

	cases := map[string]string{
		"missing_rules.json": `{"disable": ["cpf"]}`,
		"bad_shape.json":     `{"rules": [{"name": "x"}]}`,
		"not_json.json":      `rules = []`,
	}

	for name, content := range cases {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
		m := New()
		if err := m.LoadRules(path); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestMatchCounts(t *testing.T) {
	m := New()

	m.MaskText("test@example.com and other@example.com")
	m.MaskText("CPF 123.456.789-01")
	m.MaskText("nothing to mask here")

	counts := m.MatchCounts()
	if counts[RuleEmail] != 2 {
		t.Errorf("email matches = %d, want 2", counts[RuleEmail])
	}
	if counts[RuleCPF] != 1 {
		t.Errorf("cpf matches = %d, want 1", counts[RuleCPF])
	}
	if counts[RulePhone] != 0 {
		t.Errorf("phone matches = %d, want 0", counts[RulePhone])
	}
}

func TestRuleFileEditing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")

	rf, err := ReadRuleFile(path)
	if err != nil {
		t.Fatalf("ReadRuleFile missing: %v", err)
	}

	rf.SetRule("ticket", `TKT-\d+`)
	rf.SetRule("ticket", `TICKET-\d+`)
	if len(rf.Rules) != 1 || rf.Rules[0].Pattern != `TICKET-\d+` {
		t.Fatalf("SetRule should replace in place: %+v", rf.Rules)
	}

	if !rf.DeleteRule("rg") {
		t.Error("disabling a builtin should report a change")
	}
	if rf.DeleteRule("rg") {
		t.Error("disabling twice should be a no-op")
	}
	if rf.DeleteRule("no_such_rule") {
		t.Error("unknown rule should report no change")
	}

	if err := rf.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	m := New()
	if err := m.LoadRules(path); err != nil {
		t.Fatalf("LoadRules after Save: %v", err)
	}
	if got := m.MaskText("see TICKET-42"); got != "see *********" {
		t.Errorf("custom rule not applied: %q", got)
	}
	if got := m.MaskText("RG: 12.345.678-9"); got != "RG: 12.345.678-9" {
		t.Errorf("disabled builtin still masking: %q", got)
	}

	if !rf.DeleteRule("ticket") {
		t.Error("custom rule removal should report a change")
	}
	if len(rf.Rules) != 0 {
		t.Errorf("rules not empty after removal: %+v", rf.Rules)
	}
}
