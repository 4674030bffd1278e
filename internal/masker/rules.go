package masker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ruleFileSchema validates custom rule files before any pattern compiles.
const ruleFileSchema = `{
  "type": "object",
  "properties": {
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "pattern": {"type": "string", "minLength": 1}
        },
        "required": ["name", "pattern"],
        "additionalProperties": false
      }
    },
    "disable": {
      "type": "array",
      "items": {"type": "string"}
    }
  },
  "required": ["rules"],
  "additionalProperties": false
}`

var compiledRuleSchema = jsonschema.MustCompileString("rules.schema.json", ruleFileSchema)

// RuleFile is the format of a custom masking rules file.
type RuleFile struct {
	// Rules are appended after the built-in rules, in file order.
	Rules []CustomRule `json:"rules"`

	// Disable lists built-in rule names to turn off.
	Disable []string `json:"disable,omitempty"`
}

// CustomRule is a user-supplied masking rule. Matches are replaced with
// asterisks of equal length.
type CustomRule struct {
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
}

// LoadRules reads, validates, and applies a custom rules file.
func (m *Masker) LoadRules(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rules file: %w", err)
	}

	var doc any
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		return fmt.Errorf("parse rules file: %w", err)
	}
	if err := compiledRuleSchema.Validate(doc); err != nil {
		return fmt.Errorf("invalid rules file: %w", err)
	}

	var rf RuleFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return fmt.Errorf("decode rules file: %w", err)
	}

	for _, name := range rf.Disable {
		m.RemoveRule(name)
	}
	for _, r := range rf.Rules {
		if err := m.AddRule(r.Name, r.Pattern); err != nil {
			return err
		}
	}
	return nil
}

// ReadRuleFile loads a rules file without applying it. A missing file
// yields an empty RuleFile so callers can build one up.
func ReadRuleFile(path string) (*RuleFile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &RuleFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var rf RuleFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("decode rules file: %w", err)
	}
	return &rf, nil
}

// SetRule adds or replaces a custom rule by name.
func (rf *RuleFile) SetRule(name, pattern string) {
	for i := range rf.Rules {
		if rf.Rules[i].Name == name {
			rf.Rules[i].Pattern = pattern
			return
		}
	}
	rf.Rules = append(rf.Rules, CustomRule{Name: name, Pattern: pattern})
}

// DeleteRule removes a custom rule, or disables a built-in one. It
// reports whether anything changed.
func (rf *RuleFile) DeleteRule(name string) bool {
	for i := range rf.Rules {
		if rf.Rules[i].Name == name {
			rf.Rules = append(rf.Rules[:i], rf.Rules[i+1:]...)
			return true
		}
	}
	switch name {
	case RuleCPF, RuleCNPJ, RuleRG, RuleCreditCard, RulePhone, RuleEmail:
		for _, d := range rf.Disable {
			if d == name {
				return false
			}
		}
		rf.Disable = append(rf.Disable, name)
		return true
	}
	return false
}

// Save writes the rule file atomically.
func (rf *RuleFile) Save(path string) error {
	if rf.Rules == nil {
		rf.Rules = []CustomRule{}
	}
	data, err := json.MarshalIndent(rf, "", "  ")
	if err != nil {
		return fmt.Errorf("encode rules file: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write rules file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace rules file: %w", err)
	}
	return nil
}

// WatchRules reloads the rules file when it changes. Errors during a
// reload are reported on the returned channel and the previous rules
// stay in effect. Close stop to end the watch.
func (m *Masker) WatchRules(path string, stop <-chan struct{}) (<-chan error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch rules directory: %w", err)
	}

	errs := make(chan error, 1)
	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		for {
			select {
			case <-stop:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != filepath.Base(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(100*time.Millisecond, func() {
					if err := m.LoadRules(path); err != nil {
						select {
						case errs <- err:
						default:
						}
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				select {
				case errs <- err:
				default:
				}
			}
		}
	}()
	return errs, nil
}
