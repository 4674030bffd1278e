package agent

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"keyrecall/internal/config"
	"keyrecall/internal/logging"
	"keyrecall/internal/window"
)

// CapturedEvent is a classified key transition with its window context,
// alive only between capture and flush.
type CapturedEvent struct {
	Timestamp     time.Time
	Symbol        string
	Transition    string
	Window        *window.Info
	IsModifier    bool
	IsFunctionKey bool
}

// Filter decides which captured events survive to the buffer. Rules
// are evaluated in order and independently; the first match drops the
// event. Events without window context never match the window rules.
type Filter struct {
	mu                  sync.RWMutex
	captureModifiers    bool
	captureFunctionKeys bool
	ignoredApps         []string
	ignoredPatterns     []*regexp.Regexp
	log                 *logging.Logger
}

// NewFilter builds a Filter from capture configuration. An invalid
// window pattern disables only that pattern.
func NewFilter(cfg config.CaptureConfig, log *logging.Logger) *Filter {
	if log == nil {
		log = logging.Default()
	}
	f := &Filter{log: log.WithComponent("filter")}
	f.Update(cfg)
	return f
}

// Update replaces the filter rules from new configuration.
func (f *Filter) Update(cfg config.CaptureConfig) {
	apps := make([]string, 0, len(cfg.IgnoredApplications))
	for _, a := range cfg.IgnoredApplications {
		if a != "" {
			apps = append(apps, strings.ToLower(a))
		}
	}

	patterns := make([]*regexp.Regexp, 0, len(cfg.IgnoredWindowPatterns))
	for _, p := range cfg.IgnoredWindowPatterns {
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			f.log.Warn("ignoring invalid window pattern", "pattern", p, "error", err)
			continue
		}
		patterns = append(patterns, re)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.captureModifiers = cfg.CaptureModifiers
	f.captureFunctionKeys = cfg.CaptureFunctionKeys
	f.ignoredApps = apps
	f.ignoredPatterns = patterns
}

// ShouldDrop reports whether the event must not reach the buffer.
func (f *Filter) ShouldDrop(ev CapturedEvent) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if ev.IsModifier && !f.captureModifiers {
		return true
	}
	if ev.IsFunctionKey && !f.captureFunctionKeys {
		return true
	}
	if ev.Window == nil {
		return false
	}

	if ev.Window.Application != "" {
		app := strings.ToLower(ev.Window.Application)
		for _, ignored := range f.ignoredApps {
			if strings.Contains(app, ignored) {
				return true
			}
		}
	}
	if ev.Window.Title != "" {
		for _, re := range f.ignoredPatterns {
			if re.MatchString(ev.Window.Title) {
				return true
			}
		}
	}
	return false
}
