// Package filter evaluates configured exclusion rules against listings
// before any photo is fetched.
package filter

import (
	"fmt"
	"log/slog"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/bakkerme/grailwatch/internal/config"
	"github.com/bakkerme/grailwatch/internal/listing"
)

type compiledRule struct {
	name    string
	program *vm.Program
}

// Filter holds compiled drop rules. Rule expressions must evaluate to a
// bool; a true result drops the listing from the pass.
type Filter struct {
	rules  []compiledRule
	logger *slog.Logger
}

func New(rules []config.FilterRule, logger *slog.Logger) (*Filter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if r.Name == "" || r.Rule == "" {
			return nil, fmt.Errorf("filter rule name and expression are required")
		}
		if r.Action != "" && r.Action != "drop" {
			return nil, fmt.Errorf("filter rule %s: unsupported action %q", r.Name, r.Action)
		}
		program, err := expr.Compile(r.Rule, expr.Env(map[string]interface{}{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile filter rule %s: %w", r.Name, err)
		}
		compiled = append(compiled, compiledRule{name: r.Name, program: program})
	}
	return &Filter{rules: compiled, logger: logger}, nil
}

// ShouldDrop reports whether any rule drops the listing, and which one.
// Rules that fail to evaluate are logged and skipped so a bad expression
// never suppresses alerts.
func (f *Filter) ShouldDrop(l listing.Listing) (bool, string) {
	if len(f.rules) == 0 {
		return false, ""
	}
	env := listingEnv(l)
	for _, rule := range f.rules {
		result, err := expr.Run(rule.program, env)
		if err != nil {
			f.logger.Warn("filter rule failed", "rule", rule.name, "site", l.Site, "url", l.URL, "error", err)
			continue
		}
		matched, ok := result.(bool)
		if !ok {
			f.logger.Warn("filter rule did not return bool", "rule", rule.name, "site", l.Site, "url", l.URL)
			continue
		}
		if matched {
			return true, rule.name
		}
	}
	return false, ""
}

func listingEnv(l listing.Listing) map[string]interface{} {
	return map[string]interface{}{
		"site": l.Site,
		"url":  l.URL,
		"title": map[string]interface{}{
			"value":  l.Title,
			"length": len(l.Title),
		},
		"images": map[string]interface{}{
			"count": len(l.ImageURLs),
		},
	}
}
