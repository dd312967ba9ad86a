package weights

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/modelexport/internal/tensor"
)

// PrefixRule replaces a leading From with To.
type PrefixRule struct {
	From string `yaml:"from" mapstructure:"from"`
	To   string `yaml:"to" mapstructure:"to"`
}

// Rewriter renames state dict keys by prefix. For each key the first rule
// whose From matches is applied; keys matching no rule are kept.
type Rewriter struct {
	Rules []PrefixRule
}

// DefaultRewriter strips the "module." prefix that DataParallel wrappers
// add to every key.
func DefaultRewriter() *Rewriter {
	return &Rewriter{Rules: []PrefixRule{{From: "module.", To: ""}}}
}

// ParsePrefixRules parses rules written as "from=to" ("module.=" strips).
func ParsePrefixRules(specs []string) ([]PrefixRule, error) {
	rules := make([]PrefixRule, 0, len(specs))
	for _, spec := range specs {
		from, to, ok := strings.Cut(spec, "=")
		if !ok || from == "" {
			return nil, errors.Errorf("invalid prefix rule %q, want from=to", spec)
		}
		rules = append(rules, PrefixRule{From: from, To: to})
	}
	return rules, nil
}

// Rename returns the rewritten form of key.
func (rw *Rewriter) Rename(key string) string {
	for _, rule := range rw.Rules {
		if rest, ok := strings.CutPrefix(key, rule.From); ok {
			return rule.To + rest
		}
	}
	return key
}

// Apply returns a copy of sd with every key renamed, plus the number of
// keys that changed. When two keys rename to the same name, the one that
// was already in that form wins and the other keeps its original name.
func (rw *Rewriter) Apply(sd map[string]*tensor.RawTensor) (map[string]*tensor.RawTensor, int) {
	out := make(map[string]*tensor.RawTensor, len(sd))
	renamed := 0
	for _, key := range sortedKeys(sd) {
		if rw.Rename(key) == key {
			out[key] = sd[key]
		}
	}
	for _, key := range sortedKeys(sd) {
		name := rw.Rename(key)
		if name == key {
			continue
		}
		if _, taken := out[name]; taken {
			out[key] = sd[key]
			continue
		}
		out[name] = sd[key]
		renamed++
	}
	return out, renamed
}
