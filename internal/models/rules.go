package models

import "strings"

// LayerRules is the YAML configuration that maps uploaded file names to a
// file kind and an outline colour.
type LayerRules struct {
	DefaultKind  FileKind    `json:"defaultKind" yaml:"default_kind"`
	DefaultColor string      `json:"defaultColor" yaml:"default_color"`
	Layers       []LayerRule `json:"layers" yaml:"layers"`
}

// LayerRule matches file names with a pattern (`*` wildcards, case-insensitive).
type LayerRule struct {
	Pattern string   `json:"pattern" yaml:"pattern"`
	Kind    FileKind `json:"kind" yaml:"kind"`
	Color   string   `json:"color,omitempty" yaml:"color,omitempty"`
}

// RulesInfo contains metadata about the active rules file.
type RulesInfo struct {
	Name       string `json:"name"`
	UploadedAt string `json:"uploadedAt"`
	RuleCount  int    `json:"ruleCount"`
}

// Match returns the first layer rule whose pattern matches name.
func (r *LayerRules) Match(name string) (*LayerRule, bool) {
	for i := range r.Layers {
		if wildcardMatch(r.Layers[i].Pattern, name) {
			return &r.Layers[i], true
		}
	}
	return nil, false
}

// KindFor returns the file kind for name: the first matching rule's kind,
// else DefaultKind. ok is false when neither is set.
func (r *LayerRules) KindFor(name string) (FileKind, bool) {
	if rule, ok := r.Match(name); ok && rule.Kind != "" {
		return rule.Kind, true
	}
	if r.DefaultKind != "" {
		return r.DefaultKind, true
	}
	return "", false
}

// ColorFor returns the outline colour for name.
func (r *LayerRules) ColorFor(name string) string {
	if rule, ok := r.Match(name); ok && rule.Color != "" {
		return rule.Color
	}
	return r.DefaultColor
}

// wildcardMatch matches s against pattern where '*' spans any run of
// characters, including '/'. Comparison ignores case.
func wildcardMatch(pattern, s string) bool {
	pattern = strings.ToLower(pattern)
	s = strings.ToLower(s)

	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, p := range parts[1 : len(parts)-1] {
		i := strings.Index(s, p)
		if i < 0 {
			return false
		}
		s = s[i+len(p):]
	}
	return strings.HasSuffix(s, last)
}
