package maintenance

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RelationPolicy holds the label rules used when classifying a new fact
// against existing ones.
//
// Example file:
//
//	terminations:
//	  LEFT: [WORKS_AT, MEMBER_OF]
//	  DIVORCED: [MARRIED_TO]
//	coexist:
//	  - [WORKS_AT, LIVES_IN]
type RelationPolicy struct {
	// Terminations maps a label to the labels it ends. A LEFT fact closes a
	// current WORKS_AT edge between the same entities.
	Terminations map[string][]string `yaml:"terminations"`

	// Coexist lists label pairs that may hold at the same time between the
	// same entities.
	Coexist [][]string `yaml:"coexist"`

	terminates map[string]map[string]struct{}
	coexist    map[string]map[string]struct{}
}

// DefaultRelationPolicy returns the built-in terminations.
func DefaultRelationPolicy() *RelationPolicy {
	p := &RelationPolicy{
		Terminations: map[string][]string{
			"LEFT":                   {"WORKS_AT", "WORKS_FOR", "EMPLOYED_BY", "MEMBER_OF"},
			"RESIGNED_FROM":          {"WORKS_AT", "WORKS_FOR", "EMPLOYED_BY", "CEO_OF"},
			"FIRED_FROM":             {"WORKS_AT", "WORKS_FOR", "EMPLOYED_BY"},
			"RETIRED_FROM":           {"WORKS_AT", "WORKS_FOR", "EMPLOYED_BY"},
			"DIVORCED":               {"MARRIED_TO"},
			"MOVED_OUT_OF":           {"LIVES_IN"},
			"SOLD":                   {"OWNS"},
			"ENDED_PARTNERSHIP_WITH": {"PARTNERS_WITH"},
		},
		Coexist: [][]string{
			{"WORKS_AT", "LIVES_IN"},
			{"KNOWS", "WORKS_WITH"},
		},
	}
	p.index()
	return p
}

// LoadRelationPolicy reads a policy file. An empty path returns the default
// policy.
func LoadRelationPolicy(path string) (*RelationPolicy, error) {
	if path == "" {
		return DefaultRelationPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read relation policy: %w", err)
	}
	return ParseRelationPolicy(data)
}

// ParseRelationPolicy decodes a YAML policy.
func ParseRelationPolicy(data []byte) (*RelationPolicy, error) {
	p := &RelationPolicy{}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse relation policy: %w", err)
	}
	for i, pair := range p.Coexist {
		if len(pair) != 2 {
			return nil, fmt.Errorf("coexist entry %d: expected 2 labels, got %d", i, len(pair))
		}
	}
	p.index()
	return p, nil
}

func (p *RelationPolicy) index() {
	p.terminates = make(map[string]map[string]struct{}, len(p.Terminations))
	for label, ended := range p.Terminations {
		key := normalizeLabel(label)
		if p.terminates[key] == nil {
			p.terminates[key] = make(map[string]struct{})
		}
		for _, e := range ended {
			p.terminates[key][normalizeLabel(e)] = struct{}{}
		}
	}

	p.coexist = make(map[string]map[string]struct{})
	add := func(a, b string) {
		if p.coexist[a] == nil {
			p.coexist[a] = make(map[string]struct{})
		}
		p.coexist[a][b] = struct{}{}
	}
	for _, pair := range p.Coexist {
		if len(pair) != 2 {
			continue
		}
		a, b := normalizeLabel(pair[0]), normalizeLabel(pair[1])
		add(a, b)
		add(b, a)
	}
}

// Terminates reports whether a fact labelled label ends a current edge
// labelled existing.
func (p *RelationPolicy) Terminates(label, existing string) bool {
	if p == nil {
		return false
	}
	ended := p.terminatedBy(normalizeLabel(label))
	_, ok := ended[normalizeLabel(existing)]
	return ok
}

// Coexists reports whether the two labels may hold concurrently.
func (p *RelationPolicy) Coexists(a, b string) bool {
	if p == nil {
		return false
	}
	a, b = normalizeLabel(a), normalizeLabel(b)
	if p.coexist != nil {
		_, ok := p.coexist[a][b]
		return ok
	}
	for _, pair := range p.Coexist {
		if len(pair) != 2 {
			continue
		}
		x, y := normalizeLabel(pair[0]), normalizeLabel(pair[1])
		if (x == a && y == b) || (x == b && y == a) {
			return true
		}
	}
	return false
}

// IsTermination reports whether label ends any other label.
func (p *RelationPolicy) IsTermination(label string) bool {
	if p == nil {
		return false
	}
	return len(p.terminatedBy(normalizeLabel(label))) > 0
}

// terminatedBy falls back to scanning Terminations for policies built as
// literals.
func (p *RelationPolicy) terminatedBy(label string) map[string]struct{} {
	if p.terminates != nil {
		return p.terminates[label]
	}
	out := make(map[string]struct{})
	for l, ended := range p.Terminations {
		if normalizeLabel(l) != label {
			continue
		}
		for _, e := range ended {
			out[normalizeLabel(e)] = struct{}{}
		}
	}
	return out
}

func normalizeLabel(label string) string {
	label = strings.ToUpper(strings.TrimSpace(label))
	label = strings.NewReplacer(" ", "_", "-", "_").Replace(label)
	return label
}
