// Package normalize canonicalizes extracted attribute and option strings so
// that observations from different sources collapse onto the same key.
package normalize

import (
	"os"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Policy is an injected, versioned canonicalization policy. Jobs with
// different category configurations hold independent policies; there is no
// global mutable state.
type Policy struct {
	version  string
	synonyms map[string]string
}

// SynonymFile is the on-disk shape of a synonym table.
type SynonymFile struct {
	Version string `yaml:"version"`

	// Synonyms maps attribute spellings to their canonical form, e.g.
	// "hp" -> "horsepower". Both sides are canonicalized on load.
	Synonyms map[string]string `yaml:"synonyms"`
}

// NewPolicy builds a policy from an in-memory synonym mapping.
func NewPolicy(version string, synonyms map[string]string) *Policy {
	table := make(map[string]string, len(synonyms))
	for from, to := range synonyms {
		table[clean(from)] = clean(to)
	}
	return &Policy{version: version, synonyms: table}
}

// LoadPolicy reads a synonym table from a YAML file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "normalize: read synonym table %s", path)
	}

	var file SynonymFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrapf(err, "normalize: parse synonym table %s", path)
	}

	return NewPolicy(file.Version, file.Synonyms), nil
}

// Version returns the policy version string, empty for ad-hoc policies.
func (p *Policy) Version() string {
	if p == nil {
		return ""
	}
	return p.version
}

// Attribute canonicalizes a specification name: NFKC fold, lowercase, trim,
// collapse internal whitespace, strip trailing punctuation, then map through
// the synonym table. Idempotent.
func (p *Policy) Attribute(s string) string {
	key := clean(s)
	if p != nil {
		if mapped, ok := p.synonyms[key]; ok {
			return mapped
		}
	}
	return key
}

// Option canonicalizes a value string. Options are not synonym-mapped.
func (p *Policy) Option(s string) string {
	return clean(s)
}

// OptionKey is the comparison key for options: the canonical form with all
// internal whitespace removed, so "100 kg/hr" and "100kg/hr" collapse.
func (p *Policy) OptionKey(s string) string {
	return strings.ReplaceAll(p.Option(s), " ", "")
}

// Display renders a canonical attribute for reporting: each word is
// capitalized ("motor power" -> "Motor Power").
func Display(canonical string) string {
	words := strings.Fields(canonical)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

func clean(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) && r != '/' && r != '%' && r != ')'
	})
	return strings.TrimSpace(s)
}
