// Package triangulate deduplicates extracted specifications within a source
// and computes the cross-source consensus table.
package triangulate

import (
	"sort"

	"github.com/sells-group/speclens/internal/model"
	"github.com/sells-group/speclens/internal/normalize"
)

// Triangulate collapses duplicate and near-duplicate items produced by
// different chunks of the same source into one deduplicated,
// frequency-weighted list. Grouping keys on the canonicalized
// (attribute, option) pair, so the result is independent of item order up to
// the deterministic first-seen tie-break.
//
// minSupport drops groups below the given frequency; it is never applied to
// the expert source, which is authoritative by construction.
func Triangulate(sourceID model.SourceID, items []model.NormalizedItem, policy *normalize.Policy, minSupport int) *model.SourceResult {
	type group struct {
		attribute string
		option    string
		frequency int
	}

	groups := make(map[string]*group)
	order := make([]string, 0, len(items))

	for _, item := range items {
		attr := policy.Attribute(item.Attribute)
		if attr == "" {
			continue
		}
		opt := policy.Option(item.Option)
		key := attr + "\x00" + policy.OptionKey(item.Option)

		g, ok := groups[key]
		if !ok {
			g = &group{attribute: attr, option: opt}
			groups[key] = g
			order = append(order, key)
		} else if opt < g.option {
			// Equivalent spellings collapse onto one group; keep the
			// lexicographically smallest so output is order-independent.
			g.option = opt
		}
		g.frequency++
	}

	result := &model.SourceResult{SourceID: sourceID}

	for _, key := range order {
		g := groups[key]
		if minSupport > 1 && g.frequency < minSupport && !sourceID.IsExpert() {
			continue
		}
		result.Specs = append(result.Specs, model.SpecCount{
			Attribute: g.attribute,
			Option:    g.option,
			Frequency: g.frequency,
		})
	}

	// Frequency descending; ties by attribute then option so the output
	// does not depend on chunk completion order.
	sort.SliceStable(result.Specs, func(i, j int) bool {
		a, b := result.Specs[i], result.Specs[j]
		if a.Frequency != b.Frequency {
			return a.Frequency > b.Frequency
		}
		if a.Attribute != b.Attribute {
			return a.Attribute < b.Attribute
		}
		return a.Option < b.Option
	})

	return result
}
