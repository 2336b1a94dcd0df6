package triangulate

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/speclens/internal/model"
	"github.com/sells-group/speclens/internal/normalize"
)

// ConsensusOptions configures the cross-source consensus computation.
type ConsensusOptions struct {
	// ExpertPresenceRequired enables two-stage validation: attributes the
	// expert source does not confirm are dropped from the final table.
	ExpertPresenceRequired bool

	// NonExpertSources is the configured set of crowd-sourced channels.
	// The agreement score ranges over exactly these, whether or not a
	// source produced results for this job.
	NonExpertSources []model.SourceID
}

// Consensus merges the deduplicated per-source results into a ranked table
// with per-source presence flags and an agreement score.
//
// The agreement score counts non-expert sources only; the expert source is
// reported in the presence map and acts as the two-stage gate, but never
// contributes to the score. Absent sources count as presence=false
// everywhere.
func Consensus(results map[model.SourceID]*model.SourceResult, opts ConsensusOptions) ([]model.ConsensusRow, error) {
	nonExpert := opts.NonExpertSources
	if len(nonExpert) == 0 {
		nonExpert = model.NonExpertSources
	}

	for id, r := range results {
		if err := validateSourceResult(id, r); err != nil {
			return nil, err
		}
	}

	// Union of attributes across all sources, canonical form.
	attrs := make([]string, 0)
	seen := make(map[string]bool)
	for _, r := range results {
		for _, s := range r.Specs {
			if !seen[s.Attribute] {
				seen[s.Attribute] = true
				attrs = append(attrs, s.Attribute)
			}
		}
	}

	expert := results[model.SourcePNS]

	rows := make([]model.ConsensusRow, 0, len(attrs))
	for _, attr := range attrs {
		presence := make(map[model.SourceID]bool, len(nonExpert)+1)
		score := 0
		for _, id := range nonExpert {
			p := results[id].HasAttribute(attr)
			presence[id] = p
			if p {
				score++
			}
		}
		presence[model.SourcePNS] = expert.HasAttribute(attr)

		if opts.ExpertPresenceRequired && !presence[model.SourcePNS] {
			zap.L().Debug("consensus: dropping attribute without expert confirmation",
				zap.String("attribute", attr),
				zap.Int("agreement_score", score),
			)
			continue
		}

		options, total := collectOptions(attr, presence, results)

		rows = append(rows, model.ConsensusRow{
			Attribute:      normalize.Display(attr),
			Options:        options,
			AgreementScore: score,
			TotalFrequency: total,
			Presence:       presence,
		})
	}

	// Score descending, then total frequency descending, then attribute
	// ascending. Stable and deterministic.
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.AgreementScore != b.AgreementScore {
			return a.AgreementScore > b.AgreementScore
		}
		if a.TotalFrequency != b.TotalFrequency {
			return a.TotalFrequency > b.TotalFrequency
		}
		return a.Attribute < b.Attribute
	})

	for i := range rows {
		rows[i].Rank = i + 1
	}

	return rows, nil
}

// collectOptions builds the deduplicated option union for an attribute
// across presence-true sources, ordered by combined frequency descending.
// Options differing only in whitespace collapse onto one entry.
func collectOptions(attr string, presence map[model.SourceID]bool, results map[model.SourceID]*model.SourceResult) ([]string, int) {
	type optGroup struct {
		display   string
		frequency int
	}

	groups := make(map[string]*optGroup)
	totalFrequency := 0

	for id, r := range results {
		if !presence[id] {
			continue
		}
		for _, s := range r.Specs {
			if s.Attribute != attr {
				continue
			}
			totalFrequency += s.Frequency
			key := strings.ReplaceAll(s.Option, " ", "")
			g, ok := groups[key]
			if !ok {
				groups[key] = &optGroup{display: s.Option, frequency: s.Frequency}
				continue
			}
			g.frequency += s.Frequency
			// Deterministic representative: shortest spelling, then lexicographic.
			if len(s.Option) < len(g.display) || (len(s.Option) == len(g.display) && s.Option < g.display) {
				g.display = s.Option
			}
		}
	}

	ordered := make([]*optGroup, 0, len(groups))
	for _, g := range groups {
		ordered = append(ordered, g)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].frequency != ordered[j].frequency {
			return ordered[i].frequency > ordered[j].frequency
		}
		return ordered[i].display < ordered[j].display
	})

	options := make([]string, len(ordered))
	for i, g := range ordered {
		options[i] = g.display
	}
	return options, totalFrequency
}

func validateSourceResult(id model.SourceID, r *model.SourceResult) error {
	if r == nil {
		return nil
	}
	if r.SourceID != id {
		return eris.Errorf("consensus: source result keyed %s but tagged %s", id, r.SourceID)
	}
	for _, s := range r.Specs {
		if s.Attribute == "" {
			return eris.Errorf("consensus: empty attribute in %s result", id)
		}
		if s.Frequency < 1 {
			return eris.Errorf("consensus: frequency %d < 1 for %s %q", s.Frequency, id, s.Attribute)
		}
	}
	return nil
}
