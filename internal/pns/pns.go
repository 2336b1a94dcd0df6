// Package pns parses the expert product-specification payload into the
// same normalized form as the crowd-sourced channels.
package pns

import (
	"bytes"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/speclens/internal/fetch"
	"github.com/sells-group/speclens/internal/model"
	"github.com/sells-group/speclens/internal/normalize"
)

// DefaultTopSpecs caps how many expert attributes are kept, ranked by
// total frequency.
const DefaultTopSpecs = 5

// container holds the four importance tiers of expert specs. Newer
// payloads nest it under spec_summary; legacy payloads put the tiers at
// the root.
type container struct {
	Primary    []entry `json:"primary_specs"`
	Secondary  []entry `json:"secondary_specs"`
	Tertiary   []entry `json:"tertiary_specs"`
	Quaternary []entry `json:"quaternary_specs"`
}

type entry struct {
	SpecName string  `json:"spec_name"`
	Values   []value `json:"values"`
}

type value struct {
	StandardizedValue string `json:"standardized_value"`
	Frequency         int    `json:"frequency"`
	SpecStatus        string `json:"spec_status"`
}

// Processor turns expert payloads into a SourceResult for the pns channel.
type Processor struct {
	policy *normalize.Policy
	topN   int
}

// NewProcessor creates a Processor. topN <= 0 uses DefaultTopSpecs.
func NewProcessor(policy *normalize.Policy, topN int) *Processor {
	if topN <= 0 {
		topN = DefaultTopSpecs
	}
	return &Processor{policy: policy, topN: topN}
}

type parsedSpec struct {
	attribute string
	specs     []model.SpecCount
	total     int
}

// Process parses the payload and returns the expert source result. The
// expert channel is never frequency-filtered; attributes are capped to the
// topN highest-frequency ones. An attribute naming the product type itself
// is metadata, not a buyer specification, and is dropped.
func (p *Processor) Process(data []byte) (*model.SourceResult, error) {
	wrapper, err := fetch.DecodeJSONObject[struct {
		SpecSummary *container `json:"spec_summary"`
	}](bytes.NewReader(data))
	if err != nil {
		return nil, eris.Wrap(err, "pns: parse payload")
	}

	tiers := wrapper.SpecSummary
	if tiers == nil {
		root, err := fetch.DecodeJSONObject[container](bytes.NewReader(data))
		if err != nil {
			return nil, eris.Wrap(err, "pns: parse payload")
		}
		tiers = root
		zap.L().Debug("pns: legacy payload with root-level spec tiers")
	}

	var specs []parsedSpec
	for _, tier := range [][]entry{tiers.Primary, tiers.Secondary, tiers.Tertiary, tiers.Quaternary} {
		for _, e := range tier {
			if strings.Contains(strings.ToLower(e.SpecName), "product type") {
				continue
			}
			if ps, ok := p.parseEntry(e); ok {
				specs = append(specs, ps)
			}
		}
	}

	// Rank attributes by total frequency and keep the top N.
	sort.SliceStable(specs, func(i, j int) bool {
		if specs[i].total != specs[j].total {
			return specs[i].total > specs[j].total
		}
		return specs[i].attribute < specs[j].attribute
	})
	if len(specs) > p.topN {
		specs = specs[:p.topN]
	}

	result := &model.SourceResult{SourceID: model.SourcePNS}
	for _, ps := range specs {
		result.Specs = append(result.Specs, ps.specs...)
	}

	zap.L().Info("pns: expert payload processed",
		zap.Int("attributes", len(specs)),
		zap.Int("specs", len(result.Specs)),
	)
	return result, nil
}

// parseEntry normalizes one expert attribute. Duplicate standardized
// values collapse into one spec; a reported frequency below one still
// counts as a single expert observation.
func (p *Processor) parseEntry(e entry) (parsedSpec, bool) {
	attr := p.policy.Attribute(e.SpecName)
	if attr == "" {
		return parsedSpec{}, false
	}

	type optionGroup struct {
		display string
		freq    int
	}
	groups := make(map[string]*optionGroup)
	var keys []string

	for _, v := range e.Values {
		opt := p.policy.Option(v.StandardizedValue)
		if opt == "" {
			continue
		}
		freq := v.Frequency
		if freq < 1 {
			freq = 1
		}

		key := p.policy.OptionKey(v.StandardizedValue)
		g, ok := groups[key]
		if !ok {
			groups[key] = &optionGroup{display: opt, freq: freq}
			keys = append(keys, key)
			continue
		}
		g.freq += freq
		if len(opt) < len(g.display) || (len(opt) == len(g.display) && opt < g.display) {
			g.display = opt
		}
	}

	if len(groups) == 0 {
		return parsedSpec{}, false
	}

	ps := parsedSpec{attribute: attr}
	for _, key := range keys {
		g := groups[key]
		ps.specs = append(ps.specs, model.SpecCount{
			Attribute: attr,
			Option:    g.display,
			Frequency: g.freq,
		})
		ps.total += g.freq
	}

	sort.SliceStable(ps.specs, func(i, j int) bool {
		if ps.specs[i].Frequency != ps.specs[j].Frequency {
			return ps.specs[i].Frequency > ps.specs[j].Frequency
		}
		return ps.specs[i].Option < ps.specs[j].Option
	})
	return ps, true
}
