package model

// SourceID identifies one independent channel of buyer-intent data.
// The core never branches on source-specific schema, only on this tag.
type SourceID string

const (
	SourceSearchKeywords    SourceID = "search_keywords"
	SourceWhatsappSpecs     SourceID = "whatsapp_specs"
	SourceRejectionComments SourceID = "rejection_comments"
	SourceLMSChats          SourceID = "lms_chats"

	// SourcePNS is the privileged expert source. It is never
	// frequency-filtered and acts as the gate in two-stage validation.
	SourcePNS SourceID = "pns"
)

// NonExpertSources lists the crowd-sourced channels in canonical order.
var NonExpertSources = []SourceID{
	SourceSearchKeywords,
	SourceWhatsappSpecs,
	SourceRejectionComments,
	SourceLMSChats,
}

// IsExpert reports whether the source is the authoritative PNS feed.
func (s SourceID) IsExpert() bool {
	return s == SourcePNS
}

// Valid reports whether the source ID is one of the configured channels.
func (s SourceID) Valid() bool {
	switch s {
	case SourceSearchKeywords, SourceWhatsappSpecs, SourceRejectionComments, SourceLMSChats, SourcePNS:
		return true
	}
	return false
}

// NormalizedItem is a single canonicalized (attribute, option) observation
// extracted from raw source data. Immutable once produced by an adapter.
type NormalizedItem struct {
	Attribute    string  `json:"attribute"`
	Option       string  `json:"option"`
	SourceWeight float64 `json:"source_weight,omitempty"`
}

// SpecCount is one deduplicated (attribute, option) pair with the number of
// normalized items collapsed into it within a single source.
type SpecCount struct {
	Attribute string `json:"attribute"`
	Option    string `json:"option"`
	Frequency int    `json:"frequency"`
}

// SourceResult is the deduplicated, frequency-weighted spec list for one
// source. Created once per source per job; never mutated afterwards.
type SourceResult struct {
	SourceID SourceID    `json:"source_id"`
	Specs    []SpecCount `json:"specs"`

	// RowsProcessed is the number of raw dataset rows fed into extraction.
	RowsProcessed int `json:"rows_processed"`

	// ChunksAttempted and ChunksFailed record the chunk scheduler's
	// partial-failure outcome for this source.
	ChunksAttempted int `json:"chunks_attempted"`
	ChunksFailed    int `json:"chunks_failed"`
}

// TopSpecs returns the first n specs, or all of them when n <= 0 or the
// list is shorter. Specs are already ordered by frequency, so this is the
// reporting cap.
func (r *SourceResult) TopSpecs(n int) []SpecCount {
	if r == nil {
		return nil
	}
	if n <= 0 || n >= len(r.Specs) {
		return r.Specs
	}
	return r.Specs[:n]
}

// HasAttribute reports whether the source surfaced at least one option for
// the given canonical attribute key.
func (r *SourceResult) HasAttribute(key string) bool {
	if r == nil {
		return false
	}
	for _, s := range r.Specs {
		if s.Attribute == key {
			return true
		}
	}
	return false
}
