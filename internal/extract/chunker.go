// Package extract splits source datasets into bounded chunks and fans out
// extraction calls to the text-understanding adapter with bounded
// concurrency and per-chunk retry.
package extract

// Chunk is a contiguous run of logical dataset records. Chunk boundaries
// never split a record.
type Chunk struct {
	Index int
	Rows  []string
}

// ChunkerConfig bounds the number of records per chunk.
type ChunkerConfig struct {
	MinRows int
	MaxRows int
}

// DefaultChunkerConfig mirrors the adaptive row budgets the extraction
// adapter's context window tolerates.
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{MinRows: 3000, MaxRows: 8500}
}

func (c ChunkerConfig) sanitized() ChunkerConfig {
	if c.MaxRows <= 0 {
		c = DefaultChunkerConfig()
	}
	if c.MinRows <= 0 {
		c.MinRows = 1
	}
	if c.MinRows > c.MaxRows {
		c.MinRows = c.MaxRows
	}
	return c
}

// BuildChunks splits rows into contiguous chunks sized within
// [MinRows, MaxRows], choosing the chunk count to keep sizes balanced. A
// dataset smaller than MinRows yields a single undersized chunk.
func BuildChunks(rows []string, cfg ChunkerConfig) []Chunk {
	cfg = cfg.sanitized()

	if len(rows) == 0 {
		return nil
	}
	if len(rows) <= cfg.MaxRows {
		return []Chunk{{Index: 0, Rows: rows}}
	}

	count := (len(rows) + cfg.MaxRows - 1) / cfg.MaxRows
	size := (len(rows) + count - 1) / count
	if size < cfg.MinRows {
		size = cfg.MinRows
	}

	chunks := make([]Chunk, 0, count)
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Rows: rows[start:end]})
	}
	return chunks
}
