package extract

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/speclens/internal/model"
	"github.com/sells-group/speclens/internal/normalize"
)

const systemPrompt = `You extract buyer specifications from raw sales and support text.
A specification is an attribute of the product a buyer cares about (e.g. capacity,
motor power, material) together with the option value they asked for.
Respond with one pipe-separated line per distinct specification:

specification | option | frequency

frequency is the number of rows in the input that mention that exact
specification/option pair. Output only the table, no prose.`

// sourceHints steers the model toward the shape of each dataset.
var sourceHints = map[model.SourceID]string{
	model.SourceSearchKeywords:    "Each row is a search query typed by a buyer.",
	model.SourceWhatsappSpecs:     "Each row is a WhatsApp message where a buyer describes requirements.",
	model.SourceRejectionComments: "Each row is a comment explaining why a buyer rejected a supplier quote.",
	model.SourceLMSChats:          "Each row is a chat transcript line between a buyer and an agent.",
}

// LLMConfig configures the model-backed extractor.
type LLMConfig struct {
	Model       string
	MaxTokens   int64
	Temperature float64
	// RequestsPerSecond caps the call rate across all workers.
	RequestsPerSecond float64
	Burst             int
}

// DefaultLLMConfig returns the extraction defaults.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Model:             "claude-sonnet-4-5",
		MaxTokens:         4096,
		Temperature:       0,
		RequestsPerSecond: 2,
		Burst:             4,
	}
}

// LLMExtractor turns raw text chunks into normalized specification items
// by calling the Anthropic API. It implements Extractor.
type LLMExtractor struct {
	client  MessageClient
	cfg     LLMConfig
	policy  *normalize.Policy
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewLLMExtractor creates an extractor. A nil policy falls back to the
// built-in canonicalization rules.
func NewLLMExtractor(client MessageClient, cfg LLMConfig, policy *normalize.Policy) *LLMExtractor {
	if cfg.Model == "" {
		cfg = DefaultLLMConfig()
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultLLMConfig().RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &LLMExtractor{
		client:  client,
		cfg:     cfg,
		policy:  policy,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:  zap.L().Named("extract"),
	}
}

// Extract sends one chunk to the model and parses the pipe-table reply.
func (e *LLMExtractor) Extract(ctx context.Context, sourceID model.SourceID, chunk Chunk) ([]model.NormalizedItem, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "extract: rate limit wait")
	}

	temp := e.cfg.Temperature
	resp, err := e.client.CreateMessage(ctx, MessageRequest{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		System:      systemPrompt,
		Prompt:      buildPrompt(sourceID, chunk.Rows),
		Temperature: &temp,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "extract: %s chunk %d", sourceID, chunk.Index)
	}

	items := ParseSpecTable(resp.Text, e.policy)
	e.logger.Debug("chunk extracted",
		zap.String("source", string(sourceID)),
		zap.Int("chunk", chunk.Index),
		zap.Int("rows", len(chunk.Rows)),
		zap.Int("items", len(items)),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens))
	return items, nil
}

func buildPrompt(sourceID model.SourceID, rows []string) string {
	var b strings.Builder
	if hint, ok := sourceHints[sourceID]; ok {
		b.WriteString(hint)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Input rows (%d):\n", len(rows))
	for _, row := range rows {
		b.WriteString(row)
		b.WriteByte('\n')
	}
	return b.String()
}

// maxLineFrequency bounds how far a single reply line may expand. A
// frequency is a count of mentioning rows, and no chunk ever carries more
// rows than the chunker's upper bound, so anything larger is a fabricated
// count and the line is treated as malformed.
const maxLineFrequency = 8500

// ParseSpecTable parses "specification | option | frequency" lines into
// normalized items, expanding each line frequency times so downstream
// counting stays a plain tally. Malformed lines are skipped.
func ParseSpecTable(text string, policy *normalize.Policy) []model.NormalizedItem {
	var items []model.NormalizedItem
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) != 3 {
			continue
		}
		attr := policy.Attribute(parts[0])
		opt := policy.Option(parts[1])
		if attr == "" || opt == "" {
			continue
		}
		// Header or separator rows from markdown-minded replies.
		if attr == "specification" || strings.HasPrefix(attr, "---") {
			continue
		}
		freq, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil || freq < 1 || freq > maxLineFrequency {
			continue
		}
		for i := 0; i < freq; i++ {
			items = append(items, model.NormalizedItem{
				Attribute:    attr,
				Option:       opt,
				SourceWeight: 1,
			})
		}
	}
	return items
}
