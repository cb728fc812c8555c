// Package themes tags messages with AI-derived themes through the message
// batches API.
package themes

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tooeysb/gmail-obsidian-integration/internal/config"
	"github.com/tooeysb/gmail-obsidian-integration/internal/metrics"
	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
	"github.com/tooeysb/gmail-obsidian-integration/pkg/anthropic"
)

// DefaultMaxBatchSize caps the number of messages per submitted batch.
const DefaultMaxBatchSize = 100

const (
	defaultModel     = "claude-haiku-4-5-20251001"
	defaultMaxTokens = 1024
	primerMaxTokens  = 16
)

// Batch outcomes recorded in metrics and logs.
const (
	StateSucceeded = "succeeded"
	StatePartial   = "partial"
	StateFailed    = "failed"
	StateTimedOut  = "timed_out"
)

var (
	// ErrEmptyBatch is returned by Submit when there is nothing to send.
	ErrEmptyBatch = errors.New("themes: empty batch")
	// ErrBatchTooLarge is returned by Submit when the items exceed the
	// configured maximum.
	ErrBatchTooLarge = errors.New("themes: batch too large")
	// ErrPollTimeout is returned by Poll when the batch did not end in time.
	ErrPollTimeout = anthropic.ErrPollTimeout
	// ErrBatchFailed is returned by Poll when the batch stopped in any state
	// other than ended.
	ErrBatchFailed = anthropic.ErrBatchFailed
)

// Config tunes the coordinator.
type Config struct {
	Model        string
	MaxTokens    int64
	MaxBatchSize int
	PollInitial  time.Duration
	PollCap      time.Duration
	PollAttempts int
	PollTimeout  time.Duration
	// Primer sends one synchronous request before each batch so the
	// system prompt cache is written once.
	Primer bool
}

// ConfigFrom maps the anthropic config section.
func ConfigFrom(c config.AnthropicConfig) Config {
	return Config{
		Model:        c.Model,
		MaxTokens:    c.MaxTokens,
		MaxBatchSize: c.MaxBatchSize,
		PollInitial:  c.PollInitial,
		PollCap:      c.PollCap,
		PollAttempts: c.PollAttempts,
		PollTimeout:  c.PollTimeout,
		Primer:       c.Primer,
	}
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	return c
}

func (c Config) pollOptions() []anthropic.PollOption {
	return []anthropic.PollOption{
		anthropic.WithPollInterval(c.PollInitial),
		anthropic.WithPollCap(c.PollCap),
		anthropic.WithPollAttempts(c.PollAttempts),
		anthropic.WithPollTimeout(c.PollTimeout),
	}
}

// Handle identifies a submitted batch and the message ids it covers.
type Handle struct {
	BatchID     string
	IDs         []string
	SubmittedAt time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMetrics records batch outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// Coordinator submits messages as one batch, waits for it and turns the
// results into theme payloads.
type Coordinator struct {
	client  anthropic.Client
	cfg     Config
	system  []anthropic.SystemBlock
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a Coordinator.
func New(client anthropic.Client, cfg Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		client: client,
		cfg:    cfg.withDefaults(),
		system: anthropic.BuildCachedSystemBlocks(SystemPrompt),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxBatchSize is the largest item count Submit accepts.
func (c *Coordinator) MaxBatchSize() int { return c.cfg.MaxBatchSize }

// Submit sends one request per message, keyed by message id. Repeated ids
// are sent once.
func (c *Coordinator) Submit(ctx context.Context, items []model.Message) (*Handle, error) {
	if len(items) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(items) > c.cfg.MaxBatchSize {
		return nil, eris.Wrapf(ErrBatchTooLarge, "themes: %d items, max %d", len(items), c.cfg.MaxBatchSize)
	}

	seen := make(map[string]bool, len(items))
	ids := make([]string, 0, len(items))
	reqs := make([]anthropic.BatchRequestItem, 0, len(items))
	for _, m := range items {
		if m.ID == "" {
			return nil, eris.New("themes: message without id")
		}
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		ids = append(ids, m.ID)
		reqs = append(reqs, anthropic.BatchRequestItem{
			CustomID: m.ID,
			Params:   c.request(UserPrompt(m), c.cfg.MaxTokens),
		})
	}

	if c.cfg.Primer {
		c.prime(ctx)
	}

	batch, err := c.client.CreateBatch(ctx, anthropic.BatchRequest{Requests: reqs})
	if err != nil {
		return nil, eris.Wrap(err, "themes: create batch")
	}

	zap.L().Info("themes: batch submitted",
		zap.String("batch_id", batch.ID),
		zap.Int("items", len(ids)),
	)
	return &Handle{BatchID: batch.ID, IDs: ids, SubmittedAt: c.now()}, nil
}

// Poll waits for the batch to end and returns one payload per submitted id.
// Items that failed remotely or returned unparseable text get
// model.DefaultThemes().
func (c *Coordinator) Poll(ctx context.Context, h *Handle) (map[string]model.ThemePayload, error) {
	log := zap.L().With(zap.String("batch_id", h.BatchID))

	if _, err := anthropic.PollBatch(ctx, c.client, h.BatchID, c.cfg.pollOptions()...); err != nil {
		switch {
		case errors.Is(err, ErrPollTimeout):
			c.metrics.EnrichmentBatch(StateTimedOut, 0, 0)
		case ctx.Err() == nil:
			c.metrics.EnrichmentBatch(StateFailed, 0, 0)
		}
		return nil, eris.Wrap(err, "themes: poll batch")
	}

	iter, err := c.client.GetBatchResults(ctx, h.BatchID)
	if err != nil {
		c.metrics.EnrichmentBatch(StateFailed, 0, 0)
		return nil, eris.Wrap(err, "themes: get batch results")
	}
	collected, err := anthropic.CollectBatchResultsDetailed(iter)
	if err != nil {
		c.metrics.EnrichmentBatch(StateFailed, 0, 0)
		return nil, eris.Wrap(err, "themes: collect batch results")
	}
	collected.Usage.LogCost(c.cfg.Model, "themes", true)

	out := make(map[string]model.ThemePayload, len(h.IDs))
	parsed, defaulted := 0, 0
	for _, id := range h.IDs {
		resp, ok := collected.Succeeded[id]
		if !ok {
			out[id] = model.DefaultThemes()
			defaulted++
			continue
		}
		payload, err := ParseThemes(resp.Text())
		if err != nil {
			log.Warn("themes: unparseable result", zap.String("message_id", id), zap.Error(err))
			out[id] = model.DefaultThemes()
			defaulted++
			continue
		}
		out[id] = payload
		parsed++
	}

	state := StateSucceeded
	if defaulted > 0 {
		state = StatePartial
	}
	c.metrics.EnrichmentBatch(state, parsed, defaulted)
	log.Info("themes: batch collected",
		zap.String("state", state),
		zap.Int("parsed", parsed),
		zap.Int("defaulted", defaulted),
	)
	return out, nil
}

// Process submits items and waits for their payloads.
func (c *Coordinator) Process(ctx context.Context, items []model.Message) (map[string]model.ThemePayload, error) {
	h, err := c.Submit(ctx, items)
	if err != nil {
		return nil, err
	}
	return c.Poll(ctx, h)
}

// prime writes the system prompt cache. Failures only cost the cache.
func (c *Coordinator) prime(ctx context.Context) {
	req := c.request("Reply with {}.", primerMaxTokens)
	if _, err := anthropic.PrimerRequest(ctx, c.client, req, "themes_primer"); err != nil {
		zap.L().Warn("themes: primer failed", zap.Error(err))
	}
}

func (c *Coordinator) request(prompt string, maxTokens int64) anthropic.MessageRequest {
	return anthropic.MessageRequest{
		Model:     c.cfg.Model,
		MaxTokens: maxTokens,
		System:    c.system,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	}
}

// ParseThemes locates the first JSON object in text and decodes it. Missing
// fields are filled with their defaults.
func ParseThemes(text string) (model.ThemePayload, error) {
	obj, ok := firstJSONObject(text)
	if !ok {
		return model.ThemePayload{}, eris.New("themes: no json object in response")
	}
	var p model.ThemePayload
	if err := json.Unmarshal([]byte(obj), &p); err != nil {
		return model.ThemePayload{}, eris.Wrap(err, "themes: decode payload")
	}
	return p.WithDefaults(), nil
}

// firstJSONObject returns the first balanced {...} span of text, skipping
// braces inside strings.
func firstJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		ch := text[i]
		switch {
		case escaped:
			escaped = false
		case inString && ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
