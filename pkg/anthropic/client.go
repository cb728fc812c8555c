// Package anthropic is the enrichment stage's view of the Anthropic API:
// message batches, their streamed results and single primer messages used to
// warm the prompt cache.
package anthropic

import (
	"context"

	"go.uber.org/zap"
)

// Batch processing statuses.
const (
	StatusInProgress = "in_progress"
	StatusCanceling  = "canceling"
	StatusEnded      = "ended"
)

// Per-item outcomes inside an ended batch.
const (
	ResultSucceeded = "succeeded"
	ResultErrored   = "errored"
	ResultCanceled  = "canceled"
	ResultExpired   = "expired"
)

// Client is the subset of the API the themes coordinator calls.
type Client interface {
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
	CreateBatch(ctx context.Context, req BatchRequest) (*BatchResponse, error)
	GetBatch(ctx context.Context, batchID string) (*BatchResponse, error)
	GetBatchResults(ctx context.Context, batchID string) (BatchResultIterator, error)
}

// BatchResultIterator walks the results of an ended batch. Callers must Close it.
type BatchResultIterator interface {
	Next() bool
	Item() BatchResultItem
	Err() error
	Close() error
}

type MessageRequest struct {
	Model       string
	MaxTokens   int64
	System      []SystemBlock
	Messages    []Message
	Temperature *float64
}

// SystemBlock is one system prompt segment. A non-nil CacheControl places a
// cache breakpoint after it.
type SystemBlock struct {
	Text         string
	CacheControl *CacheControl
}

// CacheControl is an ephemeral cache breakpoint; TTL is "5m" or "1h".
type CacheControl struct {
	TTL string
}

// Message is a plain-text turn with Role "user" or "assistant".
type Message struct {
	Role    string
	Content string
}

type MessageResponse struct {
	ID           string
	Model        string
	Content      []ContentBlock
	StopReason   string
	StopSequence string
	Usage        TokenUsage
}

type ContentBlock struct {
	Type string
	Text string
}

// Text returns the first non-empty text block. Enrichment replies carry
// exactly one.
func (r *MessageResponse) Text() string {
	if r == nil {
		return ""
	}
	for _, b := range r.Content {
		if b.Type == "text" && b.Text != "" {
			return b.Text
		}
	}
	return ""
}

// TokenUsage counts the tokens billed for one or more responses.
type TokenUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.CacheCreationInputTokens += o.CacheCreationInputTokens
	u.CacheReadInputTokens += o.CacheReadInputTokens
	return u
}

type price struct {
	input, output float64 // USD per million tokens
}

var prices = map[string]price{
	"claude-haiku-4-5-20251001":  {input: 1.00, output: 5.00},
	"claude-sonnet-4-5-20250929": {input: 3.00, output: 15.00},
}

// Cache writes use the 1h TTL, billed at twice the input rate. Reads are a
// tenth of it. Batches are half price.
const (
	cacheWriteFactor = 2.0
	cacheReadFactor  = 0.1
	batchDiscount    = 0.5
)

// EstimateCost prices u in USD at on-demand rates. Unknown models cost 0.
func (u TokenUsage) EstimateCost(model string) float64 {
	p, ok := prices[model]
	if !ok {
		return 0
	}
	perTok := func(n int64, rate float64) float64 { return float64(n) / 1e6 * rate }
	return perTok(u.InputTokens, p.input) +
		perTok(u.OutputTokens, p.output) +
		perTok(u.CacheCreationInputTokens, p.input*cacheWriteFactor) +
		perTok(u.CacheReadInputTokens, p.input*cacheReadFactor)
}

// EstimateBatchCost prices u at the batch discount.
func (u TokenUsage) EstimateBatchCost(model string) float64 {
	return u.EstimateCost(model) * batchDiscount
}

// LogCost writes an info line attributing u to a job phase.
func (u TokenUsage) LogCost(model, phase string, batch bool) {
	cost := u.EstimateCost(model)
	if batch {
		cost = u.EstimateBatchCost(model)
	}
	zap.L().Info("cost attribution",
		zap.String("model", model),
		zap.String("phase", phase),
		zap.Bool("batch", batch),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_write_tokens", u.CacheCreationInputTokens),
		zap.Int64("cache_read_tokens", u.CacheReadInputTokens),
		zap.Float64("estimated_cost_usd", cost),
	)
}

// BatchRequest holds up to the API's per-batch request limit.
type BatchRequest struct {
	Requests []BatchRequestItem
}

// BatchRequestItem pairs a request with the CustomID its result is keyed by.
// The coordinator uses message ids.
type BatchRequestItem struct {
	CustomID string
	Params   MessageRequest
}

type BatchResponse struct {
	ID               string
	ProcessingStatus string
	ResultsURL       string
	RequestCounts    RequestCounts
}

type RequestCounts struct {
	Processing int64
	Succeeded  int64
	Errored    int64
	Canceled   int64
	Expired    int64
}

// Total is the number of requests submitted.
func (c RequestCounts) Total() int64 {
	return c.Processing + c.Succeeded + c.Errored + c.Canceled + c.Expired
}

// BatchResultItem is one line of a batch's results. Message is set only when
// Type is ResultSucceeded.
type BatchResultItem struct {
	CustomID string
	Type     string
	Message  *MessageResponse
}
