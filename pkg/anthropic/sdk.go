package anthropic

import (
	"context"
	"errors"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/jsonl"
	"github.com/rotisserie/eris"

	"github.com/tooeysb/gmail-obsidian-integration/internal/resilience"
)

type sdkClient struct {
	client sdk.Client
}

// NewClient returns a Client on anthropic-sdk-go. opts go to the SDK after
// the API key, so tests can point it at a local server.
func NewClient(apiKey string, opts ...option.RequestOption) Client {
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &sdkClient{client: sdk.NewClient(all...)}
}

func (c *sdkClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  messageParams(req.Messages),
		System:    systemParams(req.System),
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classify(err, "anthropic: create message")
	}
	return toResponse(msg), nil
}

func (c *sdkClient) CreateBatch(ctx context.Context, req BatchRequest) (*BatchResponse, error) {
	items := make([]sdk.MessageBatchNewParamsRequest, 0, len(req.Requests))
	for _, r := range req.Requests {
		p := sdk.MessageBatchNewParamsRequestParams{
			Model:     sdk.Model(r.Params.Model),
			MaxTokens: r.Params.MaxTokens,
			Messages:  messageParams(r.Params.Messages),
			System:    systemParams(r.Params.System),
		}
		if r.Params.Temperature != nil {
			p.Temperature = sdk.Float(*r.Params.Temperature)
		}
		items = append(items, sdk.MessageBatchNewParamsRequest{CustomID: r.CustomID, Params: p})
	}

	batch, err := c.client.Messages.Batches.New(ctx, sdk.MessageBatchNewParams{Requests: items})
	if err != nil {
		return nil, classify(err, "anthropic: create batch")
	}
	return toBatch(batch), nil
}

func (c *sdkClient) GetBatch(ctx context.Context, batchID string) (*BatchResponse, error) {
	batch, err := c.client.Messages.Batches.Get(ctx, batchID)
	if err != nil {
		return nil, classify(err, "anthropic: get batch "+batchID)
	}
	return toBatch(batch), nil
}

func (c *sdkClient) GetBatchResults(ctx context.Context, batchID string) (BatchResultIterator, error) {
	stream := c.client.Messages.Batches.ResultsStreaming(ctx, batchID)
	if err := stream.Err(); err != nil {
		return nil, classify(err, "anthropic: get batch results "+batchID)
	}
	return &resultStream{stream: stream}, nil
}

// resultStream adapts the SDK's jsonl stream to BatchResultIterator.
type resultStream struct {
	stream *jsonl.Stream[sdk.MessageBatchIndividualResponse]
	cur    BatchResultItem
}

func (s *resultStream) Next() bool {
	if !s.stream.Next() {
		return false
	}
	r := s.stream.Current()
	s.cur = BatchResultItem{CustomID: r.CustomID, Type: r.Result.Type}
	if r.Result.Type == ResultSucceeded {
		msg := r.Result.Message
		s.cur.Message = toResponse(&msg)
	}
	return true
}

func (s *resultStream) Item() BatchResultItem { return s.cur }
func (s *resultStream) Err() error            { return s.stream.Err() }
func (s *resultStream) Close() error          { return s.stream.Close() }

// classify wraps err and marks retryable API statuses (429, 5xx, 529
// overloaded) as transient.
func classify(err error, msg string) error {
	wrapped := eris.Wrap(err, msg)
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
		return resilience.NewTransientError(wrapped, apiErr.StatusCode)
	}
	return wrapped
}

func messageParams(msgs []Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		block := sdk.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			out = append(out, sdk.NewAssistantMessage(block))
			continue
		}
		out = append(out, sdk.NewUserMessage(block))
	}
	return out
}

// systemParams returns nil for no blocks so the field is omitted.
func systemParams(blocks []SystemBlock) []sdk.TextBlockParam {
	if len(blocks) == 0 {
		return nil
	}
	out := make([]sdk.TextBlockParam, len(blocks))
	for i, b := range blocks {
		out[i] = sdk.TextBlockParam{Text: b.Text}
		if b.CacheControl == nil {
			continue
		}
		cc := sdk.NewCacheControlEphemeralParam()
		if b.CacheControl.TTL != "" {
			cc.TTL = sdk.CacheControlEphemeralTTL(b.CacheControl.TTL)
		}
		out[i].CacheControl = cc
	}
	return out
}

func toResponse(msg *sdk.Message) *MessageResponse {
	resp := &MessageResponse{
		ID:           msg.ID,
		Model:        string(msg.Model),
		StopReason:   string(msg.StopReason),
		StopSequence: msg.StopSequence,
		Content:      make([]ContentBlock, 0, len(msg.Content)),
		Usage: TokenUsage{
			InputTokens:              msg.Usage.InputTokens,
			OutputTokens:             msg.Usage.OutputTokens,
			CacheCreationInputTokens: msg.Usage.CacheCreationInputTokens,
			CacheReadInputTokens:     msg.Usage.CacheReadInputTokens,
		},
	}
	for _, b := range msg.Content {
		resp.Content = append(resp.Content, ContentBlock{Type: b.Type, Text: b.Text})
	}
	return resp
}

func toBatch(b *sdk.MessageBatch) *BatchResponse {
	c := b.RequestCounts
	return &BatchResponse{
		ID:               b.ID,
		ProcessingStatus: string(b.ProcessingStatus),
		ResultsURL:       b.ResultsURL,
		RequestCounts: RequestCounts{
			Processing: c.Processing,
			Succeeded:  c.Succeeded,
			Errored:    c.Errored,
			Canceled:   c.Canceled,
			Expired:    c.Expired,
		},
	}
}
