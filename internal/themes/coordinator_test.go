package themes

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tooeysb/gmail-obsidian-integration/internal/config"
	"github.com/tooeysb/gmail-obsidian-integration/internal/metrics"
	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
	"github.com/tooeysb/gmail-obsidian-integration/pkg/anthropic"
	"github.com/tooeysb/gmail-obsidian-integration/pkg/anthropic/mocks"
)

func testConfig() Config {
	return Config{
		Model:        "claude-haiku-4-5-20251001",
		MaxTokens:    512,
		MaxBatchSize: 3,
		PollInitial:  time.Millisecond,
		PollCap:      2 * time.Millisecond,
		PollAttempts: 5,
		PollTimeout:  time.Second,
	}
}

func messages(ids ...string) []model.Message {
	out := make([]model.Message, len(ids))
	for i, id := range ids {
		out[i] = model.Message{
			ID:          id,
			Subject:     "Subject " + id,
			SenderEmail: id + "@example.com",
			Date:        time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		}
	}
	return out
}

func textResult(id, text string) anthropic.BatchResultItem {
	return anthropic.BatchResultItem{
		CustomID: id,
		Type:     anthropic.ResultSucceeded,
		Message: &anthropic.MessageResponse{
			Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
			Usage:   anthropic.TokenUsage{InputTokens: 50, OutputTokens: 20},
		},
	}
}

func ended(id string) *anthropic.BatchResponse {
	return &anthropic.BatchResponse{ID: id, ProcessingStatus: anthropic.StatusEnded}
}

// counter reads the single-label counter name{label=value} from m.
func counter(t *testing.T, m *metrics.Metrics, name, value string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetValue() == value {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestSubmit_Validation(t *testing.T) {
	client := mocks.NewMockClient(t)
	c := New(client, testConfig())

	_, err := c.Submit(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)

	_, err = c.Submit(context.Background(), messages("a", "b", "c", "d"))
	assert.ErrorIs(t, err, ErrBatchTooLarge)

	_, err = c.Submit(context.Background(), []model.Message{{Subject: "no id"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without id")
}

func TestSubmit_BuildsRequests(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateBatch", mock.Anything, mock.MatchedBy(func(req anthropic.BatchRequest) bool {
		if len(req.Requests) != 2 {
			return false
		}
		for i, id := range []string{"m1", "m2"} {
			r := req.Requests[i]
			if r.CustomID != id || r.Params.Model != "claude-haiku-4-5-20251001" || r.Params.MaxTokens != 512 {
				return false
			}
			if len(r.Params.System) != 1 || r.Params.System[0].CacheControl == nil || r.Params.System[0].CacheControl.TTL != "1h" {
				return false
			}
		}
		return true
	})).Return(&anthropic.BatchResponse{ID: "batch_1", ProcessingStatus: anthropic.StatusInProgress}, nil).Once()

	c := New(client, testConfig())
	h, err := c.Submit(context.Background(), messages("m1", "m2", "m1"))
	require.NoError(t, err)
	assert.Equal(t, "batch_1", h.BatchID)
	assert.Equal(t, []string{"m1", "m2"}, h.IDs)
	assert.False(t, h.SubmittedAt.IsZero())
}

func TestSubmit_CreateError(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateBatch", mock.Anything, mock.Anything).Return(nil, errors.New("unauthorized")).Once()

	_, err := New(client, testConfig()).Submit(context.Background(), messages("m1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create batch")
}

func TestSubmit_Primer(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.MaxTokens == primerMaxTokens && len(req.System) == 1
	})).Return(nil, errors.New("overloaded")).Once()
	client.On("CreateBatch", mock.Anything, mock.Anything).
		Return(&anthropic.BatchResponse{ID: "batch_p"}, nil).Once()

	cfg := testConfig()
	cfg.Primer = true
	h, err := New(client, cfg).Submit(context.Background(), messages("m1"))
	require.NoError(t, err, "primer failure does not block the batch")
	assert.Equal(t, "batch_p", h.BatchID)
}

func TestProcess_PartialBatch(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateBatch", mock.Anything, mock.Anything).
		Return(&anthropic.BatchResponse{ID: "batch_2", ProcessingStatus: anthropic.StatusInProgress}, nil).Once()
	client.On("GetBatch", mock.Anything, "batch_2").
		Return(&anthropic.BatchResponse{ID: "batch_2", ProcessingStatus: anthropic.StatusInProgress}, nil).Once()
	client.On("GetBatch", mock.Anything, "batch_2").Return(ended("batch_2"), nil).Once()
	iter := mocks.NewResultIterator(
		textResult("m1", "Here you go:\n```json\n{\"explicit_topics\":[\"Q4 Budget\"],\"sentiment\":\"positive\"}\n```"),
		anthropic.BatchResultItem{CustomID: "m2", Type: anthropic.ResultErrored},
		textResult("m3", "not json at all"),
		textResult("stray", `{"explicit_topics":["x"]}`),
	)
	client.On("GetBatchResults", mock.Anything, "batch_2").Return(iter, nil).Once()

	m := metrics.New()
	c := New(client, testConfig(), WithMetrics(m))
	out, err := c.Process(context.Background(), messages("m1", "m2", "m3"))
	require.NoError(t, err)

	require.Len(t, out, 3)
	assert.Equal(t, []string{"Q4 Budget"}, out["m1"].ExplicitTopics)
	assert.Equal(t, "positive", out["m1"].Sentiment)
	assert.Equal(t, model.RelationshipUnknown, out["m1"].RelationshipContext)
	assert.Equal(t, []string{}, out["m1"].Domains)
	assert.Equal(t, model.DefaultThemes(), out["m2"])
	assert.Equal(t, model.DefaultThemes(), out["m3"])
	assert.NotContains(t, out, "stray")
	assert.True(t, iter.Closed())

	assert.Equal(t, 1.0, counter(t, m, "gmailvault_enrichment_batches_total", StatePartial))
	assert.Equal(t, 1.0, counter(t, m, "gmailvault_enrichment_items_total", "parsed"))
	assert.Equal(t, 2.0, counter(t, m, "gmailvault_enrichment_items_total", "defaulted"))
}

func TestPoll_AllSucceeded(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("GetBatch", mock.Anything, "batch_ok").Return(ended("batch_ok"), nil).Once()
	client.On("GetBatchResults", mock.Anything, "batch_ok").Return(mocks.NewResultIterator(
		textResult("m1", `{"explicit_topics":[],"implicit_interests":[],"relationship_context":"client","action_items":["Send invoice"],"sentiment":"neutral","domains":["finance"]}`),
	), nil).Once()

	m := metrics.New()
	out, err := New(client, testConfig(), WithMetrics(m)).Poll(context.Background(), &Handle{BatchID: "batch_ok", IDs: []string{"m1"}})
	require.NoError(t, err)
	assert.Equal(t, "client", out["m1"].RelationshipContext)
	assert.Equal(t, []string{"Send invoice"}, out["m1"].ActionItems)
	assert.Equal(t, 1.0, counter(t, m, "gmailvault_enrichment_batches_total", StateSucceeded))
}

func TestPoll_BatchFailed(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("GetBatch", mock.Anything, "batch_x").
		Return(&anthropic.BatchResponse{ID: "batch_x", ProcessingStatus: "expired"}, nil).Once()

	m := metrics.New()
	_, err := New(client, testConfig(), WithMetrics(m)).Poll(context.Background(), &Handle{BatchID: "batch_x", IDs: []string{"m1"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBatchFailed)
	assert.Equal(t, 1.0, counter(t, m, "gmailvault_enrichment_batches_total", StateFailed))
}

func TestPoll_Timeout(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("GetBatch", mock.Anything, "batch_slow").
		Return(&anthropic.BatchResponse{ID: "batch_slow", ProcessingStatus: anthropic.StatusInProgress}, nil)

	m := metrics.New()
	cfg := testConfig()
	cfg.PollAttempts = 2
	_, err := New(client, cfg, WithMetrics(m)).Poll(context.Background(), &Handle{BatchID: "batch_slow", IDs: []string{"m1"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPollTimeout)
	assert.Equal(t, 1.0, counter(t, m, "gmailvault_enrichment_batches_total", StateTimedOut))
}

func TestPoll_ResultsError(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("GetBatch", mock.Anything, "batch_r").Return(ended("batch_r"), nil).Once()
	iter := mocks.NewResultIterator(textResult("m1", "{}"))
	iter.Error = fmt.Errorf("stream reset")
	client.On("GetBatchResults", mock.Anything, "batch_r").Return(iter, nil).Once()

	_, err := New(client, testConfig()).Poll(context.Background(), &Handle{BatchID: "batch_r", IDs: []string{"m1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream reset")
}

func TestParseThemes(t *testing.T) {
	p, err := ParseThemes(`noise {"explicit_topics":["a {b}"],"domains":["work"]} trailing {"x":1}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"a {b}"}, p.ExplicitTopics)
	assert.Equal(t, []string{"work"}, p.Domains)
	assert.Equal(t, model.SentimentNeutral, p.Sentiment)

	_, err = ParseThemes("no object")
	assert.Error(t, err)

	_, err = ParseThemes(`{"explicit_topics": "not a list"}`)
	assert.Error(t, err)

	_, err = ParseThemes(`{"unterminated": [`)
	assert.Error(t, err)
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.AnthropicConfig{
		Model:        "m",
		MaxTokens:    99,
		MaxBatchSize: 7,
		PollInitial:  time.Second,
		PollCap:      2 * time.Second,
		PollAttempts: 3,
		PollTimeout:  time.Minute,
		Primer:       true,
	})
	assert.Equal(t, Config{
		Model:        "m",
		MaxTokens:    99,
		MaxBatchSize: 7,
		PollInitial:  time.Second,
		PollCap:      2 * time.Second,
		PollAttempts: 3,
		PollTimeout:  time.Minute,
		Primer:       true,
	}, cfg)

	c := New(nil, Config{})
	assert.Equal(t, DefaultMaxBatchSize, c.MaxBatchSize())
	assert.Equal(t, defaultModel, c.cfg.Model)
}
