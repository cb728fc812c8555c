package anthropic

import (
	"context"

	"github.com/rotisserie/eris"
)

// CacheTTL is the lifetime of the system prompt cache breakpoint. One hour
// covers the whole polling budget of a batch.
const CacheTTL = "1h"

// BuildCachedSystemBlocks wraps text in a single system block carrying a
// 1-hour cache breakpoint.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: CacheTTL},
		},
	}
}

// PrimerRequest sends one synchronous request so the cached system prompt
// is written before a batch reads it. The usage is logged under phase.
func PrimerRequest(ctx context.Context, client Client, req MessageRequest, phase string) (*MessageResponse, error) {
	resp, err := client.CreateMessage(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: primer request")
	}
	resp.Usage.LogCost(req.Model, phase, false)
	return resp, nil
}
