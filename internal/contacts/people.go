package contacts

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
	"github.com/tooeysb/gmail-obsidian-integration/internal/ratelimit"
	"github.com/tooeysb/gmail-obsidian-integration/pkg/google"
)

// ClientFunc returns an authorized provider client for acct.
type ClientFunc func(ctx context.Context, acct model.Account) (google.Client, error)

// PeopleSource collects an account's saved contacts from the People API.
type PeopleSource struct {
	client ClientFunc
	gate   *ratelimit.Gate
}

// NewPeopleSource creates a PeopleSource. Each page waits on gate for one
// token; a nil gate does not limit.
func NewPeopleSource(client ClientFunc, gate *ratelimit.Gate) *PeopleSource {
	return &PeopleSource{client: client, gate: gate}
}

// Name identifies the source in logs.
func (p *PeopleSource) Name() string { return "people" }

// Collect pages through every connection of acct.
func (p *PeopleSource) Collect(ctx context.Context, acct model.Account) ([]model.ContactRecord, error) {
	c, err := p.client(ctx, acct)
	if err != nil {
		return nil, eris.Wrapf(err, "contacts: client for %s", acct.Label)
	}

	var out []model.ContactRecord
	token := ""
	for {
		if err := p.gate.Wait(ctx, 1); err != nil {
			return out, err
		}
		recs, next, err := c.ListConnections(ctx, token)
		if err != nil {
			return out, eris.Wrapf(err, "contacts: list connections for %s", acct.Label)
		}
		for _, r := range recs {
			r.Source = acct.Label
			out = append(out, r)
		}
		if next == "" {
			break
		}
		token = next
	}

	zap.L().Debug("contacts: collected from people api",
		zap.String("account", string(acct.Label)),
		zap.Int("records", len(out)),
	)
	return out, nil
}
