package google

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/people/v1"

	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
	"github.com/tooeysb/gmail-obsidian-integration/internal/resilience"
)

const (
	// MaxListPageSize is the largest page Gmail returns from messages.list.
	MaxListPageSize = 500

	maxConnectionsPageSize = 1000
	defaultConcurrency     = 10
	personFields           = "names,emailAddresses,phoneNumbers"
	me                     = "me"
)

var metadataHeaders = []string{"From", "To", "Subject", "Date"}

// Client reads mail metadata and contacts for one authorized account.
type Client interface {
	// ListMessageIDs returns one page of message ids matching query and the
	// token for the next page ("" on the last page).
	ListMessageIDs(ctx context.Context, query, pageToken string, pageSize int64) ([]string, string, error)
	// GetMessagesBatch fetches metadata for ids concurrently. Every id lands
	// in exactly one of the two maps.
	GetMessagesBatch(ctx context.Context, ids []string) (map[string]*model.Message, map[string]error)
	// ListConnections returns one page of the account's saved contacts.
	ListConnections(ctx context.Context, pageToken string) ([]model.ContactRecord, string, error)
}

// Option configures the client.
type Option func(*apiClient)

// WithEndpoint points both services at url instead of the Google hosts.
func WithEndpoint(url string) Option {
	return func(c *apiClient) {
		c.endpoint = url
	}
}

// WithHTTPClient overrides the OAuth2 http.Client built from the token source.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *apiClient) {
		c.http = hc
	}
}

// WithConcurrency bounds in-flight metadata requests per batch.
func WithConcurrency(n int) Option {
	return func(c *apiClient) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

type apiClient struct {
	endpoint    string
	http        *http.Client
	concurrency int
	now         func() time.Time

	gmail  *gmail.Service
	people *people.Service
}

// NewClient creates a Gmail and People API client authorized by ts.
func NewClient(ctx context.Context, ts oauth2.TokenSource, opts ...Option) (Client, error) {
	c := &apiClient{
		concurrency: defaultConcurrency,
		now:         time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		if ts == nil {
			return nil, eris.New("google: token source or http client required")
		}
		c.http = oauth2.NewClient(ctx, ts)
	}

	svcOpts := []option.ClientOption{option.WithHTTPClient(c.http)}
	if c.endpoint != "" {
		svcOpts = append(svcOpts, option.WithEndpoint(c.endpoint))
	}

	var err error
	c.gmail, err = gmail.NewService(ctx, svcOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "google: create gmail service")
	}
	c.people, err = people.NewService(ctx, svcOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "google: create people service")
	}
	return c, nil
}

func (c *apiClient) ListMessageIDs(ctx context.Context, query, pageToken string, pageSize int64) ([]string, string, error) {
	if pageSize <= 0 || pageSize > MaxListPageSize {
		pageSize = MaxListPageSize
	}
	call := c.gmail.Users.Messages.List(me).MaxResults(pageSize).Context(ctx)
	if query != "" {
		call = call.Q(query)
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Do()
	if err != nil {
		return nil, "", apiError(err, "list messages")
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, resp.NextPageToken, nil
}

func (c *apiClient) GetMessagesBatch(ctx context.Context, ids []string) (map[string]*model.Message, map[string]error) {
	msgs := make(map[string]*model.Message, len(ids))
	errs := make(map[string]error)
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			m, err := c.gmail.Users.Messages.Get(me, id).
				Format("metadata").
				MetadataHeaders(metadataHeaders...).
				Context(ctx).
				Do()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[id] = apiError(err, "get message "+id)
				return nil
			}
			msgs[id] = parseMessage(m, c.now())
			return nil
		})
	}
	_ = g.Wait()

	return msgs, errs
}

func (c *apiClient) ListConnections(ctx context.Context, pageToken string) ([]model.ContactRecord, string, error) {
	call := c.people.People.Connections.List("people/me").
		PageSize(maxConnectionsPageSize).
		PersonFields(personFields).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Do()
	if err != nil {
		return nil, "", apiError(err, "list connections")
	}

	records := make([]model.ContactRecord, 0, len(resp.Connections))
	for _, p := range resp.Connections {
		if rec, ok := parsePerson(p); ok {
			records = append(records, rec)
		}
	}
	return records, resp.NextPageToken, nil
}

// apiError wraps a Google API failure, marking 408/429/5xx as transient so
// callers can retry them.
func apiError(err error, op string) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		wrapped := eris.Wrapf(err, "google: %s: status %d", op, gerr.Code)
		if resilience.IsTransientHTTPStatus(gerr.Code) {
			return resilience.NewTransientError(wrapped, gerr.Code)
		}
		return wrapped
	}
	return eris.Wrapf(err, "google: %s", op)
}
