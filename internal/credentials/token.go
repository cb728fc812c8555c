package credentials

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// tokenFile accepts both oauth2.Token JSON and the authorized-user files
// written by Google's Python client, which name the access token "token".
type tokenFile struct {
	AccessToken  string    `json:"access_token"`
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry"`
}

// ParseToken reads a token document. A refresh token is required.
func ParseToken(data []byte) (*oauth2.Token, error) {
	var f tokenFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "credentials: parse token")
	}
	if f.RefreshToken == "" {
		return nil, eris.New("credentials: token has no refresh_token")
	}
	tok := &oauth2.Token{
		AccessToken:  f.AccessToken,
		RefreshToken: f.RefreshToken,
		TokenType:    f.TokenType,
		Expiry:       f.Expiry,
	}
	if tok.AccessToken == "" {
		tok.AccessToken = f.Token
	}
	return tok, nil
}

// EncodeToken serializes and seals a token for storage.
func (c *Cipher) EncodeToken(tok *oauth2.Token) ([]byte, error) {
	data, err := json.Marshal(tok)
	if err != nil {
		return nil, eris.Wrap(err, "credentials: marshal token")
	}
	return c.Seal(data)
}

// DecodeToken opens a stored blob and parses the token inside.
func (c *Cipher) DecodeToken(blob []byte) (*oauth2.Token, error) {
	if len(blob) == 0 {
		return nil, eris.New("credentials: empty credential blob")
	}
	data, err := c.Open(blob)
	if err != nil {
		return nil, err
	}
	return ParseToken(data)
}

// PersistFunc stores a sealed token blob.
type PersistFunc func(ctx context.Context, blob []byte) error

// persistingSource writes every newly minted token back through persist.
type persistingSource struct {
	ctx     context.Context
	base    oauth2.TokenSource
	cipher  *Cipher
	persist PersistFunc

	mu   sync.Mutex
	last string
}

// TokenSource wraps base so refreshed tokens are sealed and persisted.
// Persist failures are logged; the fresh token is still returned.
func (c *Cipher) TokenSource(ctx context.Context, base oauth2.TokenSource, initial *oauth2.Token, persist PersistFunc) oauth2.TokenSource {
	s := &persistingSource{ctx: ctx, base: base, cipher: c, persist: persist}
	if initial != nil {
		s.last = initial.AccessToken
	}
	return s
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, eris.Wrap(err, "credentials: refresh token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken == s.last || s.persist == nil {
		return tok, nil
	}
	s.last = tok.AccessToken

	blob, err := s.cipher.EncodeToken(tok)
	if err == nil {
		err = s.persist(s.ctx, blob)
	}
	if err != nil {
		zap.L().Warn("credentials: persist refreshed token failed", zap.Error(err))
	}
	return tok, nil
}
