package model

import "time"

// ContactRecord is one raw, per-account observation of a person.
// Optional fields are pointers so "missing" and "zero" stay distinct.
type ContactRecord struct {
	Email         string
	Name          string
	Phone         string
	Source        AccountLabel
	EmailCount    *int
	LastContactAt *time.Time
}

// Contact is an identity merged across accounts, keyed by (UserID, Email).
type Contact struct {
	ID                  string         `json:"id"`
	UserID              string         `json:"user_id"`
	Email               string         `json:"email"`
	Name                *string        `json:"name,omitempty"`
	Phone               *string        `json:"phone,omitempty"`
	AccountSources      []AccountLabel `json:"account_sources"`
	EmailCount          int            `json:"email_count"`
	LastContactAt       *time.Time     `json:"last_contact_at,omitempty"`
	Notes               string         `json:"notes,omitempty"`
	RelationshipContext string         `json:"relationship_context,omitempty"`
}

// DisplayName returns the name when set, otherwise the email.
func (c Contact) DisplayName() string {
	if c.Name != nil && *c.Name != "" {
		return *c.Name
	}
	return c.Email
}

// SourceStrings returns AccountSources as plain strings.
func (c Contact) SourceStrings() []string {
	out := make([]string, len(c.AccountSources))
	for i, s := range c.AccountSources {
		out[i] = string(s)
	}
	return out
}
