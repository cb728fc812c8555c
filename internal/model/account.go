package model

import (
	"slices"
	"time"
)

// AccountLabel identifies one of the user's mail accounts.
type AccountLabel string

const (
	LabelProcoreMain    AccountLabel = "procore-main"
	LabelProcorePrivate AccountLabel = "procore-private"
	LabelPersonal       AccountLabel = "personal"
)

// DefaultScanOrder is the account order used when a scan names no labels.
var DefaultScanOrder = []AccountLabel{LabelPersonal, LabelProcorePrivate, LabelProcoreMain}

// Valid reports whether the label is one of the known account labels.
func (l AccountLabel) Valid() bool {
	return slices.Contains(DefaultScanOrder, l)
}

// ParseLabels converts raw label strings, returning the first unknown one.
// An empty input yields DefaultScanOrder.
func ParseLabels(raw []string) ([]AccountLabel, string, bool) {
	if len(raw) == 0 {
		return slices.Clone(DefaultScanOrder), "", true
	}
	out := make([]AccountLabel, 0, len(raw))
	for _, r := range raw {
		l := AccountLabel(r)
		if !l.Valid() {
			return nil, r, false
		}
		if !slices.Contains(out, l) {
			out = append(out, l)
		}
	}
	return out, "", true
}

// User owns accounts, messages, contacts and jobs.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Account is one connected mailbox.
type Account struct {
	ID           string       `json:"id"`
	UserID       string       `json:"user_id"`
	Label        AccountLabel `json:"label"`
	Email        string       `json:"email"`
	Active       bool         `json:"active"`
	Credentials  []byte       `json:"-"` // encrypted token blob
	LastSyncedAt *time.Time   `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}
