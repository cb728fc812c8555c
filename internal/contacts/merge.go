// Package contacts reconciles per-account contact observations into one
// contact per normalized email address.
package contacts

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
)

// Store persists merged contacts.
type Store interface {
	UpsertContacts(ctx context.Context, userID string, contacts []model.Contact) (int64, error)
}

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Merge groups records by normalized email and folds each group into one
// Contact. Output order follows the first appearance of each email.
// Records without an email are dropped.
func Merge(records []model.ContactRecord) []model.Contact {
	groups := make(map[string][]model.ContactRecord)
	var order []string
	for _, r := range records {
		email := NormalizeEmail(r.Email)
		if email == "" {
			continue
		}
		if _, ok := groups[email]; !ok {
			order = append(order, email)
		}
		groups[email] = append(groups[email], r)
	}

	out := make([]model.Contact, 0, len(order))
	for _, email := range order {
		out = append(out, mergeGroup(email, groups[email]))
	}
	return out
}

func mergeGroup(email string, group []model.ContactRecord) model.Contact {
	c := model.Contact{
		Email:          email,
		AccountSources: []model.AccountLabel{},
		Name:           resolveName(group),
		Phone:          resolvePhone(group),
		LastContactAt:  resolveLastContact(group),
	}
	for _, r := range group {
		if r.Source != "" && !slices.Contains(c.AccountSources, r.Source) {
			c.AccountSources = append(c.AccountSources, r.Source)
		}
		if r.EmailCount != nil {
			c.EmailCount += *r.EmailCount
		}
	}
	return c
}

// resolveName prefers the most recently seen non-empty name. Records with
// no timestamp sort last; ties keep input order.
func resolveName(group []model.ContactRecord) *string {
	sorted := slices.Clone(group)
	slices.SortStableFunc(sorted, func(a, b model.ContactRecord) int {
		switch {
		case a.LastContactAt == nil && b.LastContactAt == nil:
			return 0
		case a.LastContactAt == nil:
			return 1
		case b.LastContactAt == nil:
			return -1
		}
		return b.LastContactAt.Compare(*a.LastContactAt)
	})
	for _, r := range sorted {
		if name := strings.TrimSpace(r.Name); name != "" {
			return &name
		}
	}
	return nil
}

func resolvePhone(group []model.ContactRecord) *string {
	for _, r := range group {
		if phone := strings.TrimSpace(r.Phone); phone != "" {
			return &phone
		}
	}
	return nil
}

func resolveLastContact(group []model.ContactRecord) *time.Time {
	var latest *time.Time
	for _, r := range group {
		if r.LastContactAt == nil {
			continue
		}
		if latest == nil || r.LastContactAt.After(*latest) {
			t := *r.LastContactAt
			latest = &t
		}
	}
	return latest
}

// Upsert writes merged contacts for userID, superseding every mutable
// field of existing rows, and returns the number of rows written.
func Upsert(ctx context.Context, st Store, userID string, contacts []model.Contact) (int64, error) {
	if len(contacts) == 0 {
		return 0, nil
	}
	for i := range contacts {
		contacts[i].UserID = userID
	}
	n, err := st.UpsertContacts(ctx, userID, contacts)
	if err != nil {
		return 0, eris.Wrapf(err, "contacts: upsert %d contacts", len(contacts))
	}
	return n, nil
}

// Reconcile merges records and upserts the result.
func Reconcile(ctx context.Context, st Store, userID string, records []model.ContactRecord) ([]model.Contact, int64, error) {
	merged := Merge(records)
	n, err := Upsert(ctx, st, userID, merged)
	if err != nil {
		return nil, 0, err
	}
	zap.L().Info("contacts: reconciled",
		zap.String("user_id", userID),
		zap.Int("records", len(records)),
		zap.Int("contacts", len(merged)),
		zap.Int64("upserted", n),
	)
	return merged, n, nil
}
