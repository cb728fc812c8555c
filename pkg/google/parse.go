package google

import (
	"net/mail"
	"strings"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/people/v1"

	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
)

// parseMessage converts a metadata-format message. UserID and AccountID are
// left for the caller.
func parseMessage(m *gmail.Message, fetchedAt time.Time) *model.Message {
	headers := make(map[string]string)
	var parts []*gmail.MessagePart
	if m.Payload != nil {
		for _, h := range m.Payload.Headers {
			headers[strings.ToLower(h.Name)] = h.Value
		}
		parts = m.Payload.Parts
	}

	email, name := parseSender(headers["from"])
	attachments := 0
	for _, p := range parts {
		if p != nil && p.Filename != "" {
			attachments++
		}
	}

	return &model.Message{
		ProviderMessageID: m.Id,
		ThreadID:          m.ThreadId,
		Subject:           headers["subject"],
		SenderEmail:       email,
		SenderName:        name,
		Recipients:        headers["to"],
		Date:              parseDate(headers["date"], m.InternalDate, fetchedAt),
		Summary:           model.TruncateSummary(m.Snippet),
		HasAttachments:    attachments > 0,
		AttachmentCount:   attachments,
	}
}

// parseSender splits an RFC 5322 From header. An unparseable header is kept
// verbatim as the address.
func parseSender(from string) (email, name string) {
	from = strings.TrimSpace(from)
	if from == "" {
		return "", ""
	}
	addr, err := mail.ParseAddress(from)
	if err != nil || addr.Address == "" {
		return from, ""
	}
	return addr.Address, addr.Name
}

// parseDate prefers the Date header, then internalDate (epoch ms), then the
// fetch time.
func parseDate(header string, internalMillis int64, fetchedAt time.Time) time.Time {
	if header != "" {
		if t, err := mail.ParseDate(header); err == nil {
			return t.UTC()
		}
	}
	if internalMillis > 0 {
		return time.UnixMilli(internalMillis).UTC()
	}
	return fetchedAt.UTC()
}

// parsePerson takes the first email, name and phone of a connection.
// Connections without an email are skipped.
func parsePerson(p *people.Person) (model.ContactRecord, bool) {
	if p == nil || len(p.EmailAddresses) == 0 || p.EmailAddresses[0].Value == "" {
		return model.ContactRecord{}, false
	}
	rec := model.ContactRecord{Email: p.EmailAddresses[0].Value}
	if len(p.Names) > 0 {
		rec.Name = p.Names[0].DisplayName
	}
	if len(p.PhoneNumbers) > 0 {
		rec.Phone = p.PhoneNumbers[0].Value
	}
	return rec, true
}
