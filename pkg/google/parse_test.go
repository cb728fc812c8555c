package google

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/people/v1"

	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
)

func TestParseSender(t *testing.T) {
	tests := []struct {
		name      string
		from      string
		wantEmail string
		wantName  string
	}{
		{"name and address", `"Jane Doe" <jane@example.com>`, "jane@example.com", "Jane Doe"},
		{"bare address", "bob@example.com", "bob@example.com", ""},
		{"unparseable", "Undisclosed recipients", "Undisclosed recipients", ""},
		{"empty", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			email, name := parseSender(tt.from)
			assert.Equal(t, tt.wantEmail, email)
			assert.Equal(t, tt.wantName, name)
		})
	}
}

func TestParseDate(t *testing.T) {
	fetched := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	got := parseDate("Mon, 15 Jan 2024 10:30:00 +0000", 0, fetched)
	assert.Equal(t, time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), got)

	got = parseDate("not a date", 1704110400000, fetched)
	assert.Equal(t, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), got)

	got = parseDate("", 0, fetched)
	assert.Equal(t, fetched, got)
}

func TestParseMessage_NoPayload(t *testing.T) {
	fetched := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	m := parseMessage(&gmail.Message{Id: "x", Snippet: strings.Repeat("é", 600)}, fetched)

	assert.Equal(t, "x", m.ProviderMessageID)
	assert.Empty(t, m.SenderEmail)
	assert.False(t, m.HasAttachments)
	assert.Equal(t, fetched, m.Date)
	assert.Len(t, []rune(m.Summary), model.MaxSummaryRunes)
}

func TestParseMessage_HeadersCaseInsensitive(t *testing.T) {
	m := parseMessage(&gmail.Message{
		Id: "y",
		Payload: &gmail.MessagePart{
			Headers: []*gmail.MessagePartHeader{
				{Name: "FROM", Value: "a@b.com"},
				{Name: "subject", Value: "hi"},
			},
			Parts: []*gmail.MessagePart{{Filename: "a.txt"}, {Filename: "b.png"}, nil},
		},
	}, time.Now())

	assert.Equal(t, "a@b.com", m.SenderEmail)
	assert.Equal(t, "hi", m.Subject)
	assert.Equal(t, 2, m.AttachmentCount)
}

func TestParsePerson(t *testing.T) {
	_, ok := parsePerson(nil)
	assert.False(t, ok)

	_, ok = parsePerson(&people.Person{EmailAddresses: []*people.EmailAddress{{Value: ""}}})
	assert.False(t, ok)

	rec, ok := parsePerson(&people.Person{
		EmailAddresses: []*people.EmailAddress{{Value: "x@y.com"}},
		PhoneNumbers:   []*people.PhoneNumber{{Value: "123"}},
	})
	assert.True(t, ok)
	assert.Equal(t, "x@y.com", rec.Email)
	assert.Equal(t, "123", rec.Phone)
	assert.Empty(t, rec.Name)
}
