package model

import "time"

// MaxSummaryRunes bounds the stored snippet.
const MaxSummaryRunes = 500

// Message is the stored metadata of one fetched email. Rows are never
// updated once written; (AccountID, ProviderMessageID) is the natural key.
type Message struct {
	ID                string       `json:"id"`
	UserID            string       `json:"user_id"`
	AccountID         string       `json:"account_id"`
	AccountLabel      AccountLabel `json:"account_label,omitempty"`
	ProviderMessageID string       `json:"provider_message_id"`
	ThreadID          string       `json:"thread_id,omitempty"`
	Subject           string       `json:"subject"`
	SenderEmail       string       `json:"sender_email"`
	SenderName        string       `json:"sender_name,omitempty"`
	Recipients        string       `json:"recipients"`
	Date              time.Time    `json:"date"`
	Summary           string       `json:"summary"`
	HasAttachments    bool         `json:"has_attachments"`
	AttachmentCount   int          `json:"attachment_count"`
}

// TruncateSummary cuts s to MaxSummaryRunes runes.
func TruncateSummary(s string) string {
	r := []rune(s)
	if len(r) <= MaxSummaryRunes {
		return s
	}
	return string(r[:MaxSummaryRunes])
}

// TagCategory is the closed set of tag kinds.
type TagCategory string

const (
	TagTopic        TagCategory = "topic"
	TagInterest     TagCategory = "interest"
	TagRelationship TagCategory = "relationship"
	TagAction       TagCategory = "action"
	TagSentiment    TagCategory = "sentiment"
	TagDomain       TagCategory = "domain"
	TagAccount      TagCategory = "account"
)

// Tag is an AI-derived annotation on a message.
type Tag struct {
	ID         string      `json:"id"`
	MessageID  string      `json:"message_id"`
	Value      string      `json:"tag"`
	Category   TagCategory `json:"category"`
	Confidence *float64    `json:"confidence,omitempty"`
}

// Path renders the tag as "category/value".
func (t Tag) Path() string {
	return string(t.Category) + "/" + t.Value
}
