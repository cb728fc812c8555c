package themes

import (
	"fmt"
	"strings"
	"time"

	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
)

// SystemPrompt instructs the model to classify one email into a
// ThemePayload. It is sent with a cache breakpoint so every item of a
// batch reads it from cache.
const SystemPrompt = `You analyze email metadata and extract structured themes as JSON.

Fields:

1. explicit_topics (list of strings)
   Subjects or projects the email names directly, 2-5 words each.
   Examples: "q4 budget", "product launch", "team offsite".

2. implicit_interests (list of strings)
   Hobbies, activities or preferences the sender genuinely signals.
   Examples: "scuba diving", "photography". Skip passing mentions.

3. relationship_context (string)
   One of: colleague, client, vendor, friend, family, recruiter, manager, report, unknown.

4. action_items (list of strings)
   Concrete tasks or requests, 5-10 words each.
   Examples: "review proposal by friday", "schedule kickoff meeting".

5. sentiment (string)
   One of: positive, neutral, negative, urgent. Use urgent when the email is time-sensitive.

6. domains (list of strings)
   Any of: work, finance, travel, health, hobbies, education, personal, shopping, legal.

Respond with exactly one JSON object and nothing else:
{
  "explicit_topics": [],
  "implicit_interests": [],
  "relationship_context": "unknown",
  "action_items": [],
  "sentiment": "neutral",
  "domains": []
}

Rules:
- Every list field is an array, empty when nothing applies.
- Every string is lowercase and uses the listed values where a list is given.
- Extract only what the email clearly supports. When unsure use [] or "unknown".
- At most 10 items per list.`

// UserPrompt renders the per-message request.
func UserPrompt(m model.Message) string {
	sender := m.SenderEmail
	if name := strings.TrimSpace(m.SenderName); name != "" {
		sender = fmt.Sprintf("%s <%s>", name, m.SenderEmail)
	}
	subject := m.Subject
	if strings.TrimSpace(subject) == "" {
		subject = "(No subject)"
	}
	summary := m.Summary
	if strings.TrimSpace(summary) == "" {
		summary = "(No summary available)"
	}

	var b strings.Builder
	b.WriteString("Analyze this email and extract themes.\n\n")
	b.WriteString("Email metadata:\n")
	fmt.Fprintf(&b, "- From: %s\n", sender)
	fmt.Fprintf(&b, "- To: %s\n", m.Recipients)
	fmt.Fprintf(&b, "- Date: %s\n", m.Date.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Subject: %s\n\n", subject)
	b.WriteString("Email summary:\n")
	b.WriteString(summary)
	b.WriteString("\n\nReturn the JSON object described in the system prompt.")
	return b.String()
}
