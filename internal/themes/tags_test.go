package themes

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
)

func TestActionSlug(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Review proposal by Friday", "review-proposal-friday"},
		{"Schedule meeting with the team today", "schedule-meeting-team"},
		{"Approve budget request", "approve-budget-request"},
		{"Sign the NDA.", "sign-nda"},
		{"to the of", "to-the-of"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ActionSlug(tt.in))
		})
	}
}

func TestGenerateTags(t *testing.T) {
	payload := model.ThemePayload{
		ExplicitTopics:      []string{"Q4 Budget", ""},
		ImplicitInterests:   []string{"Scuba Diving"},
		RelationshipContext: "Colleague",
		ActionItems:         []string{"Review proposal by Friday"},
		Sentiment:           "Urgent",
		Domains:             []string{"work", " "},
	}

	tags := GenerateTags(payload, model.LabelProcoreMain)

	var paths []string
	conf := map[string]float64{}
	for _, tag := range tags {
		require.NotNil(t, tag.Confidence)
		paths = append(paths, tag.Path())
		conf[tag.Path()] = *tag.Confidence
	}
	assert.Equal(t, []string{
		"topic/q4-budget",
		"interest/scuba-diving",
		"relationship/colleague",
		"action/review-proposal-friday",
		"sentiment/urgent",
		"domain/work",
		"account/procore-main",
	}, paths)
	assert.Equal(t, 0.9, conf["topic/q4-budget"])
	assert.Equal(t, 0.7, conf["interest/scuba-diving"])
	assert.Equal(t, 0.85, conf["relationship/colleague"])
	assert.Equal(t, 0.8, conf["action/review-proposal-friday"])
	assert.Equal(t, 0.9, conf["sentiment/urgent"])
	assert.Equal(t, 0.85, conf["domain/work"])
	assert.Equal(t, 1.0, conf["account/procore-main"])
}

func TestGenerateTags_Defaults(t *testing.T) {
	tags := GenerateTags(model.DefaultThemes(), model.LabelPersonal)

	require.Len(t, tags, 2)
	assert.Equal(t, "sentiment/neutral", tags[0].Path())
	assert.Equal(t, "account/personal", tags[1].Path())
}

func TestGenerateTags_ConfidenceNotShared(t *testing.T) {
	tags := GenerateTags(model.ThemePayload{ExplicitTopics: []string{"a", "b"}}, model.LabelPersonal)
	require.Len(t, tags, 3)
	*tags[0].Confidence = 0
	assert.Equal(t, 0.9, *tags[1].Confidence)
}

func TestUserPrompt(t *testing.T) {
	m := model.Message{
		Subject:     "Kickoff",
		SenderEmail: "ana@example.com",
		SenderName:  "Ana",
		Recipients:  "me@example.com",
		Date:        time.Date(2024, 5, 2, 15, 4, 5, 0, time.UTC),
		Summary:     "Agenda attached",
	}
	p := UserPrompt(m)
	assert.Contains(t, p, "- From: Ana <ana@example.com>")
	assert.Contains(t, p, "- To: me@example.com")
	assert.Contains(t, p, "- Date: 2024-05-02T15:04:05Z")
	assert.Contains(t, p, "- Subject: Kickoff")
	assert.Contains(t, p, "Agenda attached")

	bare := UserPrompt(model.Message{SenderEmail: "x@example.com"})
	assert.Contains(t, bare, "- From: x@example.com\n")
	assert.Contains(t, bare, "(No subject)")
	assert.Contains(t, bare, "(No summary available)")
	assert.True(t, strings.HasPrefix(bare, "Analyze this email"))
}
