package themes

import (
	"strings"

	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
)

// Confidence assigned to each tag category.
const (
	confidenceTopic        = 0.9
	confidenceInterest     = 0.7
	confidenceRelationship = 0.85
	confidenceAction       = 0.8
	confidenceSentiment    = 0.9
	confidenceDomain       = 0.85
	confidenceAccount      = 1.0
)

// maxActionWords bounds the words kept in an action tag.
const maxActionWords = 3

var actionStopWords = map[string]bool{
	"the": true, "a": true, "an": true, "by": true, "with": true, "for": true,
	"to": true, "on": true, "in": true, "at": true, "of": true,
}

// GenerateTags maps an enrichment payload to the message's tag set. Empty
// values are skipped, an "unknown" relationship produces no tag and the
// account tag is always present.
func GenerateTags(p model.ThemePayload, label model.AccountLabel) []model.Tag {
	var tags []model.Tag
	add := func(cat model.TagCategory, value string, confidence float64) {
		if value == "" {
			return
		}
		c := confidence
		tags = append(tags, model.Tag{Value: value, Category: cat, Confidence: &c})
	}

	for _, t := range p.ExplicitTopics {
		add(model.TagTopic, model.Slug(t), confidenceTopic)
	}
	for _, i := range p.ImplicitInterests {
		add(model.TagInterest, model.Slug(i), confidenceInterest)
	}
	if rel := lower(p.RelationshipContext); rel != model.RelationshipUnknown {
		add(model.TagRelationship, rel, confidenceRelationship)
	}
	for _, a := range p.ActionItems {
		add(model.TagAction, ActionSlug(a), confidenceAction)
	}
	add(model.TagSentiment, lower(p.Sentiment), confidenceSentiment)
	for _, d := range p.Domains {
		add(model.TagDomain, lower(d), confidenceDomain)
	}
	add(model.TagAccount, string(label), confidenceAccount)
	return tags
}

// ActionSlug condenses an action item to its first three significant words,
// e.g. "Review proposal by Friday" becomes "review-proposal-friday".
func ActionSlug(action string) string {
	var kept []string
	for _, w := range strings.Fields(strings.ToLower(action)) {
		if actionStopWords[w] {
			continue
		}
		kept = append(kept, w)
		if len(kept) == maxActionWords {
			break
		}
	}
	if slug := model.Slug(strings.Join(kept, "-")); slug != "" {
		return slug
	}
	return model.Slug(action)
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
