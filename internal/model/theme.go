package model

const (
	RelationshipUnknown = "unknown"
	SentimentNeutral    = "neutral"
)

// ThemePayload is the structured enrichment result for one message.
type ThemePayload struct {
	ExplicitTopics      []string `json:"explicit_topics"`
	ImplicitInterests   []string `json:"implicit_interests"`
	RelationshipContext string   `json:"relationship_context"`
	ActionItems         []string `json:"action_items"`
	Sentiment           string   `json:"sentiment"`
	Domains             []string `json:"domains"`
}

// DefaultThemes is the payload used when enrichment fails for an item.
func DefaultThemes() ThemePayload {
	return ThemePayload{
		ExplicitTopics:      []string{},
		ImplicitInterests:   []string{},
		RelationshipContext: RelationshipUnknown,
		ActionItems:         []string{},
		Sentiment:           SentimentNeutral,
		Domains:             []string{},
	}
}

// WithDefaults fills each missing field with its fallback value:
// lists become empty, the relationship becomes "unknown" and the
// sentiment becomes "neutral".
func (p ThemePayload) WithDefaults() ThemePayload {
	if p.ExplicitTopics == nil {
		p.ExplicitTopics = []string{}
	}
	if p.ImplicitInterests == nil {
		p.ImplicitInterests = []string{}
	}
	if p.RelationshipContext == "" {
		p.RelationshipContext = RelationshipUnknown
	}
	if p.ActionItems == nil {
		p.ActionItems = []string{}
	}
	if p.Sentiment == "" {
		p.Sentiment = SentimentNeutral
	}
	if p.Domains == nil {
		p.Domains = []string{}
	}
	return p
}
