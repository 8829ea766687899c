package models

import "github.com/google/uuid"

// ConversationAnalysis is the structured summary the gateway is asked to
// produce for the Visual Guide panel. JSON tags match the wire shape the
// frontend consumes; the whole value is recomputed on every analysis pass.
type ConversationAnalysis struct {
	KeyPoints   []string `json:"keyPoints"`
	Topics      []Topic  `json:"topics"`
	ActionItems []string `json:"actionItems"`
	Questions   []string `json:"questions"`
	Summary     string   `json:"summary"`
	NextSteps   string   `json:"nextSteps"`
}

type Topic struct {
	Name       string `json:"name"`
	Importance string `json:"importance"` // high, medium, low
	Summary    string `json:"summary"`
}

// KeyPoint links one derived point back to the message it came from.
// The link is resolved by position at derivation time, so it is a best-effort
// pointer, not a stable reference.
type KeyPoint struct {
	Text      string    `json:"text"`
	MessageID uuid.UUID `json:"message_id"`
	Relevance string    `json:"relevance"` // high, medium, low
}

// DeriveKeyPoints pairs each analysis key point with a transcript message by
// position and grades relevance by rank: the first two points are high, the
// next two medium, the rest low.
func DeriveKeyPoints(a ConversationAnalysis, messages []Message) []KeyPoint {
	if len(a.KeyPoints) == 0 || len(messages) == 0 {
		return nil
	}

	points := make([]KeyPoint, 0, len(a.KeyPoints))
	for i, text := range a.KeyPoints {
		idx := i
		if idx >= len(messages) {
			idx = len(messages) - 1
		}
		points = append(points, KeyPoint{
			Text:      text,
			MessageID: messages[idx].ID,
			Relevance: relevanceForRank(i),
		})
	}
	return points
}

func relevanceForRank(rank int) string {
	switch {
	case rank < 2:
		return "high"
	case rank < 4:
		return "medium"
	default:
		return "low"
	}
}
