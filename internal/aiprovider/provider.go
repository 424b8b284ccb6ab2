package aiprovider

import (
	"context"
	"errors"

	"github.com/bidpackuk/backend/internal/models"
)

// ErrEmptyResponse is returned when the provider answers without content.
var ErrEmptyResponse = errors.New("empty AI response")

type Request struct {
	ActionType models.ActionType `json:"action_type"`
	Prompt     string            `json:"prompt"`
	Context    string            `json:"context,omitempty"`
	ACUs       int               `json:"acus"`
}

type Response struct {
	Content    string `json:"content"`
	TokensUsed int    `json:"tokens_used"`
}

// Provider generates bid text. Implementations must honour ctx cancellation.
type Provider interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

var instructions = map[models.ActionType]string{
	models.ActionGenerateParagraph: "You write concise, evidence-led paragraphs for UK public sector tender responses. " +
		"Answer the question directly and reference the buyer's requirements.",
	models.ActionRefineSection: "You edit tender response sections for clarity, structure and scoring criteria coverage. " +
		"Keep the bidder's facts and return only the revised section.",
	models.ActionComplianceGapExplain: "You review tender requirements against a draft response and explain each compliance gap " +
		"with a concrete suggestion to close it.",
	models.ActionSocialValueRefine: "You strengthen social value responses in line with the Social Value Model, " +
		"adding measurable commitments and reporting mechanisms.",
}

const defaultInstruction = "You help bid writers prepare UK public sector tender responses."

func instructionFor(action models.ActionType) string {
	if s, ok := instructions[action]; ok {
		return s
	}
	return defaultInstruction
}

// estimateTokens is used when a provider does not report usage.
func estimateTokens(acus int) int {
	return acus * models.TokensPerACU
}
