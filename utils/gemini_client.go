package utils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiModerator asks a Gemini model whether a task post is acceptable for a
// public volunteering board.
type GeminiModerator struct {
	client *genai.Client
	model  string
}

func NewGeminiModerator(ctx context.Context, apiKey, model string) (*GeminiModerator, error) {
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY is not set")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiModerator{client: client, model: model}, nil
}

func (g *GeminiModerator) Close() error {
	return g.client.Close()
}

type moderationVerdict struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

const moderationPrompt = `You review posts on a neighbourhood micro-volunteering board.
A post asks volunteers for a small favour (watering plants, walking a dog, carrying groceries).
Reject posts that are spam, advertising, paid work, illegal, hateful, sexual, or that share
someone else's private data. Approve everything else.

Answer with JSON only: {"approved": true|false, "reason": "<short reason when rejected>"}

Title: %s
Description: %s
`

// ReviewTask returns whether the post is approved and, when it is not, why.
func (g *GeminiModerator) ReviewTask(ctx context.Context, title, description string) (bool, string, error) {
	model := g.client.GenerativeModel(g.model)
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0)

	resp, err := model.GenerateContent(ctx, genai.Text(fmt.Sprintf(moderationPrompt, title, description)))
	if err != nil {
		return false, "", fmt.Errorf("failed to generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return false, "", errors.New("no content generated")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	return parseModerationVerdict(text.String())
}

func parseModerationVerdict(raw string) (bool, string, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var verdict moderationVerdict
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &verdict); err != nil {
		return false, "", fmt.Errorf("unexpected moderation response %q: %w", raw, err)
	}
	if !verdict.Approved && verdict.Reason == "" {
		verdict.Reason = "post does not meet the community guidelines"
	}
	return verdict.Approved, verdict.Reason, nil
}
