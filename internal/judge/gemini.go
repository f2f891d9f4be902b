// Package judge wraps the Gemini API as the external scoring authority for
// prompt-to-image fidelity. The call is single-shot with no retry; callers
// re-invoke scoring out of band if it fails.
package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Entry is one candidate prompt sent to the judge, tagged with stable
// identifiers so the response can be matched back to rows.
type Entry struct {
	PromptID uint
	UserID   uint
	Text     string
}

// Evaluation is the judge's verdict for one prompt.
type Evaluation struct {
	PromptID      uint   `json:"prompt_id"`
	UserID        uint   `json:"user_id"`
	Score         int    `json:"score"`
	Justification string `json:"reason"`
}

type GeminiClient struct {
	model *genai.GenerativeModel
}

func NewGeminiClient(apiKey, modelName string) (*GeminiClient, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	model := client.GenerativeModel(modelName)
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0.1)

	return &GeminiClient{model: model}, nil
}

const scoringRubric = `Task: Given an image and multiple prompts, score each prompt 0-100 based on how well it matches the image.
Rules:
Judge how likely this prompt is to generate a similar image in a text-to-image model.
You must include constructive feedback to improve the prompt.
The feedback must include specific details from the image.
Higher score = closer match.
Return ONLY a JSON array:
[
  {
    "user_id": <number>,
    "prompt_id": <number>,
    "score": <0-100>,
    "reason": "<short explanation>"
  }
]`

// ScoreRound sends the image and all candidate prompts to Gemini in one
// batched call and returns one evaluation per prompt.
func (g *GeminiClient) ScoreRound(ctx context.Context, imageURL string, entries []Entry) ([]Evaluation, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	var list strings.Builder
	for i, entry := range entries {
		fmt.Fprintf(&list, "Prompt %d:\nID: %d\nUser: %d\nText: %q\n\n", i+1, entry.PromptID, entry.UserID, entry.Text)
	}

	parts := []genai.Part{
		genai.Text(scoringRubric),
		genai.FileData{MIMEType: "image/jpeg", URI: imageURL},
		genai.Text("Prompts:\n" + list.String()),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("gemini call failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, errors.New("gemini returned an empty response")
	}
	rawText, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return nil, errors.New("gemini returned an unexpected part type")
	}

	evaluations, err := parseEvaluations(string(rawText))
	if err != nil {
		return nil, err
	}
	return evaluations, nil
}

// parseEvaluations decodes the judge output, tolerating markdown code fences
// around the JSON body. Scores are clamped to [0,100].
func parseEvaluations(raw string) ([]Evaluation, error) {
	text := strings.ReplaceAll(raw, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	var evaluations []Evaluation
	if err := json.Unmarshal([]byte(text), &evaluations); err != nil {
		return nil, fmt.Errorf("gemini did not return valid JSON: %w", err)
	}
	if len(evaluations) == 0 {
		return nil, errors.New("gemini returned no evaluations")
	}
	for i := range evaluations {
		if evaluations[i].Score < 0 {
			evaluations[i].Score = 0
		}
		if evaluations[i].Score > 100 {
			evaluations[i].Score = 100
		}
	}
	return evaluations, nil
}
