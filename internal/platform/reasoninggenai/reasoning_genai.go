// Package reasoninggenai implements platform.Reasoner over Google's
// Gemini API via google.golang.org/genai.
package reasoninggenai

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/CdubVentures/spec-harvester-sub001/internal/logging"
	"github.com/CdubVentures/spec-harvester-sub001/internal/platform"
)

const defaultModel = "gemini-2.0-flash"

// Reasoner implements platform.Reasoner against the Gemini API.
type Reasoner struct {
	client *genai.Client
}

// New creates a Reasoner. apiKey must be non-empty.
func New(ctx context.Context, apiKey string) (*Reasoner, error) {
	timer := logging.StartTimer(logging.CategoryReasoning, "reasoninggenai.New")
	defer timer.Stop()

	if apiKey == "" {
		return nil, fmt.Errorf("genai API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Reasoner{client: client}, nil
}

func toGenaiRole(role string) genai.Role {
	if role == "assistant" || role == "model" {
		return genai.RoleModel
	}
	return genai.RoleUser
}

// Complete implements platform.Reasoner.
func (r *Reasoner) Complete(ctx context.Context, req platform.ReasoningRequest) (platform.ReasoningResult, error) {
	model := req.Model
	if model == "" {
		model = defaultModel
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		contents = append(contents, genai.NewContentFromText(m.Content, toGenaiRole(m.Role)))
	}

	cfg := &genai.GenerateContentConfig{}
	if req.MaxTokens > 0 {
		maxTokens := int32(req.MaxTokens)
		cfg.MaxOutputTokens = maxTokens
	}

	start := time.Now()
	resp, err := r.client.Models.GenerateContent(ctx, model, contents, cfg)
	latency := time.Since(start)
	if err != nil {
		logging.ReasoningError("generate content with %s failed after %v: %v", model, latency, err)
		return platform.ReasoningResult{}, fmt.Errorf("genai generate content: %w", err)
	}
	logging.Reasoning("generate content with %s completed in %v", model, latency)

	result := platform.ReasoningResult{}
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		var text string
		for _, part := range candidate.Content.Parts {
			text += part.Text
		}
		result.Choices = append(result.Choices, platform.ReasoningChoice{Content: text})
	}
	if resp.UsageMetadata != nil {
		result.Usage = platform.ReasoningUsage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return result, nil
}
