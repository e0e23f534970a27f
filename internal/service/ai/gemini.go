package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-3-flash-preview"

// GeminiGenerator calls the Gemini API with the document attached as inline data.
type GeminiGenerator struct {
	client      *genai.Client
	modelName   string
	temperature float32
}

// NewGeminiGenerator creates a generator configured for the Gemini API backend.
func NewGeminiGenerator(ctx context.Context, apiKey, model string, temperature float32) (*GeminiGenerator, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	if model = strings.TrimSpace(model); model == "" {
		model = defaultGeminiModel
	}
	return &GeminiGenerator{client: client, modelName: model, temperature: temperature}, nil
}

// Generate sends the inline document followed by the prompt. Structured
// output mode is deliberately not requested; the prompt asks for JSON and
// the normalizer extracts it.
func (g *GeminiGenerator) Generate(ctx context.Context, doc Document, prompt string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(doc.Base64)
	if err != nil {
		return "", &Error{Kind: KindInvalidDocument, Message: MsgInvalidDocument, Err: err}
	}
	if g == nil || g.client == nil {
		return "", errors.New("gemini generator is not initialized")
	}

	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{Data: data, MIMEType: doc.MIMEType}},
			{Text: prompt},
		},
	}}
	temperature := g.temperature
	cfg := &genai.GenerateContentConfig{Temperature: &temperature}

	resp, err := g.client.Models.GenerateContent(ctx, g.modelName, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}
	// An empty reply is returned as is; Normalize reports it as EmptyResponse.
	return strings.TrimSpace(builder.String()), nil
}

func (g *GeminiGenerator) Provider() string {
	return "gemini"
}

func (g *GeminiGenerator) Model() string {
	if g == nil {
		return ""
	}
	return g.modelName
}
