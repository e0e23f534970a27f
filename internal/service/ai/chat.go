package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ChatGenerator drives OpenAI-compatible and Claude models through eino.
type ChatGenerator struct {
	chatModel model.BaseChatModel
	provider  string
	modelName string
}

// ChatConfig configures a ChatGenerator.
type ChatConfig struct {
	Provider    string
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float32
	MaxTokens   int
}

// NewChatGenerator builds the eino chat model for provider openai or claude.
func NewChatGenerator(ctx context.Context, cfg ChatConfig) (*ChatGenerator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%s api key is required", cfg.Provider)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("%s model is required", cfg.Provider)
	}
	temperature := cfg.Temperature
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch cfg.Provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			APIKey:      cfg.APIKey,
			Temperature: &temperature,
			MaxTokens:   &maxTokens,
		})
	case "claude":
		var baseURLPtr *string
		if cfg.BaseURL != "" {
			baseURLPtr = &cfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			BaseURL:     baseURLPtr,
			MaxTokens:   maxTokens,
			Temperature: &temperature,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", cfg.Provider, err)
	}
	return &ChatGenerator{chatModel: chatModel, provider: cfg.Provider, modelName: cfg.Model}, nil
}

// Generate sends the document and prompt as one user message.
func (g *ChatGenerator) Generate(ctx context.Context, doc Document, prompt string) (string, error) {
	if g == nil || g.chatModel == nil {
		return "", errors.New("chat generator is not initialized")
	}
	resp, err := g.chatModel.Generate(ctx, []*schema.Message{documentMessage(doc, prompt)})
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if resp == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.Content), nil
}

func documentMessage(doc Document, prompt string) *schema.Message {
	data := doc.Base64
	common := schema.MessagePartCommon{Base64Data: &data, MIMEType: doc.MIMEType}

	var attachment schema.MessageInputPart
	if strings.HasPrefix(doc.MIMEType, "image/") {
		attachment = schema.MessageInputPart{
			Type:  schema.ChatMessagePartTypeImageURL,
			Image: &schema.MessageInputImage{MessagePartCommon: common},
		}
	} else {
		attachment = schema.MessageInputPart{
			Type: schema.ChatMessagePartTypeFileURL,
			File: &schema.MessageInputFile{MessagePartCommon: common},
		}
	}
	return &schema.Message{
		Role: schema.User,
		UserInputMultiContent: []schema.MessageInputPart{
			attachment,
			{Type: schema.ChatMessagePartTypeText, Text: prompt},
		},
	}
}

func (g *ChatGenerator) Provider() string {
	return g.provider
}

func (g *ChatGenerator) Model() string {
	return g.modelName
}
