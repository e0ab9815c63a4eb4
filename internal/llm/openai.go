package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIGenerator calls an OpenAI-compatible chat completion API through eino.
type OpenAIGenerator struct {
	chatModel model.BaseChatModel
	model     string
}

func NewOpenAIGenerator(ctx context.Context, apiKey, modelID, baseURL string) (*OpenAIGenerator, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		modelID = defaultOpenAIModel
	}
	cfg := &openai.ChatModelConfig{
		APIKey: strings.TrimSpace(apiKey),
		Model:  modelID,
	}
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		cfg.BaseURL = baseURL
	}

	chatModel, err := openai.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create openai model: %w", err)
	}
	return &OpenAIGenerator{chatModel: chatModel, model: modelID}, nil
}

func (g *OpenAIGenerator) Name() string { return "openai" }

func (g *OpenAIGenerator) Generate(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	msgs := toSchemaMessages(req.Messages)
	opts := []model.Option{
		model.WithTemperature(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}

	if onDelta == nil {
		out, err := g.chatModel.Generate(ctx, msgs, opts...)
		if err != nil {
			return Response{}, classifyErr(ctx, "openai generate", err)
		}
		if out == nil {
			return Response{}, fmt.Errorf("%w: no message returned", ErrGenerationMalformed)
		}
		text, err := requireText(out.Content)
		if err != nil {
			return Response{}, err
		}
		return Response{Text: text, Model: g.model}, nil
	}

	stream, err := g.chatModel.Stream(ctx, msgs, opts...)
	if err != nil {
		return Response{}, classifyErr(ctx, "openai stream", err)
	}
	defer stream.Close()

	var b strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Response{}, classifyErr(ctx, "openai stream recv", err)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		b.WriteString(chunk.Content)
		if err := onDelta(chunk.Content); err != nil {
			return Response{}, err
		}
	}
	text, err := requireText(b.String())
	if err != nil {
		return Response{}, err
	}
	return Response{Text: text, Model: g.model}, nil
}

func toSchemaMessages(in []Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(in))
	for _, m := range in {
		switch m.Role {
		case RoleSystem:
			out = append(out, schema.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, schema.AssistantMessage(m.Content, nil))
		default:
			out = append(out, schema.UserMessage(m.Content))
		}
	}
	return out
}
