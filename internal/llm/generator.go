package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrGenerationTimeout reports a generation call that outlived its bound.
	ErrGenerationTimeout = errors.New("generation timed out")
	// ErrGenerationMalformed reports a response with no usable content.
	ErrGenerationMalformed = errors.New("generation response malformed")
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged entry of a generation request.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is the normalized request sent to a text generator.
type Request struct {
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// Response is the final text after any streaming deltas.
type Response struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

// DeltaHandler receives streaming text fragments.
type DeltaHandler func(delta string) error

// Generator turns a conversation into the next assistant reply.
type Generator interface {
	Generate(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error)
	Name() string
}

// Config controls generator construction.
type Config struct {
	Mode          string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	GeminiAPIKey  string
	GeminiModel   string
	HTTPURL       string
}

// NewGenerator builds the generator named by cfg.Mode. In "auto" mode the
// first configured backend wins: OpenAI, then Gemini, then HTTP, then mock.
func NewGenerator(ctx context.Context, cfg Config) (Generator, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		switch {
		case strings.TrimSpace(cfg.OpenAIAPIKey) != "":
			return NewOpenAIGenerator(ctx, cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
		case strings.TrimSpace(cfg.GeminiAPIKey) != "":
			return NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		case strings.TrimSpace(cfg.HTTPURL) != "":
			return NewHTTPGenerator(cfg.HTTPURL), nil
		default:
			return NewMockGenerator(), nil
		}
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, errors.New("OPENAI_API_KEY is required for openai mode")
		}
		return NewOpenAIGenerator(ctx, cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, errors.New("GEMINI_API_KEY is required for gemini mode")
		}
		return NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("GENERATOR_HTTP_URL is required for http mode")
		}
		return NewHTTPGenerator(cfg.HTTPURL), nil
	case "mock":
		return NewMockGenerator(), nil
	default:
		return nil, fmt.Errorf("unsupported generator mode %q", cfg.Mode)
	}
}

// classifyErr maps a deadline on ctx to ErrGenerationTimeout.
func classifyErr(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrGenerationTimeout, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func requireText(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty content", ErrGenerationMalformed)
	}
	return text, nil
}
