package summary

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/Th0rgal/explain.md-sub002/internal/config"
	"github.com/Th0rgal/explain.md-sub002/internal/logging"
)

// GenAIPort is a Port implementation backed by Google's genai SDK, used by
// the live-provider-check evaluator to exercise a real external LM
// end-to-end (SPEC_FULL.md §12). Grounded on the teacher's
// internal/embedding/genai.go client construction pattern, generalized
// from embeddings to chat-style generation.
type GenAIPort struct {
	client *genai.Client
	model  string
}

// NewGenAIPort constructs a GenAIPort from resolved config and an apiKey
// the caller has already resolved; an empty key is a configuration error.
// A non-empty cfg.ModelProvider.Endpoint becomes the client's base URL.
func NewGenAIPort(ctx context.Context, cfg *config.Config, apiKey string) (*GenAIPort, error) {
	if apiKey == "" {
		return nil, &Error{Code: ErrorConfiguration, Cause: fmt.Errorf("summary: missing API key for genai provider")}
	}

	model := cfg.ModelProvider.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	clientCfg := &genai.ClientConfig{APIKey: apiKey}
	if cfg.ModelProvider.Endpoint != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.ModelProvider.Endpoint
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, &Error{Code: ErrorPermanent, Cause: fmt.Errorf("summary: create genai client: %w", err)}
	}

	return &GenAIPort{client: client, model: model}, nil
}

// Complete implements Port by sending the system message as the request's
// SystemInstruction and joining every other message, separated by blank
// lines, into a single user-role content (genai's Models.GenerateContent
// does not take the role-tagged message list the OpenAI-style HTTPPort
// sends).
func (p *GenAIPort) Complete(ctx context.Context, req Request) (Response, error) {
	logging.Get(logging.CategorySummary).Debug("genai Complete: model=%s messages=%d", p.model, len(req.Messages))

	var system, user string
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = m.Content
		default:
			if user != "" {
				user += "\n\n"
			}
			user += m.Content
		}
	}

	contents := []*genai.Content{genai.NewContentFromText(user, genai.RoleUser)}
	genCfg := &genai.GenerateContentConfig{
		Temperature: floatPtr(float32(req.Temperature)),
	}
	if system != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.MaxOutputTokens > 0 {
		genCfg.MaxOutputTokens = int32(req.MaxOutputTokens)
	}

	result, err := p.client.Models.GenerateContent(ctx, p.model, contents, genCfg)
	if err != nil {
		return Response{}, &Error{Code: ErrorTransient, Cause: fmt.Errorf("summary: genai generate: %w", err)}
	}
	if len(result.Candidates) == 0 {
		return Response{}, &Error{Code: ErrorPermanent, Cause: fmt.Errorf("summary: genai returned no candidates")}
	}

	text := result.Text()
	finish := "stop"
	if fr := result.Candidates[0].FinishReason; fr != "" {
		finish = string(fr)
	}

	return Response{
		Text:         text,
		Model:        p.model,
		FinishReason: finish,
		Raw:          text,
	}, nil
}

func floatPtr(f float32) *float32 { return &f }
