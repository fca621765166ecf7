package summary

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Th0rgal/explain.md-sub002/internal/config"
	"github.com/Th0rgal/explain.md-sub002/internal/logging"
)

// HTTPPort is a generic chat-completions HTTP summarizer port, grounded on
// the teacher's internal/perception/client.go provider clients: a single
// bearer-token POST to an OpenAI-compatible /chat/completions endpoint,
// with the same retry-loop-on-429/5xx shape generalized across providers
// rather than duplicated per provider.
type HTTPPort struct {
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client

	maxRetries       int
	retryBaseDelayMs int

	mu          sync.Mutex
	lastRequest time.Time
}

// NewHTTPPort builds an HTTPPort from resolved config. apiKey is read from
// the environment variable named by cfg.ModelProvider.APIKeyEnvVar; a
// missing key yields a configuration error on first Complete call rather
// than at construction time, matching §6's error classification.
func NewHTTPPort(cfg *config.Config) *HTTPPort {
	return &HTTPPort{
		endpoint:         cfg.ModelProvider.Endpoint,
		model:            cfg.ModelProvider.Model,
		apiKey:           os.Getenv(cfg.ModelProvider.APIKeyEnvVar),
		maxRetries:       cfg.ModelProvider.MaxRetries,
		retryBaseDelayMs: cfg.ModelProvider.RetryBaseDelayMs,
		httpClient: &http.Client{
			Timeout: config.DurationOf(cfg.ModelProvider.TimeoutMs),
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatResponse struct {
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends req to the configured endpoint, retrying on transient
// (429/5xx) and timeout failures with deterministic exponential backoff
// (§6), up to maxRetries attempts.
func (p *HTTPPort) Complete(ctx context.Context, req Request) (Response, error) {
	if p.apiKey == "" {
		return Response{}, &Error{Code: ErrorConfiguration, Attempt: 0, Cause: fmt.Errorf("summary: missing API key")}
	}

	body := chatRequest{
		Model:       firstNonEmpty(req.Model, p.model),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxOutputTokens,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, &Error{Code: ErrorPermanent, Attempt: 0, Cause: err}
	}

	attempts := p.maxRetries
	if attempts < 1 {
		attempts = 1
	}
	var lastErr *Error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := time.Duration(BackoffDelayMs(p.retryBaseDelayMs, attempt-1)) * time.Millisecond
			select {
			case <-ctx.Done():
				return Response{}, &Error{Code: ErrorTimeout, Attempt: attempt, Cause: ctx.Err()}
			case <-time.After(delay):
			}
		}

		resp, classified := p.doOnce(ctx, payload, attempt)
		if classified == nil {
			return resp, nil
		}
		lastErr = classified
		if !ShouldRetry(classified.Code) {
			return Response{}, classified
		}
		logging.Get(logging.CategorySummary).Warn("summary HTTP attempt %d failed: %v", attempt, classified)
	}

	return Response{}, lastErr
}

func (p *HTTPPort) doOnce(ctx context.Context, payload []byte, attempt int) (Response, *Error) {
	p.mu.Lock()
	p.lastRequest = time.Now()
	p.mu.Unlock()

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Response{}, &Error{Code: ErrorPermanent, Attempt: attempt, Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, &Error{Code: ErrorTimeout, Attempt: attempt, Cause: err}
		}
		return Response{}, &Error{Code: ErrorTransient, Attempt: attempt, Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, &Error{Code: ErrorTransient, Attempt: attempt, Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		code := ClassifyHTTPError(resp.StatusCode)
		return Response{}, &Error{Code: code, Attempt: attempt, Cause: fmt.Errorf("status %d: %s", resp.StatusCode, string(raw))}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, &Error{Code: ErrorPermanent, Attempt: attempt, Cause: err}
	}
	if parsed.Error != nil {
		return Response{}, &Error{Code: ErrorPermanent, Attempt: attempt, Cause: fmt.Errorf("%s", parsed.Error.Message)}
	}
	if len(parsed.Choices) == 0 {
		return Response{}, &Error{Code: ErrorPermanent, Attempt: attempt, Cause: fmt.Errorf("no choices in response")}
	}

	return Response{
		Text:         parsed.Choices[0].Message.Content,
		Model:        parsed.Model,
		FinishReason: parsed.Choices[0].FinishReason,
		Raw:          string(raw),
	}, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// CompleteWithStreaming issues a streaming chat-completions request and
// returns incremental text deltas over a channel, parsing SSE frames of
// form "data: {...}\n\n" terminated by "data: [DONE]\n\n" (spec §6),
// grounded on the teacher's CompleteWithStreaming.
func (p *HTTPPort) CompleteWithStreaming(ctx context.Context, req Request) (<-chan string, <-chan error) {
	deltas := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(deltas)
		defer close(errs)

		if p.apiKey == "" {
			errs <- &Error{Code: ErrorConfiguration, Cause: fmt.Errorf("summary: missing API key")}
			return
		}

		body := chatRequest{
			Model:       firstNonEmpty(req.Model, p.model),
			Temperature: req.Temperature,
			MaxTokens:   req.MaxOutputTokens,
		}
		for _, m := range req.Messages {
			body.Messages = append(body.Messages, chatMessage{Role: m.Role, Content: m.Content})
		}
		payload, err := json.Marshal(struct {
			chatRequest
			Stream bool `json:"stream"`
		}{chatRequest: body, Stream: true})
		if err != nil {
			errs <- &Error{Code: ErrorPermanent, Cause: err}
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", p.endpoint, bytes.NewReader(payload))
		if err != nil {
			errs <- &Error{Code: ErrorPermanent, Cause: err}
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

		resp, err := p.httpClient.Do(httpReq)
		if err != nil {
			errs <- &Error{Code: ErrorTransient, Cause: err}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(resp.Body)
			errs <- &Error{Code: ClassifyHTTPError(resp.StatusCode), Cause: fmt.Errorf("status %d: %s", resp.StatusCode, string(raw))}
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return
			}
			var chunk struct {
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
				} `json:"choices"`
			}
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				select {
				case deltas <- chunk.Choices[0].Delta.Content:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return deltas, errs
}
