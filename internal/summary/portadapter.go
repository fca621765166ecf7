package summary

import (
	"context"
	"errors"
	"time"

	"github.com/Th0rgal/explain.md-sub002/internal/config"
	"github.com/Th0rgal/explain.md-sub002/internal/logging"
)

// PortSummarizer adapts a Port (an HTTP or genai summarizer endpoint) into
// the tree builder's Summarizer contract: assemble the prompt (spec
// §4.7), call the port with §6's retry schedule, parse the response, and
// surface secret/injection critique as a hard error rather than letting a
// contaminated summary reach the policy gate.
type PortSummarizer struct {
	Port             Port
	Model            string
	Temperature      float64
	MaxOutputTokens  int
	MaxRetries       int
	RetryBaseDelayMs int
	TimeoutMs        int
}

// NewPortSummarizer builds a PortSummarizer from resolved config.
func NewPortSummarizer(port Port, cfg *config.Config) *PortSummarizer {
	return &PortSummarizer{
		Port:             port,
		Model:            cfg.ModelProvider.Model,
		Temperature:      cfg.ModelProvider.Temperature,
		MaxOutputTokens:  cfg.ModelProvider.MaxOutputTokens,
		MaxRetries:       cfg.ModelProvider.MaxRetries,
		RetryBaseDelayMs: cfg.ModelProvider.RetryBaseDelayMs,
		TimeoutMs:        cfg.ModelProvider.TimeoutMs,
	}
}

// Summarize implements tree.Summarizer.
func (s *PortSummarizer) Summarize(children []ChildRef, tightened bool) (ParsedSummary, error) {
	req, _, err := BuildPrompt(children, tightened)
	if err != nil {
		return ParsedSummary{}, err
	}
	req.Model = s.Model
	req.Temperature = s.Temperature
	req.MaxOutputTokens = s.MaxOutputTokens

	maxRetries := s.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	timeoutMs := s.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = 30000
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutMs)*time.Millisecond)
		resp, err := s.Port.Complete(ctx, req)
		cancel()
		if err != nil {
			var sErr *Error
			if errors.As(err, &sErr) && ShouldRetry(sErr.Code) && attempt < maxRetries {
				logging.Get(logging.CategorySummary).Warn("summarize attempt %d failed (%s), retrying", attempt, sErr.Code)
				time.Sleep(time.Duration(BackoffDelayMs(s.RetryBaseDelayMs, attempt)) * time.Millisecond)
				lastErr = err
				continue
			}
			return ParsedSummary{}, err
		}

		parsed, issues := ParseOutput(resp.Text)
		if critique := Critique(resp.Text, parsed); len(critique) > 0 {
			return ParsedSummary{}, &Error{Code: ErrorPermanent, Attempt: attempt, Cause: errors.New(critique[0].Message)}
		}
		if len(issues) > 0 {
			return ParsedSummary{}, &Error{Code: ErrorPermanent, Attempt: attempt, Cause: errors.New(issues[0].Message)}
		}
		return parsed, nil
	}
	return ParsedSummary{}, lastErr
}
