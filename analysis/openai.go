package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/minsukang/datapilot/contextbuild"
)

// OpenAIAnalyzer answers questions through an OpenAI-compatible chat
// endpoint, embedding the assembled context in the prompt.
type OpenAIAnalyzer struct {
	httpClient *http.Client
	logger     *slog.Logger
	apiURL     string
	apiKey     string
	model      string
}

func NewOpenAIAnalyzer(apiURL, apiKey, model string, logger *slog.Logger) *OpenAIAnalyzer {
	return &OpenAIAnalyzer{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     logger,
		apiURL:     apiURL,
		apiKey:     apiKey,
		model:      model,
	}
}

func (a *OpenAIAnalyzer) Name() string { return "openai" }

func (a *OpenAIAnalyzer) Analyze(ctx context.Context, pc contextbuild.PromptContext, question string) (string, error) {
	maxRetries := 3
	retryDelay := 5 * time.Second

	prompt, err := renderPrompt(pc, question)
	if err != nil {
		return "", err
	}

	for attempt := 1; attempt <= maxRetries; attempt++ {
		response, err := a.call(ctx, prompt)
		if err == nil {
			return response, nil
		}

		if httpErr, ok := err.(*APIHttpError); ok {
			if httpErr.StatusCode == http.StatusTooManyRequests {
				a.logger.Error("analysis API quota exceeded",
					slog.String("error_type", httpErr.ErrorType),
					slog.String("error_message", httpErr.Message),
					slog.String("model", a.model))
				return "", fmt.Errorf("analysis quota exceeded: %s (Type: %s)", httpErr.Message, httpErr.ErrorType)
			}
			a.logger.Error("analysis API error",
				slog.Int("attempt", attempt),
				slog.Int("status_code", httpErr.StatusCode),
				slog.String("error_type", httpErr.ErrorType),
				slog.String("error_message", httpErr.Message))
		}

		if attempt == maxRetries {
			return "", fmt.Errorf("failed to call analysis API after %d attempts: %w", maxRetries, err)
		}

		a.logger.Warn("analysis attempt failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("retry_delay", retryDelay),
			slog.String("error", err.Error()))
		time.Sleep(retryDelay)
	}

	return "", fmt.Errorf("failed to call analysis API after exhausting all retry attempts")
}

func renderPrompt(pc contextbuild.PromptContext, question string) (string, error) {
	sample, err := json.Marshal(pc.SampleRows)
	if err != nil {
		return "", fmt.Errorf("error encoding sample rows: %w", err)
	}
	return fmt.Sprintf("%s\n\nSample rows:\n%s\n\nQuestion: %s", pc.Summary, sample, question), nil
}

func (a *OpenAIAnalyzer) call(ctx context.Context, prompt string) (string, error) {
	messages := []map[string]string{
		{"role": "system", "content": "You are a data analyst answering questions about an uploaded dataset using only the provided sample."},
		{"role": "user", "content": prompt},
	}

	requestBody, err := json.Marshal(map[string]interface{}{
		"model":    a.model,
		"messages": messages,
	})
	if err != nil {
		return "", fmt.Errorf("error marshaling request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.apiURL, bytes.NewBuffer(requestBody))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", extractAPIError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("error reading response body: %w", err)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("error unmarshaling response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("analysis API returned no choices")
	}
	return result.Choices[0].Message.Content, nil
}
