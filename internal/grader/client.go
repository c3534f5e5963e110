// Package grader calls the external language-model grading service.
package grader

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gradekit/gradekit-api/internal/models"
	"github.com/gradekit/gradekit-api/pkg/config"
	appErrors "github.com/gradekit/gradekit-api/pkg/errors"
)

// Request carries one submission to the grading service.
type Request struct {
	Text            string
	AssignmentTitle string
	Rubric          string
	PointScale      float64
	// Image routes an image submission through the vision-capable path. Text
	// still carries the marker string for context.
	Image *models.SubmissionFile
}

// Result is the grading outcome for one submission.
type Result struct {
	Grade    float64
	Feedback string
}

// Client talks to an OpenAI-compatible chat-completions endpoint.
type Client struct {
	cfg        config.GraderConfig
	httpClient *http.Client
}

// NewClient constructs a Client from config.
func NewClient(cfg config.GraderConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Grade sends one submission and returns the parsed grading outcome.
// Transport errors, 429s and 5xx responses are retried with backoff up to the
// configured attempt count; every failure mode surfaces as ErrGradingFailed
// so the pipeline can record a per-student Error status without halting the
// batch.
func (c *Client) Grade(ctx context.Context, req Request) (Result, error) {
	payload, err := json.Marshal(c.buildChatRequest(req))
	if err != nil {
		return Result{}, appErrors.Wrap(err, appErrors.ErrGradingFailed.Code, appErrors.ErrGradingFailed.Status, "failed to encode grading request")
	}

	attempts := c.cfg.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.cfg.RetryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return Result{}, appErrors.Wrap(ctx.Err(), appErrors.ErrGradingFailed.Code, appErrors.ErrGradingFailed.Status, "grading call cancelled")
			case <-time.After(delay):
			}
		}

		result, retryable, err := c.doRequest(ctx, payload)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return Result{}, appErrors.Wrap(lastErr, appErrors.ErrGradingFailed.Code, appErrors.ErrGradingFailed.Status, "grading service call failed")
}

func (c *Client) buildChatRequest(req Request) chatRequest {
	system := chatMessage{Role: "system", Content: BuildSystemPrompt(req.AssignmentTitle, req.Rubric, req.PointScale)}

	var user chatMessage
	if req.Image != nil {
		user = chatMessage{Role: "user", Content: []contentPart{
			{Type: "text", Text: BuildUserPrompt(req.Text)},
			{Type: "image_url", ImageURL: &imageURL{URL: dataURL(req.Image)}},
		}}
	} else {
		user = chatMessage{Role: "user", Content: BuildUserPrompt(req.Text)}
	}

	return chatRequest{
		Model:          c.cfg.Model,
		Messages:       []chatMessage{system, user},
		Temperature:    c.cfg.Temperature,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
}

func (c *Client) doRequest(ctx context.Context, payload []byte) (Result, bool, error) {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, true, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, true, err
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return Result{}, true, fmt.Errorf("grading service returned status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, false, fmt.Errorf("grading service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var chat chatResponse
	if err := json.Unmarshal(body, &chat); err != nil {
		return Result{}, false, fmt.Errorf("malformed grading response: %w", err)
	}
	if chat.Error != nil {
		return Result{}, false, fmt.Errorf("grading service error: %s", chat.Error.Message)
	}
	if len(chat.Choices) == 0 {
		return Result{}, false, fmt.Errorf("grading response carried no choices")
	}

	result, err := parseResult(chat.Choices[0].Message.Content)
	if err != nil {
		return Result{}, false, err
	}
	return result, false, nil
}

// parseResult is deliberately lenient: models wrap JSON in markdown fences or
// prose often enough that a strict decode would fail real responses.
func parseResult(content string) (Result, error) {
	raw := extractJSONObject(content)
	if raw == "" {
		return Result{}, fmt.Errorf("no JSON object in grading response")
	}

	var parsed struct {
		Grade    json.Number `json:"grade"`
		Feedback string      `json:"feedback"`
	}
	decoder := json.NewDecoder(strings.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&parsed); err != nil {
		// Some models return the grade as a quoted string.
		var loose struct {
			Grade    string `json:"grade"`
			Feedback string `json:"feedback"`
		}
		if err2 := json.Unmarshal([]byte(raw), &loose); err2 != nil {
			return Result{}, fmt.Errorf("malformed grading JSON: %w", err)
		}
		grade, err2 := strconv.ParseFloat(strings.TrimSpace(loose.Grade), 64)
		if err2 != nil {
			return Result{}, fmt.Errorf("non-numeric grade %q", loose.Grade)
		}
		return Result{Grade: grade, Feedback: loose.Feedback}, nil
	}

	grade, err := parsed.Grade.Float64()
	if err != nil {
		return Result{}, fmt.Errorf("non-numeric grade %q", parsed.Grade.String())
	}
	return Result{Grade: grade, Feedback: parsed.Feedback}, nil
}

// extractJSONObject returns the first balanced top-level {...} span in s.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func dataURL(file *models.SubmissionFile) string {
	mimeType := file.MIMEType
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(file.Name))
	}
	if mimeType == "" {
		mimeType = "image/png"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(file.Data)
}
