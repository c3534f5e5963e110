package grader

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradekit/gradekit-api/internal/models"
	"github.com/gradekit/gradekit-api/pkg/config"
	appErrors "github.com/gradekit/gradekit-api/pkg/errors"
)

func chatBody(content string) string {
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func newTestClient(baseURL string) *Client {
	return NewClient(config.GraderConfig{
		BaseURL:    baseURL,
		APIKey:     "test-key",
		Model:      "gpt-4o-mini",
		PointScale: 100,
		Timeout:    5 * time.Second,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	})
}

func TestGradeParsesCleanJSON(t *testing.T) {
	var captured chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(chatBody(`{"grade": 87.5, "feedback": "Strong thesis."}`)))
	}))
	defer server.Close()

	result, err := newTestClient(server.URL).Grade(context.Background(), Request{
		Text:            "submission text",
		AssignmentTitle: "Essay 1",
		Rubric:          "argument quality",
		PointScale:      100,
	})
	require.NoError(t, err)
	assert.Equal(t, 87.5, result.Grade)
	assert.Equal(t, "Strong thesis.", result.Feedback)

	require.Len(t, captured.Messages, 2)
	system, ok := captured.Messages[0].Content.(string)
	require.True(t, ok)
	assert.Contains(t, system, "Essay 1")
	assert.Contains(t, system, "argument quality")
	assert.Contains(t, system, "between 0 and 100 points")
}

func TestGradeParsesFencedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatBody("Here you go:\n```json\n{\"grade\": 70, \"feedback\": \"ok\"}\n```")))
	}))
	defer server.Close()

	result, err := newTestClient(server.URL).Grade(context.Background(), Request{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, float64(70), result.Grade)
}

func TestGradeParsesStringGrade(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatBody(`{"grade": "92", "feedback": "nice"}`)))
	}))
	defer server.Close()

	result, err := newTestClient(server.URL).Grade(context.Background(), Request{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, float64(92), result.Grade)
}

func TestGradeRetriesServerErrors(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(chatBody(`{"grade": 60, "feedback": "eventually"}`)))
	}))
	defer server.Close()

	result, err := newTestClient(server.URL).Grade(context.Background(), Request{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, float64(60), result.Grade)
}

func TestGradeDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"message": "bad key"}}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Grade(context.Background(), Request{Text: "x"})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, appErrors.ErrGradingFailed.Code, appErrors.FromError(err).Code)
}

func TestGradeExhaustsRetries(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Grade(context.Background(), Request{Text: "x"})
	require.Error(t, err)
	assert.Equal(t, 3, calls, "MaxRetries=2 means three attempts total")
}

func TestGradeSendsImageAsDataURL(t *testing.T) {
	var raw map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		w.Write([]byte(chatBody(`{"grade": 80, "feedback": "diagram is correct"}`)))
	}))
	defer server.Close()

	image := &models.SubmissionFile{
		FileMeta: models.FileMeta{Name: "diagram.png", MIMEType: "image/png"},
		Data:     []byte{0x89, 0x50, 0x4e, 0x47},
	}
	_, err := newTestClient(server.URL).Grade(context.Background(), Request{Text: "[image submission: diagram.png]", Image: image})
	require.NoError(t, err)

	messages := raw["messages"].([]any)
	user := messages[1].(map[string]any)
	parts := user["content"].([]any)
	require.Len(t, parts, 2)
	imagePart := parts[1].(map[string]any)
	url := imagePart["image_url"].(map[string]any)["url"].(string)
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))
}

func TestGradeMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatBody("I cannot grade this submission.")))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Grade(context.Background(), Request{Text: "x"})
	require.Error(t, err)
}

func TestGradeRespectsContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient(server.URL).Grade(ctx, Request{Text: "x"})
	require.Error(t, err)
}
