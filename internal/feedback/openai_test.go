package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/authservice/pkg/errors"
	"github.com/utafrali/authservice/pkg/httpclient"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// chatServer replies to chat completions with content and records the last request.
func chatServer(t *testing.T, status int, content string) (*httptest.Server, *chatRequest) {
	t.Helper()
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded","type":"insufficient_quota"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func newTestClient(srv *httptest.Server) *OpenAIClient {
	hc := httpclient.New(httpclient.Config{Timeout: 2 * time.Second, MaxConnsPerHost: 2})
	return newOpenAIClient(hc, Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"}, discardLogger())
}

func TestPasswordFeedback_ParsesJSONReply(t *testing.T) {
	srv, got := chatServer(t, http.StatusOK,
		"Here you go:\n```json\n{\"strength\":\"strong\",\"score\":87.6,\"feedback\":\"Good length\",\"suggestions\":[\"Avoid reuse\"]}\n```")

	fb, err := newTestClient(srv).PasswordFeedback(context.Background(), "Tr0ub4dor&3")
	require.NoError(t, err)
	assert.Equal(t, "strong", fb.Strength)
	assert.Equal(t, 88, fb.Score)
	assert.Equal(t, "Good length", fb.Feedback)
	assert.Equal(t, []string{"Avoid reuse"}, fb.Suggestions)

	assert.Equal(t, "gpt-3.5-turbo", got.Model)
	assert.InDelta(t, 0.7, got.Temperature, 0.0001)
	assert.Equal(t, 200, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
}

func TestPasswordFeedback_FallbackOnProse(t *testing.T) {
	srv, _ := chatServer(t, http.StatusOK, "This password is okay but could be longer.")

	fb, err := newTestClient(srv).PasswordFeedback(context.Background(), "secret1")
	require.NoError(t, err)
	assert.Equal(t, "moderate", fb.Strength)
	assert.Equal(t, 50, fb.Score)
	assert.Equal(t, "This password is okay but could be longer.", fb.Feedback)
	assert.Len(t, fb.Suggestions, 3)
}

func TestExplainAuthError_ParsesJSONReply(t *testing.T) {
	srv, got := chatServer(t, http.StatusOK,
		`{"explanation":"We could not sign you in","cause":"Wrong email or password","solution":"Retry","prevention":"Use a password manager"}`)

	ex, err := newTestClient(srv).ExplainAuthError(context.Background(), "authentication", "Invalid credentials")
	require.NoError(t, err)
	assert.Equal(t, "We could not sign you in", ex.Explanation)
	assert.Equal(t, "Use a password manager", ex.Prevention)
	assert.Equal(t, 250, got.MaxTokens)
	assert.Contains(t, got.Messages[1].Content, "Error Message: Invalid credentials")
}

func TestExplainAuthError_FallbackOnInvalidJSON(t *testing.T) {
	srv, _ := chatServer(t, http.StatusOK, `{"explanation": broken`)

	ex, err := newTestClient(srv).ExplainAuthError(context.Background(), "authentication", "Invalid credentials")
	require.NoError(t, err)
	assert.Equal(t, "Invalid credentials", ex.Explanation)
	assert.Equal(t, "Authentication failed", ex.Cause)
}

func TestComplete_ErrorStatus(t *testing.T) {
	srv, _ := chatServer(t, http.StatusForbidden, "")

	fb, err := newTestClient(srv).PasswordFeedback(context.Background(), "secret1")
	assert.Nil(t, fb)
	require.Error(t, err)

	var rerr *httpclient.ResponseError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "quota exceeded", rerr.Message)
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))
}

func TestComplete_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).PasswordFeedback(context.Background(), "secret1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty choices")
}

func TestComplete_HonorsContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := newTestClient(srv).ExplainAuthError(ctx, "authentication", "Invalid credentials")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestNewOpenAIClient_ThroughBreaker(t *testing.T) {
	srv, _ := chatServer(t, http.StatusOK, `{"strength":"weak","score":10,"feedback":"Too short","suggestions":[]}`)

	c := NewOpenAIClient(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1", Model: "gpt-4o-mini", Timeout: time.Second}, discardLogger())
	fb, err := c.PasswordFeedback(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "weak", fb.Strength)
	assert.Equal(t, 10, fb.Score)
}

func TestDecodeFirstObject(t *testing.T) {
	var v map[string]any
	assert.True(t, decodeFirstObject(`prefix {"a":1} suffix`, &v))
	assert.False(t, decodeFirstObject(`no json here`, &v))
	assert.False(t, decodeFirstObject(`} backwards {`, &v))
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0, clampScore(-5))
	assert.Equal(t, 100, clampScore(140))
	assert.Equal(t, 43, clampScore(42.5))
}

func TestDisabled(t *testing.T) {
	var a Advisor = Disabled{}
	fb, err := a.PasswordFeedback(context.Background(), "x")
	assert.Nil(t, fb)
	assert.ErrorIs(t, err, ErrDisabled)
	ex, err := a.ExplainAuthError(context.Background(), "authentication", "x")
	assert.Nil(t, ex)
	assert.ErrorIs(t, err, ErrDisabled)
}
