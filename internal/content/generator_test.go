package content

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "postpilot/pkg/logx"
	"postpilot/pkg/models"
)

type stubProvider struct {
	name  string
	draft Draft
	err   error
	calls atomic.Int32
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Draft(ctx context.Context, _ Request) (Draft, error) {
	s.calls.Add(1)
	return s.draft, s.err
}

type blockingProvider struct{}

func (blockingProvider) Name() string { return "slow" }

func (blockingProvider) Draft(ctx context.Context, _ Request) (Draft, error) {
	<-ctx.Done()
	return Draft{}, ctx.Err()
}

var goodDraft = Draft{Caption: "cap", Hashtags: "#a #b", VisualPrompt: "bright"}

func assertComplete(t *testing.T, c models.Content) {
	t.Helper()
	assert.True(t, c.Complete(), "incomplete content: %+v", c)
}

func TestGenerateChain(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		primary   Provider
		secondary Provider
		want      models.ContentProvider
	}{
		{"primary ok", &stubProvider{name: "p", draft: goodDraft}, &stubProvider{name: "s", draft: goodDraft}, models.ProviderPrimary},
		{"primary fails", &stubProvider{name: "p", err: errors.New("503")}, &stubProvider{name: "s", draft: goodDraft}, models.ProviderSecondary},
		{"primary incomplete", &stubProvider{name: "p", draft: Draft{Caption: "only"}}, &stubProvider{name: "s", draft: goodDraft}, models.ProviderSecondary},
		{"both fail", &stubProvider{name: "p", err: errors.New("x")}, &stubProvider{name: "s", err: errors.New("y")}, models.ProviderFallback},
		{"no providers", nil, nil, models.ProviderFallback},
		{"primary missing", nil, &stubProvider{name: "s", draft: goodDraft}, models.ProviderSecondary},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := NewGenerator(Config{Timeout: time.Second}, tt.primary, tt.secondary, logx.Nop())
			c := g.Generate(context.Background(), "AI productivity", "Instagram", "professional")
			assertComplete(t, c)
			assert.Equal(t, tt.want, c.Provider)
			assert.Equal(t, "instagram", c.Platform)
		})
	}
}

func TestGenerateTimeoutFallsThrough(t *testing.T) {
	t.Parallel()
	sec := &stubProvider{name: "s", draft: goodDraft}
	g := NewGenerator(Config{Timeout: 20 * time.Millisecond}, blockingProvider{}, sec, logx.Nop())

	start := time.Now()
	c := g.Generate(context.Background(), "topic", "twitter", "casual")
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, models.ProviderSecondary, c.Provider)
	assert.Equal(t, int32(1), sec.calls.Load())
}

func TestGenerateRecoversProviderPanic(t *testing.T) {
	t.Parallel()
	g := NewGenerator(Config{}, panicProvider{}, nil, logx.Nop())
	c := g.Generate(context.Background(), "topic", "linkedin", "professional")
	assert.Equal(t, models.ProviderFallback, c.Provider)
}

type panicProvider struct{}

func (panicProvider) Name() string { return "panic" }
func (panicProvider) Draft(context.Context, Request) (Draft, error) {
	panic("boom")
}

func TestUnreachableNetworkProvidersStillProduceContent(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	g := NewGenerator(Config{Timeout: time.Second},
		NewGemini(GeminiConfig{APIKey: "k", BaseURL: url}),
		NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: url}),
		logx.Nop(),
	)
	c := g.Generate(context.Background(), "AI productivity", "tiktok", "casual")
	assertComplete(t, c)
	assert.Equal(t, models.ProviderFallback, c.Provider)
	assert.Equal(t, "template", c.Source)
}

func TestBlankPlatformIsTaggedGeneric(t *testing.T) {
	t.Parallel()
	g := NewGenerator(Config{}, nil, nil, logx.Nop())
	c := g.Generate(context.Background(), "AI", "  ", "")
	assertComplete(t, c)
	assert.Equal(t, GenericPlatform, c.Platform)
	assert.Contains(t, c.VisualPrompt, "social media")
}

func TestGeminiProvider(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/models/gemini-test:generateContent", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-goog-api-key"))
		var req geminiRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		prompt := req.Contents[0].Parts[0].Text
		text := "caption text"
		switch {
		case strings.Contains(prompt, "hashtags"):
			text = "#ai #work"
		case strings.Contains(prompt, "image prompt"):
			text = "a desk at dawn"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{"content": map[string]any{"parts": []any{map[string]any{"text": text}}}}},
		})
	}))
	defer srv.Close()

	p := NewGemini(GeminiConfig{APIKey: "secret", Model: "gemini-test", BaseURL: srv.URL})
	d, err := p.Draft(context.Background(), Request{Topic: "AI", Platform: "instagram", Style: "professional"})
	require.NoError(t, err)
	assert.Equal(t, Draft{Caption: "caption text", Hashtags: "#ai #work", VisualPrompt: "a desk at dawn"}, d)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGeminiRejectsNon2xxAndMalformed(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewGemini(GeminiConfig{BaseURL: srv.URL}).Draft(context.Background(), Request{Topic: "x"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.Code)

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer empty.Close()
	_, err = NewGemini(GeminiConfig{BaseURL: empty.URL}).Draft(context.Background(), Request{Topic: "x"})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestOpenAIProvider(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "local-model", req.Model)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": " out "}}},
		})
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "tok", Model: "local-model", BaseURL: srv.URL + "/"})
	d, err := p.Draft(context.Background(), Request{Topic: "AI", Platform: "twitter", Style: "casual"})
	require.NoError(t, err)
	assert.Equal(t, "out", d.Caption)
	assert.Equal(t, "out", d.Hashtags)
	assert.Equal(t, "out", d.VisualPrompt)
}
