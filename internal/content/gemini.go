package content

import (
	"context"
	"net/http"
	"strings"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel   = "gemini-1.5-flash"
)

// GeminiConfig configures the Gemini generateContent provider.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	HTTP    *http.Client
}

// Gemini asks the Gemini REST API for caption, hashtags and visual prompt
// in three separate calls.
type Gemini struct {
	cfg GeminiConfig
}

func NewGemini(cfg GeminiConfig) *Gemini {
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGeminiBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTTP == nil {
		cfg.HTTP = defaultHTTPClient()
	}
	return &Gemini{cfg: cfg}
}

func (g *Gemini) Name() string { return "gemini" }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (g *Gemini) Draft(ctx context.Context, r Request) (Draft, error) {
	return threePart(ctx, r, g.ask)
}

func (g *Gemini) ask(ctx context.Context, prompt string) (string, error) {
	url := g.cfg.BaseURL + "/models/" + g.cfg.Model + ":generateContent"
	var out geminiResponse
	err := postJSON(ctx, g.cfg.HTTP, g.Name(), url,
		map[string]string{"x-goog-api-key": g.cfg.APIKey},
		geminiRequest{Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}}},
		&out,
	)
	if err != nil {
		return "", err
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", ErrMalformed
	}
	text := strings.TrimSpace(out.Candidates[0].Content.Parts[0].Text)
	if text == "" {
		return "", ErrMalformed
	}
	return text, nil
}
