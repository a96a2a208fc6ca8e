package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"server/internal/domain"
)

// GeminiTransformer calls the Gemini generateContent API with the selfie as
// inline conditioning data and returns the first image part of the response.
type GeminiTransformer struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewGeminiTransformer builds the provider client. httpClient carries the
// provider timeout; a nil client falls back to http.DefaultClient.
func NewGeminiTransformer(apiKey, baseURL, model string, httpClient *http.Client) *GeminiTransformer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &GeminiTransformer{apiKey: apiKey, baseURL: baseURL, model: model, httpClient: httpClient}
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (g *GeminiTransformer) Transform(ctx context.Context, req TransformRequest) (*Asset, error) {
	parts := []geminiPart{{Text: BuildPrompt(req.Prompt, req.Style, req.Instruction)}}
	if len(req.SourceData) > 0 {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: req.SourceMIME,
			Data:     base64.StdEncoding.EncodeToString(req.SourceData),
		}})
	}
	body, err := json.Marshal(geminiRequest{Contents: []geminiContent{{Role: "user", Parts: parts}}})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.model, url.QueryEscape(g.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-ID", req.RequestID)
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrProviderFailure, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrProviderFailure, resp.StatusCode, truncate(payload, 256))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrProviderFailure, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderFailure, parsed.Error.Message)
	}
	for _, cand := range parsed.Candidates {
		for _, part := range cand.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("%w: decode image data: %v", domain.ErrProviderFailure, err)
			}
			return &Asset{Data: data, Format: part.InlineData.MimeType}, nil
		}
	}
	return nil, fmt.Errorf("%w: response contained no image", domain.ErrProviderFailure)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
