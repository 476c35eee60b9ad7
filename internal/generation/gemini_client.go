package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// contextPreamble предваряет контекстное изображение в запросе.
// Текст фиксирован: от него зависит визуальная преемственность сцен.
const contextPreamble = "Use the previous image as a strong reference for the environment, characters, and art style. Then, create a new image that follows the new prompt:"

// GeminiConfig - настройки клиента Gemini-совместимого API.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Compile-time check
var _ Generator = (*geminiClient)(nil)

type geminiClient struct {
	cfg        GeminiConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewGeminiClient создает генератор поверх Gemini-совместимого
// generateContent API.
func NewGeminiClient(cfg GeminiConfig, logger *zap.Logger) Generator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &geminiClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("GeminiClient"),
	}
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type geminiRequest struct {
	Contents       []geminiContent       `json:"contents"`
	SafetySettings []geminiSafetySetting `json:"safetySettings,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (c *geminiClient) Generate(ctx context.Context, req Request) ([]byte, error) {
	log := c.logger.With(zap.String("model", c.cfg.Model))

	parts := make([]geminiPart, 0, 3)
	if len(req.ContextImage) > 0 {
		parts = append(parts,
			geminiPart{Text: contextPreamble},
			geminiPart{InlineData: &geminiInlineData{
				MimeType: "image/png",
				Data:     base64.StdEncoding.EncodeToString(req.ContextImage),
			}},
		)
	}
	parts = append(parts, geminiPart{Text: req.Prompt})

	payload := geminiRequest{
		Contents: []geminiContent{{Parts: parts}},
		SafetySettings: []geminiSafetySetting{
			{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_NONE"},
			{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_NONE"},
			{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_NONE"},
			{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_NONE"},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generation request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		c.cfg.BaseURL, c.cfg.Model, url.QueryEscape(c.cfg.APIKey))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create generation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	log.Debug("Sending generation request",
		zap.Int("prompt_len", len(req.Prompt)),
		zap.Bool("has_context", len(req.ContextImage) > 0),
	)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Отмену пробрасываем как есть - это штатная операция, не сбой
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Error("Generation HTTP request failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusForbidden {
		log.Warn("Generation API denied authorization", zap.ByteString("response_body", respBody))
		return nil, ErrNotAuthorized
	}
	if resp.StatusCode != http.StatusOK {
		log.Error("Generation API returned non-OK status",
			zap.Int("status_code", resp.StatusCode),
			zap.ByteString("response_body", respBody),
		)
		return nil, fmt.Errorf("%w: API returned status %d", ErrGenerationFailed, resp.StatusCode)
	}
	if readErr != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %v", ErrGenerationFailed, readErr)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: invalid response JSON: %v", ErrGenerationFailed, err)
	}
	for _, candidate := range parsed.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid base64 image payload: %v", ErrGenerationFailed, err)
			}
			log.Debug("Image received", zap.Int("size_bytes", len(data)))
			return data, nil
		}
	}
	log.Warn("Generation response contained no image part")
	return nil, ErrNoImageData
}
