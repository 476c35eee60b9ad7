package generation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIConfig - настройки OpenAI-бэкенда генерации.
type OpenAIConfig struct {
	APIKey string
	Model  string // по умолчанию dall-e-3
}

// Compile-time check
var _ Generator = (*openaiClient)(nil)

type openaiClient struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewOpenAIClient создает генератор поверх OpenAI Images API.
// Images API не принимает контекстное изображение, поэтому визуальная
// преемственность у этого бэкенда обеспечивается только промптом.
func NewOpenAIClient(cfg OpenAIConfig, logger *zap.Logger) Generator {
	model := cfg.Model
	if model == "" {
		model = openai.CreateImageModelDallE3
	}
	return &openaiClient{
		client: openai.NewClient(cfg.APIKey),
		model:  model,
		logger: logger.Named("OpenAIClient"),
	}
}

func (c *openaiClient) Generate(ctx context.Context, req Request) ([]byte, error) {
	log := c.logger.With(zap.String("model", c.model))
	if len(req.ContextImage) > 0 {
		log.Debug("Context image dropped: OpenAI images API does not accept one")
	}

	resp, err := c.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         req.Prompt,
		Model:          c.model,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && (apiErr.HTTPStatusCode == http.StatusForbidden || apiErr.HTTPStatusCode == http.StatusUnauthorized) {
			log.Warn("OpenAI denied authorization", zap.Int("status_code", apiErr.HTTPStatusCode))
			return nil, ErrNotAuthorized
		}
		log.Error("OpenAI image request failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, ErrNoImageData
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 image payload: %v", ErrGenerationFailed, err)
	}
	log.Debug("Image received", zap.Int("size_bytes", len(data)))
	return data, nil
}
