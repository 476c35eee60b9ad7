package generation

import (
	"context"
	"errors"
)

var (
	// ErrGenerationFailed - общий отказ генерации (сеть, API, отбраковка).
	// Нефатален: переход к ноде завершается без изображения.
	ErrGenerationFailed = errors.New("image generation failed")

	// ErrNotAuthorized - API отказал в генерации по правам. Для игрока это
	// мягкая граница контента ("конец отрисованной истории"), а не сбой.
	ErrNotAuthorized = errors.New("image generation not authorized")

	// ErrNoImageData - ответ API не содержит изображения.
	ErrNoImageData = errors.New("no image data in API response")
)

// Request - полный запрос на генерацию изображения: собранный промпт
// и не более одного контекстного изображения для визуальной преемственности.
type Request struct {
	Prompt       string
	ContextImage []byte // nil, если контекст не передается
}

// Generator - контракт внешнего генеративного API. Вызов обязан уважать
// отмену контекста; отмена не считается отказом и возвращается как
// context.Canceled.
type Generator interface {
	Generate(ctx context.Context, req Request) ([]byte, error)
}
