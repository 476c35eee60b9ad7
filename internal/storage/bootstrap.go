package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"story-server/internal/models"
)

// Встроенный стартовый документ: сервер остается играбельным
// на пустом хранилище.
//
//go:embed default_story.json
var defaultStoryJSON []byte

// DefaultStory возвращает встроенный стартовый документ истории.
func DefaultStory() (*models.StoryDocument, error) {
	var doc models.StoryDocument
	if err := json.Unmarshal(defaultStoryJSON, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse bundled story: %w", err)
	}
	doc.Normalize()
	return &doc, nil
}

// LoadOrDefault читает документ истории из хранилища, а при его отсутствии
// возвращает встроенный стартовый документ. Испорченный документ - ошибка,
// а не повод молча подменить контент.
func (r *StoryRepository) LoadOrDefault(ctx context.Context) (*models.StoryDocument, error) {
	doc, err := r.Load(ctx)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, ErrObjectNotFound) {
		return nil, err
	}
	r.logger.Info("No stored story document, using bundled default")
	return DefaultStory()
}
