package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"story-server/internal/models"
)

// DocumentKey - фиксированный ключ документа истории в объектном хранилище.
const DocumentKey = "story.json"

// Мягкие потолки размера: запись сверх лимита отклоняется до обращения
// к хранилищу и возвращается автору как нефатальная ошибка сохранения.
const (
	MaxDocumentSize = 50 << 20 // 50MB
	MaxImageSize    = 10 << 20 // 10MB
)

var (
	// ErrDocumentTooLarge - документ истории превысил потолок размера.
	ErrDocumentTooLarge = errors.New("story document is too large")
	// ErrImageTooLarge - изображение превысило потолок размера.
	ErrImageTooLarge = errors.New("image is too large")
)

// StoryRepository хранит документ истории и изображения нод в ObjectStore.
type StoryRepository struct {
	store  ObjectStore
	logger *zap.Logger
}

// NewStoryRepository создает репозиторий поверх объектного хранилища.
func NewStoryRepository(store ObjectStore, logger *zap.Logger) *StoryRepository {
	return &StoryRepository{
		store:  store,
		logger: logger.Named("StoryRepository"),
	}
}

// ImageKey возвращает ключ изображения ноды в хранилище.
func ImageKey(nodeID string) string {
	return fmt.Sprintf("images/%s.png", nodeID)
}

// Load читает и десериализует документ истории.
// Отсутствие документа возвращается как ErrObjectNotFound.
func (r *StoryRepository) Load(ctx context.Context) (*models.StoryDocument, error) {
	data, err := r.store.Get(ctx, DocumentKey)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load story document: %w", err)
	}

	var doc models.StoryDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		r.logger.Error("Stored story document is not valid JSON", zap.Error(err))
		return nil, fmt.Errorf("failed to parse story document: %w", err)
	}
	doc.Normalize()

	if broken := doc.BrokenLinks(); len(broken) > 0 {
		// Повисшие ребра допустимы, но автору стоит о них знать
		fields := make([]string, 0, len(broken))
		for _, b := range broken {
			fields = append(fields, b.String())
		}
		r.logger.Warn("Story document contains broken links", zap.Strings("links", fields))
	}

	r.logger.Info("Story document loaded",
		zap.Int("nodes", len(doc.Nodes)),
		zap.Int("size_bytes", len(data)),
	)
	return &doc, nil
}

// Save сериализует и записывает документ истории. Документ сохраняется
// с отступами - так его хранил и оригинальный редактор.
func (r *StoryRepository) Save(ctx context.Context, doc *models.StoryDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal story document: %w", err)
	}
	if len(data) > MaxDocumentSize {
		r.logger.Warn("Story document exceeds size ceiling",
			zap.Int("size_bytes", len(data)),
			zap.Int("limit_bytes", MaxDocumentSize),
		)
		return fmt.Errorf("%w: %d bytes", ErrDocumentTooLarge, len(data))
	}
	if err := r.store.Put(ctx, DocumentKey, data); err != nil {
		return fmt.Errorf("failed to save story document: %w", err)
	}
	r.logger.Info("Story document saved",
		zap.Int("nodes", len(doc.Nodes)),
		zap.Int("size_bytes", len(data)),
	)
	return nil
}

// PutImage сохраняет байты изображения ноды.
func (r *StoryRepository) PutImage(ctx context.Context, nodeID string, data []byte) error {
	if len(data) > MaxImageSize {
		return fmt.Errorf("%w: %d bytes", ErrImageTooLarge, len(data))
	}
	if err := r.store.Put(ctx, ImageKey(nodeID), data); err != nil {
		return fmt.Errorf("failed to store image for node %q: %w", nodeID, err)
	}
	return nil
}

// GetImage читает байты изображения ноды или ErrObjectNotFound.
func (r *StoryRepository) GetImage(ctx context.Context, nodeID string) ([]byte, error) {
	data, err := r.store.Get(ctx, ImageKey(nodeID))
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read image for node %q: %w", nodeID, err)
	}
	return data, nil
}

// DeleteImage удаляет изображение ноды из хранилища.
func (r *StoryRepository) DeleteImage(ctx context.Context, nodeID string) error {
	return r.store.Delete(ctx, ImageKey(nodeID))
}
