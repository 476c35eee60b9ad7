package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"story-server/internal/generation"
	"story-server/internal/models"
)

// AuthoringService - структурные операции редактора над документом истории.
// Все мутации синхронны и выполняются в памяти; в хранилище документ уходит
// только явным вызовом Save. Сервис не потокобезопасен - как и сессия
// проигрывания, он обслуживается одной горутиной.
type AuthoringService struct {
	doc       *models.StoryDocument
	store     StoryStore
	generator generation.Generator
	assembler *PromptAssembler
	cache     *ImageCache
	logger    *zap.Logger
}

// NewAuthoringService создает сервис редактуры поверх загруженного документа.
// cache может быть nil, если сервис живет без сессии проигрывания.
func NewAuthoringService(
	doc *models.StoryDocument,
	store StoryStore,
	generator generation.Generator,
	assembler *PromptAssembler,
	cache *ImageCache,
	logger *zap.Logger,
) *AuthoringService {
	if cache == nil {
		cache = NewImageCache()
	}
	return &AuthoringService{
		doc:       doc,
		store:     store,
		generator: generator,
		assembler: assembler,
		cache:     cache,
		logger:    logger.Named("AuthoringService"),
	}
}

// Document возвращает редактируемый документ.
func (a *AuthoringService) Document() *models.StoryDocument {
	return a.doc
}

// AddNode добавляет пустую ноду с заданным id.
func (a *AuthoringService) AddNode(id string) (*models.Node, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: node id is empty", models.ErrInvalidInput)
	}
	if _, ok := a.doc.Nodes[id]; ok {
		return nil, fmt.Errorf("%w: %q", models.ErrNodeExists, id)
	}
	node := &models.Node{ID: id, Choices: []models.Choice{}}
	a.doc.Nodes[id] = node
	a.logger.Info("Node added", zap.String("node_id", id))
	return node, nil
}

// DeleteNode удаляет ноду и каскадно вычищает все входящие ребра:
// после удаления ни один выбор не ссылается на удаленный id.
// Возвращает число удаленных входящих ребер.
func (a *AuthoringService) DeleteNode(id string) (int, error) {
	if _, ok := a.doc.Nodes[id]; !ok {
		return 0, fmt.Errorf("%w: %q", models.ErrNodeNotFound, id)
	}
	delete(a.doc.Nodes, id)
	delete(a.doc.GenerationHistory, id)

	removed := 0
	for _, node := range a.doc.Nodes {
		kept := node.Choices[:0]
		for _, choice := range node.Choices {
			if choice.TargetID == id {
				removed++
				continue
			}
			kept = append(kept, choice)
		}
		node.Choices = kept
	}
	a.logger.Info("Node deleted",
		zap.String("node_id", id),
		zap.Int("incoming_edges_removed", removed),
	)
	return removed, nil
}

// AddChoice добавляет выбор в конец списка ноды.
func (a *AuthoringService) AddChoice(nodeID string, choice models.Choice) error {
	node, ok := a.doc.Nodes[nodeID]
	if !ok {
		return fmt.Errorf("%w: %q", models.ErrNodeNotFound, nodeID)
	}
	if err := choice.Validate(); err != nil {
		return err
	}
	node.Choices = append(node.Choices, choice)
	return nil
}

// UpdateChoice заменяет выбор по индексу.
func (a *AuthoringService) UpdateChoice(nodeID string, index int, choice models.Choice) error {
	node, ok := a.doc.Nodes[nodeID]
	if !ok {
		return fmt.Errorf("%w: %q", models.ErrNodeNotFound, nodeID)
	}
	if index < 0 || index >= len(node.Choices) {
		return fmt.Errorf("%w: node %q has no choice %d", models.ErrChoiceNotFound, nodeID, index)
	}
	if err := choice.Validate(); err != nil {
		return err
	}
	node.Choices[index] = choice
	return nil
}

// RemoveChoice удаляет выбор по индексу. Список переиндексируется без дыр.
func (a *AuthoringService) RemoveChoice(nodeID string, index int) error {
	node, ok := a.doc.Nodes[nodeID]
	if !ok {
		return fmt.Errorf("%w: %q", models.ErrNodeNotFound, nodeID)
	}
	if index < 0 || index >= len(node.Choices) {
		return fmt.Errorf("%w: node %q has no choice %d", models.ErrChoiceNotFound, nodeID, index)
	}
	node.Choices = append(node.Choices[:index], node.Choices[index+1:]...)
	return nil
}

// UpsertElement создает или обновляет консистентный элемент. Существующий
// элемент сохраняет свою форму хранения (строка или объект с полями),
// новый создается в объектной форме.
func (a *AuthoringService) UpsertElement(category models.ElementCategory, id, description string) error {
	if id == "" {
		return fmt.Errorf("%w: element id is empty", models.ErrInvalidInput)
	}
	table, err := a.doc.Elements(category)
	if err != nil {
		return err
	}
	if existing, ok := table[id]; ok {
		table[id] = existing.WithDescription(description)
		return nil
	}
	table[id] = models.DescribedElement(description)
	return nil
}

// DeleteElement удаляет консистентный элемент.
func (a *AuthoringService) DeleteElement(category models.ElementCategory, id string) error {
	table, err := a.doc.Elements(category)
	if err != nil {
		return err
	}
	if _, ok := table[id]; !ok {
		return fmt.Errorf("%w: %s/%s", models.ErrElementNotFound, category, id)
	}
	delete(table, id)
	return nil
}

// Element возвращает консистентный элемент по категории и id.
func (a *AuthoringService) Element(category models.ElementCategory, id string) (models.Element, error) {
	table, err := a.doc.Elements(category)
	if err != nil {
		return models.Element{}, err
	}
	elem, ok := table[id]
	if !ok {
		return models.Element{}, fmt.Errorf("%w: %s/%s", models.ErrElementNotFound, category, id)
	}
	return elem, nil
}

// RefineImage перегенерирует изображение ноды с заметками автора, используя
// текущее изображение как контекст. Первая доработка закрепляет текущее
// изображение в истории генерации оригинальной записью; новая запись
// добавляется с учетом политики удержания. Результат сохраняется в хранилище
// и закрепляется в документе.
func (a *AuthoringService) RefineImage(ctx context.Context, nodeID, notes string) error {
	node, ok := a.doc.Nodes[nodeID]
	if !ok {
		return fmt.Errorf("%w: %q", models.ErrNodeNotFound, nodeID)
	}

	var contextImage []byte
	if node.ImageURL != "" {
		data, err := a.store.GetImage(ctx, nodeID)
		if err != nil {
			a.logger.Warn("Refinement proceeds without context image",
				zap.String("node_id", nodeID),
				zap.Error(err),
			)
		} else {
			contextImage = data
		}
	}

	prompt := a.assembler.Assemble(a.doc, node, notes)
	data, err := a.generator.Generate(ctx, generation.Request{
		Prompt:       prompt,
		ContextImage: contextImage,
	})
	if err != nil {
		return fmt.Errorf("refine image for node %q: %w", nodeID, err)
	}

	// Первая доработка: текущее изображение уходит в историю оригиналом,
	// чтобы к нему всегда можно было вернуться
	if len(a.doc.GenerationHistory[nodeID]) == 0 && node.HasStoredImage() {
		a.doc.AppendGeneration(nodeID, models.GenerationEntry{
			Image:      a.currentImageRef(node),
			Timestamp:  time.Now().UTC(),
			IsOriginal: true,
			Storage:    a.currentStorageForm(node),
		})
	}

	if err := a.store.PutImage(ctx, nodeID, data); err != nil {
		return fmt.Errorf("store refined image for node %q: %w", nodeID, err)
	}
	node.ImageURL = NodeImageURL(nodeID)
	node.PreRenderedImage = ""

	a.doc.AppendGeneration(nodeID, models.GenerationEntry{
		Image:     node.ImageURL,
		Prompt:    prompt,
		Notes:     notes,
		Timestamp: time.Now().UTC(),
		Storage:   "url",
	})

	a.cache.Set(nodeID, dataURL(data))

	if err := a.Save(ctx); err != nil {
		return err
	}
	a.logger.Info("Node image refined", zap.String("node_id", nodeID))
	return nil
}

// RevertImage возвращает ноде изображение из записи истории генерации.
func (a *AuthoringService) RevertImage(ctx context.Context, nodeID string, entryIndex int) error {
	node, ok := a.doc.Nodes[nodeID]
	if !ok {
		return fmt.Errorf("%w: %q", models.ErrNodeNotFound, nodeID)
	}
	history := a.doc.GenerationHistory[nodeID]
	if entryIndex < 0 || entryIndex >= len(history) {
		return fmt.Errorf("%w: node %q has no generation entry %d", models.ErrInvalidInput, nodeID, entryIndex)
	}

	entry := history[entryIndex]
	if entry.Storage == "inline" {
		node.PreRenderedImage = entry.Image
		node.ImageURL = ""
	} else {
		node.ImageURL = entry.Image
		node.PreRenderedImage = ""
	}
	a.cache.Delete(nodeID)

	return a.Save(ctx)
}

// ClearImage убирает изображение ноды из обеих форм хранения, из кэша
// и из объектного хранилища.
func (a *AuthoringService) ClearImage(ctx context.Context, nodeID string) error {
	node, ok := a.doc.Nodes[nodeID]
	if !ok {
		return fmt.Errorf("%w: %q", models.ErrNodeNotFound, nodeID)
	}

	node.ImageURL = ""
	node.PreRenderedImage = ""
	node.ImageURLMobile = ""
	node.PreRenderedImageMobile = ""
	a.cache.Delete(nodeID)

	if err := a.store.DeleteImage(ctx, nodeID); err != nil {
		// Документ уже не ссылается на объект - потерянный ключ не вредит
		a.logger.Warn("Failed to delete stored image",
			zap.String("node_id", nodeID),
			zap.Error(err),
		)
	}
	return a.Save(ctx)
}

// Progress возвращает прогресс отрисовки: число нод с изображением
// и общее число нод.
func (a *AuthoringService) Progress() (withImages, total int) {
	return a.doc.CountNodesWithImages()
}

// Save выполняет явную запись документа в хранилище, предварительно убирая
// дублирование форм хранения изображений.
func (a *AuthoringService) Save(ctx context.Context) error {
	if cleaned := a.doc.CleanupImageStorage(); cleaned > 0 {
		a.logger.Info("Image storage cleaned up before save", zap.Int("nodes", cleaned))
	}
	if err := a.store.Save(ctx, a.doc); err != nil {
		return fmt.Errorf("save story document: %w", err)
	}
	return nil
}

// ReplaceDocument целиком заменяет редактируемый документ (операция
// сохранения из редактора: клиент присылает новый документ).
func (a *AuthoringService) ReplaceDocument(doc *models.StoryDocument) error {
	if doc == nil || len(doc.Nodes) == 0 {
		return fmt.Errorf("%w: story document has no nodes", models.ErrInvalidInput)
	}
	doc.Normalize()
	for id, node := range doc.Nodes {
		for _, choice := range node.Choices {
			if err := choice.Validate(); err != nil {
				return fmt.Errorf("node %q: %w", id, err)
			}
		}
	}
	if broken := doc.BrokenLinks(); len(broken) > 0 {
		// Повисшие ребра допустимы, но подсвечиваются
		a.logger.Warn("Story document has broken links", zap.Int("count", len(broken)))
	}
	*a.doc = *doc
	return nil
}

func (a *AuthoringService) currentImageRef(node *models.Node) string {
	if node.ImageURL != "" {
		return node.ImageURL
	}
	return node.PreRenderedImage
}

func (a *AuthoringService) currentStorageForm(node *models.Node) string {
	if node.ImageURL != "" {
		return "url"
	}
	return "inline"
}
