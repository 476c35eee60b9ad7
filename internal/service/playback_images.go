package service

import (
	"context"
	"encoding/base64"
	"errors"
	"net/url"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"story-server/internal/generation"
	"story-server/internal/models"
)

// Префикс URL, по которому отдаются изображения из объектного хранилища.
const imageURLPrefix = "/api/images/"

// Сообщение мягкой границы контента: генерация недоступна игроку.
const endOfContentMessage = "You have reached the edge of the rendered story. New scenes are being illustrated - check back soon."

var errEndOfContent = errors.New("end of rendered content")

// NodeImageURL возвращает URL изображения ноды в объектном хранилище.
func NodeImageURL(nodeID string) string {
	return imageURLPrefix + url.PathEscape(nodeID)
}

func dataURL(data []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
}

// resolveNodeImage показывает изображение ноды, перебирая источники в порядке
// приоритета: кэш сессии, указатель на хранилище, инлайновая legacy-копия,
// генерация по промпту. Нода без единого источника показывается без
// изображения - это штатный случай.
func (s *PlaybackSession) resolveNodeImage(ctx context.Context, node *models.Node) error {
	if src, ok := s.cache.Get(node.ID); ok {
		s.presenter.DisplayImage(src)
		return nil
	}

	if node.ImageURL != "" {
		data, err := s.store.GetImage(ctx, node.ID)
		if err != nil {
			// Хранилище недоступно - отдаем URL как есть,
			// пусть клиент попробует сам
			s.logger.Warn("Failed to fetch stored image, passing URL through",
				zap.String("node_id", node.ID),
				zap.Error(err),
			)
			s.presenter.DisplayImage(node.ImageURL)
			return nil
		}
		src := dataURL(data)
		s.cache.Set(node.ID, src)
		s.lastImage = data
		s.presenter.DisplayImage(src)
		return nil
	}

	if node.PreRenderedImage != "" {
		s.cache.Set(node.ID, node.PreRenderedImage)
		s.presenter.DisplayImage(node.PreRenderedImage)
		return nil
	}

	if node.ImagePrompt == "" {
		s.presenter.DisplayImage("")
		return nil
	}

	return s.generateNodeImage(ctx, node)
}

// generateNodeImage выполняет основную (блокирующую) генерацию изображения
// ноды. Успешный результат кэшируется, сохраняется в объектное хранилище
// и закрепляется в документе; при недоступности хранилища кадр не теряется -
// откатываемся на инлайновое хранение.
func (s *PlaybackSession) generateNodeImage(ctx context.Context, node *models.Node) error {
	s.isGenerating.Store(true)
	defer s.isGenerating.Store(false)

	genCtx, cancel := context.WithCancel(ctx)
	s.genMu.Lock()
	s.genCancel = cancel
	s.genMu.Unlock()
	defer func() {
		s.genMu.Lock()
		s.genCancel = nil
		s.genMu.Unlock()
		cancel()
	}()

	req := generation.Request{
		Prompt:       s.assembler.Assemble(s.doc, node, ""),
		ContextImage: s.generationContext(node),
	}
	data, err := s.generator.Generate(genCtx, req)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			s.logger.Info("Image generation stopped", zap.String("node_id", node.ID))
			return context.Canceled
		case errors.Is(err, generation.ErrNotAuthorized):
			s.logger.Info("Generation not available, presenting content boundary",
				zap.String("node_id", node.ID),
			)
			s.presenter.ContentBoundaryReached(endOfContentMessage)
			return errEndOfContent
		default:
			// Сбой генерации нефатален: история продолжается без изображения
			s.logger.Error("Image generation failed",
				zap.String("node_id", node.ID),
				zap.Error(err),
			)
			s.presenter.DisplayImage("")
			return nil
		}
	}

	s.lastImage = data
	src := dataURL(data)
	s.cache.Set(node.ID, src)
	s.cache.SetLocationMaster(node.Location, data)

	if err := s.store.PutImage(ctx, node.ID, data); err == nil {
		node.ImageURL = NodeImageURL(node.ID)
		node.PreRenderedImage = ""
	} else {
		s.logger.Warn("Falling back to inline image storage",
			zap.String("node_id", node.ID),
			zap.Error(err),
		)
		node.PreRenderedImage = src
		node.ImageURL = ""
	}
	if err := s.store.Save(ctx, s.doc); err != nil {
		s.logger.Error("Failed to save story after generation", zap.Error(err))
	}

	s.presenter.DisplayImage(src)
	return nil
}

// generationContext выбирает контекстное изображение для генерации
// согласно стратегии сессии. no_context у ноды отключает контекст целиком.
func (s *PlaybackSession) generationContext(node *models.Node) []byte {
	if node.NoContext {
		return nil
	}
	if s.opts.ContextStrategy == ContextLocationMaster && node.Location != "" {
		if master, ok := s.cache.LocationMaster(node.Location); ok {
			return master
		}
	}
	return s.lastImage
}

// showTransitionImage показывает промежуточное изображение перехода между
// нодами. Переходы кэшируются по ключу "from->to" и никогда не сохраняются
// в документ; сбой генерации нефатален.
func (s *PlaybackSession) showTransitionImage(ctx context.Context, choice models.Choice) {
	key := TransitionKey(s.currentNodeID, choice.TargetID)
	if src, ok := s.cache.Get(key); ok {
		s.presenter.DisplayImage(src)
		return
	}

	pseudo := &models.Node{ImagePrompt: choice.TransitionPrompt, NoContext: choice.NoContext}
	req := generation.Request{
		Prompt:       s.assembler.Assemble(s.doc, pseudo, ""),
		ContextImage: s.generationContext(pseudo),
	}
	data, err := s.generator.Generate(ctx, req)
	if err != nil {
		s.logger.Warn("Transition image generation failed",
			zap.String("transition", key),
			zap.Error(err),
		)
		return
	}

	src := dataURL(data)
	s.cache.Set(key, src)
	s.presenter.DisplayImage(src)
}

// preloadChoiceImages запускает фоновые прелоады изображений достижимых нод
// и переходов текущей ноды. Прелоады идут в отдельных горутинах с
// ограничением параллелизма, не отменяются вместе с основной генерацией
// и пишут только в кэш - документ и хранилище не трогают.
func (s *PlaybackSession) preloadChoiceImages(ctx context.Context, node *models.Node) {
	if len(node.Choices) == 0 {
		return
	}

	// Отмена основной генерации не должна убивать прелоады
	bg := context.WithoutCancel(ctx)
	g := &errgroup.Group{}
	if s.opts.PreloadLimit > 0 {
		g.SetLimit(s.opts.PreloadLimit)
	}

	contextImage := append([]byte(nil), s.lastImage...)

	for _, choice := range node.Choices {
		if target, ok := s.doc.Node(choice.TargetID); ok &&
			target.ImagePrompt != "" && !target.HasStoredImage() {
			if _, hit := s.cache.Get(target.ID); !hit {
				targetID := target.ID
				req := generation.Request{
					Prompt:       s.assembler.Assemble(s.doc, target, ""),
					ContextImage: s.preloadContext(target, contextImage),
				}
				g.Go(func() error {
					data, err := s.generator.Generate(bg, req)
					if err != nil {
						s.logger.Debug("Preload failed",
							zap.String("node_id", targetID),
							zap.Error(err),
						)
						return nil
					}
					s.cache.Set(targetID, dataURL(data))
					return nil
				})
			}
		}

		if choice.TransitionPrompt != "" {
			key := TransitionKey(node.ID, choice.TargetID)
			if _, hit := s.cache.Get(key); hit {
				continue
			}
			pseudo := &models.Node{ImagePrompt: choice.TransitionPrompt, NoContext: choice.NoContext}
			req := generation.Request{
				Prompt:       s.assembler.Assemble(s.doc, pseudo, ""),
				ContextImage: s.preloadContext(pseudo, contextImage),
			}
			g.Go(func() error {
				data, err := s.generator.Generate(bg, req)
				if err != nil {
					s.logger.Debug("Transition preload failed",
						zap.String("transition", key),
						zap.Error(err),
					)
					return nil
				}
				s.cache.Set(key, dataURL(data))
				return nil
			})
		}
	}

	s.preloads.Add(1)
	go func() {
		defer s.preloads.Done()
		_ = g.Wait()
	}()
}

// preloadContext - вариант generationContext для прелоадов: последнее
// изображение передается снимком, снятым до запуска горутин.
func (s *PlaybackSession) preloadContext(node *models.Node, lastImage []byte) []byte {
	if node.NoContext {
		return nil
	}
	if s.opts.ContextStrategy == ContextLocationMaster && node.Location != "" {
		if master, ok := s.cache.LocationMaster(node.Location); ok {
			return master
		}
	}
	return lastImage
}
