package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"story-server/internal/generation"
	"story-server/internal/models"
)

// ContextStrategy - стратегия выбора контекстного изображения для генерации.
type ContextStrategy string

const (
	// ContextLastImage - контекстом служит последнее сгенерированное изображение.
	ContextLastImage ContextStrategy = "lastImage"
	// ContextLocationMaster - у нод с локацией контекстом служит
	// мастер-изображение локации, у остальных - последнее изображение.
	ContextLocationMaster ContextStrategy = "locationMaster"
)

// StoryStore - часть контракта хранилища, нужная проигрыванию и редактуре.
// Реализуется storage.StoryRepository.
type StoryStore interface {
	Save(ctx context.Context, doc *models.StoryDocument) error
	PutImage(ctx context.Context, nodeID string, data []byte) error
	GetImage(ctx context.Context, nodeID string) ([]byte, error)
	DeleteImage(ctx context.Context, nodeID string) error
}

// Options - конфигурация сессии проигрывания. Нулевые задержки допустимы
// (анимация без пауз); пустые таблицы правил заменяются таблицами
// оригинальной истории.
type Options struct {
	StartNodeID    string
	FallbackNodeID string // безопасная нода при underflow стека флешбэков (по умолчанию стартовая)

	WordDelay       time.Duration // пауза между словами анимации текста
	ChunkPause      time.Duration // пауза между фрагментами текста
	TransitionDelay time.Duration // задержка auto_transition по умолчанию
	FadeDelay       time.Duration // затухание сцены перед обработкой выбора
	FlashbackDelay  time.Duration // задержка перед auto_flashback

	AspectRatio     AspectRatio
	ContextStrategy ContextStrategy
	PreloadLimit    int // максимум параллельных фоновых прелоадов

	RedirectRules []RedirectRule
	FlagEffects   map[string]string
}

// DefaultOptions возвращает параметры, совпадающие с таймингами
// оригинального проигрывателя.
func DefaultOptions() Options {
	return Options{
		StartNodeID:     "opening_scene",
		FallbackNodeID:  "opening_scene",
		WordDelay:       100 * time.Millisecond,
		ChunkPause:      350 * time.Millisecond,
		TransitionDelay: 800 * time.Millisecond,
		FadeDelay:       500 * time.Millisecond,
		FlashbackDelay:  800 * time.Millisecond,
		AspectRatio:     AspectLandscape,
		ContextStrategy: ContextLocationMaster,
		PreloadLimit:    4,
		RedirectRules:   DefaultRedirectRules(),
		FlagEffects:     DefaultFlagEffects(),
	}
}

type flashbackFrame struct {
	returnNodeID string
	playerFlags  map[string]bool
}

// PlaybackSession - машина состояний проигрывания одной сессии. Владеет
// указателем текущей ноды, историей посещений, стеком флешбэков и флагами
// игрока. Методы навигации (Start, ShowNode, HandleChoice) должны вызываться
// последовательно из одной горутины; управляющие методы (SkipTextAnimation,
// CancelGeneration, SetEditorOpen) можно дергать из любой.
type PlaybackSession struct {
	doc       *models.StoryDocument
	store     StoryStore
	generator generation.Generator
	cache     *ImageCache
	assembler *PromptAssembler
	presenter Presenter
	logger    *zap.Logger
	opts      Options

	state          State
	currentNodeID  string
	visitedNodes   []string
	flashbackStack []flashbackFrame
	playerFlags    map[string]bool
	lastImage      []byte

	skipText     atomic.Bool
	editorOpen   atomic.Bool
	isGenerating atomic.Bool

	genMu     sync.Mutex
	genCancel context.CancelFunc

	preloads sync.WaitGroup
}

// NewPlaybackSession создает сессию поверх загруженного документа.
func NewPlaybackSession(
	doc *models.StoryDocument,
	store StoryStore,
	generator generation.Generator,
	presenter Presenter,
	logger *zap.Logger,
	opts Options,
) *PlaybackSession {
	if opts.StartNodeID == "" {
		opts.StartNodeID = "opening_scene"
	}
	if opts.FallbackNodeID == "" {
		opts.FallbackNodeID = opts.StartNodeID
	}
	if opts.RedirectRules == nil {
		opts.RedirectRules = DefaultRedirectRules()
	}
	if opts.FlagEffects == nil {
		opts.FlagEffects = DefaultFlagEffects()
	}
	if presenter == nil {
		presenter = NopPresenter{}
	}
	return &PlaybackSession{
		doc:         doc,
		store:       store,
		generator:   generator,
		cache:       NewImageCache(),
		assembler:   NewPromptAssembler(opts.AspectRatio),
		presenter:   presenter,
		logger:      logger.Named("PlaybackSession"),
		opts:        opts,
		state:       StateIdle,
		playerFlags: make(map[string]bool),
	}
}

// Start начинает проигрывание со стартовой ноды.
func (s *PlaybackSession) Start(ctx context.Context) error {
	return s.ShowNode(ctx, s.opts.StartNodeID)
}

// ShowNode - центральный переход машины состояний: подмена мягким гейтом,
// учет истории, показ изображения, фоновые прелоады, анимация текста
// и пост-текстовые автодействия.
//
// Сбои коллабораторов поглощаются здесь и превращаются в деградацию
// ("история продолжается без изображения"); наружу уходят только отмена
// контекста и диагностика повисшего ребра.
func (s *PlaybackSession) ShowNode(ctx context.Context, nodeID string) error {
	// Подмена вычисляется как чистая функция до учета истории,
	// история ведется уже по подмененной ноде
	redirected := applyRedirects(s.opts.RedirectRules, nodeID, s.playerFlags)
	if redirected != nodeID {
		s.logger.Debug("Soft gate redirect",
			zap.String("from", nodeID),
			zap.String("to", redirected),
		)
	}

	prevNodeID := s.currentNodeID
	prevVisited := append([]string(nil), s.visitedNodes...)

	s.recordVisit(redirected)
	s.currentNodeID = redirected

	node, ok := s.doc.Node(redirected)
	if !ok {
		s.logger.Error("Story path is broken", zap.String("node_id", redirected))
		s.presenter.PathBroken(redirected)
		s.setState(StateIdle)
		return fmt.Errorf("%w: %q", models.ErrNodeNotFound, redirected)
	}

	// Спрятать сцену, убрать варианты выбора, выключить ввод
	s.setState(StateTransitioning)

	s.setState(StateLoadingImage)
	if err := s.resolveNodeImage(ctx, node); err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			// Отмена - штатная операция: откатываем переход целиком
			// и молча возвращаемся в состояние до вызова
			s.currentNodeID = prevNodeID
			s.visitedNodes = prevVisited
			s.setState(StateIdle)
			return nil
		case errors.Is(err, errEndOfContent):
			// Мягкая граница контента: дальше истории нет
			s.setState(StateIdle)
			return nil
		}
	}

	s.preloadChoiceImages(ctx, node)

	s.setState(StateTypingText)
	if !s.displayText(ctx, node) {
		s.setState(StateIdle)
		return ctx.Err()
	}

	return s.afterText(ctx, node)
}

// afterText выполняет пост-текстовые автодействия в фиксированном порядке
// приоритета: терминальная нода с задержкой, auto_flashback, auto_transition,
// иначе показ вариантов выбора.
func (s *PlaybackSession) afterText(ctx context.Context, node *models.Node) error {
	switch {
	case node.IsTerminal() && node.AutoTransitionDelay > 0:
		// Титульная карточка с таймером: выдерживаем паузу и гасим сцену.
		// Вести синтетический переход некуда - вариантов выбора нет.
		if !s.sleep(ctx, time.Duration(node.AutoTransitionDelay)*time.Millisecond) {
			return ctx.Err()
		}
		s.setState(StateIdle)
		return nil

	case node.AutoFlashback != "":
		if !s.sleep(ctx, s.opts.FlashbackDelay) {
			return ctx.Err()
		}
		return s.enterFlashback(ctx, node.AutoFlashback)

	case node.AutoTransition && len(node.Choices) > 0:
		if s.editorOpen.Load() {
			// Редактор открыт: автопереход приостановлен, показываем выбор
			s.logger.Debug("Auto-transition paused: editor is open", zap.String("node_id", node.ID))
			s.presentChoices(node)
			return nil
		}
		delay := s.opts.TransitionDelay
		if node.TransitionDelay > 0 {
			delay = time.Duration(node.TransitionDelay) * time.Millisecond
		}
		if !s.sleep(ctx, delay) {
			return ctx.Err()
		}
		if s.editorOpen.Load() {
			// Редактор открылся за время задержки
			s.logger.Debug("Auto-transition cancelled: editor opened", zap.String("node_id", node.ID))
			s.presentChoices(node)
			return nil
		}
		return s.HandleChoice(ctx, node.Choices[0])

	case len(node.Choices) > 0:
		s.presentChoices(node)
		return nil

	default:
		// Терминальная нода; auto_transition без вариантов выбора инертен
		s.setState(StateIdle)
		return nil
	}
}

// HandleChoice обрабатывает выбор игрока: флешбэки, побочные эффекты флагов,
// промежуточное изображение перехода и навигацию к целевой ноде.
func (s *PlaybackSession) HandleChoice(ctx context.Context, choice models.Choice) error {
	s.setState(StateTransitioning)
	if !s.sleep(ctx, s.opts.FadeDelay) {
		return ctx.Err()
	}

	if choice.FlashbackTrigger {
		return s.enterFlashback(ctx, choice.TargetID)
	}
	if choice.FlashbackEnd {
		return s.exitFlashback(ctx, choice.TargetID)
	}

	if flag, ok := s.opts.FlagEffects[choice.TargetID]; ok {
		s.playerFlags[flag] = true
	}

	if choice.TransitionPrompt != "" {
		// Сбой генерации перехода нефатален - идем к целевой ноде в любом случае
		s.showTransitionImage(ctx, choice)
	}

	return s.ShowNode(ctx, choice.TargetID)
}

func (s *PlaybackSession) enterFlashback(ctx context.Context, targetID string) error {
	frame := flashbackFrame{
		returnNodeID: s.currentNodeID,
		playerFlags:  copyFlags(s.playerFlags),
	}
	s.flashbackStack = append(s.flashbackStack, frame)
	s.logger.Debug("Entering flashback",
		zap.String("return_node", frame.returnNodeID),
		zap.Int("depth", len(s.flashbackStack)),
	)
	s.setState(StateInFlashback)
	return s.ShowNode(ctx, targetID)
}

func (s *PlaybackSession) exitFlashback(ctx context.Context, targetID string) error {
	if len(s.flashbackStack) == 0 {
		// Контентная ошибка: завершение флешбэка без его начала.
		// Не падаем - уходим на безопасную ноду.
		s.logger.Error("Cannot exit flashback: stack is empty",
			zap.String("fallback_node", s.opts.FallbackNodeID),
		)
		return s.ShowNode(ctx, s.opts.FallbackNodeID)
	}

	frame := s.flashbackStack[len(s.flashbackStack)-1]
	s.flashbackStack = s.flashbackStack[:len(s.flashbackStack)-1]
	s.playerFlags = frame.playerFlags
	s.logger.Debug("Exiting flashback",
		zap.String("return_node", frame.returnNodeID),
		zap.Int("depth", len(s.flashbackStack)),
	)

	// Выбор, завершающий флешбэк, может указать явную цель;
	// иначе возвращаемся к ноде, запустившей флешбэк
	destination := targetID
	if destination == "" {
		destination = frame.returnNodeID
	}
	return s.ShowNode(ctx, destination)
}

// recordVisit ведет историю посещений. Возврат к уже посещенной ноде
// обрезает историю до нее (семантика браузерной истории: новый путь
// вперед вытесняет старую ветку).
func (s *PlaybackSession) recordVisit(nodeID string) {
	for i, id := range s.visitedNodes {
		if id == nodeID {
			s.visitedNodes = s.visitedNodes[:i+1]
			return
		}
	}
	if n := len(s.visitedNodes); n == 0 || s.visitedNodes[n-1] != nodeID {
		s.visitedNodes = append(s.visitedNodes, nodeID)
	}
}

func (s *PlaybackSession) presentChoices(node *models.Node) {
	s.setState(StateAwaitingChoice)
	s.presenter.ChoicesPresented(node.Choices)
}

func (s *PlaybackSession) setState(to State) {
	if s.state == to {
		return
	}
	from := s.state
	s.state = to
	s.presenter.StateChanged(from, to)
}

// SkipTextAnimation досрочно завершает анимацию текущего фрагмента текста:
// фрагмент показывается целиком, последующие фрагменты анимируются как обычно.
func (s *PlaybackSession) SkipTextAnimation() {
	s.skipText.Store(true)
}

// CancelGeneration отменяет основную генерацию изображения, если она в полете.
// Отмена поглощается молча и возвращает сессию в состояние до перехода.
func (s *PlaybackSession) CancelGeneration() {
	s.genMu.Lock()
	cancel := s.genCancel
	s.genMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// SetEditorOpen выставляет внешний признак "редактор открыт":
// автопереходы приостанавливаются, вместо них показываются варианты выбора.
func (s *PlaybackSession) SetEditorOpen(open bool) {
	s.editorOpen.Store(open)
}

// IsGenerating сообщает, идет ли сейчас основная генерация изображения.
func (s *PlaybackSession) IsGenerating() bool {
	return s.isGenerating.Load()
}

// State возвращает текущее состояние машины.
func (s *PlaybackSession) State() State {
	return s.state
}

// CurrentNodeID возвращает id текущей ноды.
func (s *PlaybackSession) CurrentNodeID() string {
	return s.currentNodeID
}

// VisitedNodes возвращает копию истории посещений.
func (s *PlaybackSession) VisitedNodes() []string {
	return append([]string(nil), s.visitedNodes...)
}

// PlayerFlags возвращает копию флагов состояния игрока.
func (s *PlaybackSession) PlayerFlags() map[string]bool {
	return copyFlags(s.playerFlags)
}

// FlashbackDepth возвращает глубину стека флешбэков.
func (s *PlaybackSession) FlashbackDepth() int {
	return len(s.flashbackStack)
}

// Cache возвращает кэш изображений сессии.
func (s *PlaybackSession) Cache() *ImageCache {
	return s.cache
}

// WaitForPreloads дожидается завершения фоновых прелоадов (для тестов).
func (s *PlaybackSession) WaitForPreloads() {
	s.preloads.Wait()
}

// sleep выдерживает паузу, уважая отмену контекста.
// Возвращает false, если контекст отменен.
func (s *PlaybackSession) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func copyFlags(flags map[string]bool) map[string]bool {
	out := make(map[string]bool, len(flags))
	for k, v := range flags {
		out[k] = v
	}
	return out
}
