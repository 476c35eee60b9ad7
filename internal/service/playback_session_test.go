package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"story-server/internal/generation"
	"story-server/internal/models"
)

// newSession создает сессию с нулевыми задержками и пустыми таблицами правил,
// чтобы тесты не зависели от таймингов и контента по умолчанию.
func newSession(doc *models.StoryDocument, gen generation.Generator, store StoryStore, p Presenter, opts Options) *PlaybackSession {
	if opts.StartNodeID == "" {
		opts.StartNodeID = "a"
	}
	if opts.FallbackNodeID == "" {
		opts.FallbackNodeID = "safe"
	}
	if opts.RedirectRules == nil {
		opts.RedirectRules = []RedirectRule{}
	}
	if opts.FlagEffects == nil {
		opts.FlagEffects = map[string]string{}
	}
	return NewPlaybackSession(doc, store, gen, p, zap.NewNop(), opts)
}

func linearDoc() *models.StoryDocument {
	return &models.StoryDocument{
		Nodes: map[string]*models.Node{
			"a": {ID: "a", Text: "Hello world||Second part", Choices: []models.Choice{
				{Text: "to b", TargetID: "b"},
			}},
			"b": {ID: "b", Text: "B", Choices: []models.Choice{
				{Text: "to c", TargetID: "c"},
			}},
			"c": {ID: "c", Text: "C", Choices: []models.Choice{
				{Text: "back", TargetID: "a"},
			}},
			"safe": {ID: "safe", Text: "safe"},
		},
	}
}

func TestShowNodePresentsChoices(t *testing.T) {
	p := &recordingPresenter{}
	s := newSession(linearDoc(), new(MockGenerator), new(MockStoryStore), p, Options{})

	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, "a", s.CurrentNodeID())
	assert.Equal(t, StateAwaitingChoice, s.State())
	assert.Equal(t, []State{StateTransitioning, StateLoadingImage, StateTypingText, StateAwaitingChoice}, p.states)
	assert.Equal(t, []string{"Hello", "world", "Second", "part"}, p.words)
	assert.Equal(t, []string{"Hello world", "Second part"}, p.chunks)
	require.Len(t, p.choices, 1)
	assert.Equal(t, "to b", p.choices[0][0].Text)
	assert.Equal(t, "", p.lastImage(), "node without image sources shows an empty scene")
}

func TestVisitedHistoryTruncation(t *testing.T) {
	ctx := context.Background()
	doc := linearDoc()
	s := newSession(doc, new(MockGenerator), new(MockStoryStore), NopPresenter{}, Options{})

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.HandleChoice(ctx, doc.Nodes["a"].Choices[0]))
	require.NoError(t, s.HandleChoice(ctx, doc.Nodes["b"].Choices[0]))
	assert.Equal(t, []string{"a", "b", "c"}, s.VisitedNodes())

	// Возврат к уже посещенной ноде обрезает историю до нее
	require.NoError(t, s.HandleChoice(ctx, doc.Nodes["c"].Choices[0]))
	assert.Equal(t, []string{"a"}, s.VisitedNodes())

	// Повторный показ текущей ноды не дублирует запись
	require.NoError(t, s.ShowNode(ctx, "a"))
	assert.Equal(t, []string{"a"}, s.VisitedNodes())
}

func TestSoftGateRedirect(t *testing.T) {
	ctx := context.Background()
	doc := &models.StoryDocument{
		Nodes: map[string]*models.Node{
			"gated": {ID: "gated", Text: "secret"},
			"alt":   {ID: "alt", Text: "detour"},
			"safe":  {ID: "safe"},
		},
	}
	opts := Options{
		RedirectRules: []RedirectRule{
			{FromNodeID: "gated", ToNodeID: "alt", UnlessAnyFlag: []string{"sawClue"}},
		},
	}

	t.Run("redirects without the flag", func(t *testing.T) {
		s := newSession(doc, new(MockGenerator), new(MockStoryStore), NopPresenter{}, opts)
		require.NoError(t, s.ShowNode(ctx, "gated"))
		assert.Equal(t, "alt", s.CurrentNodeID())
		assert.Equal(t, []string{"alt"}, s.VisitedNodes(), "history records the redirected node")
	})

	t.Run("flag opens the gate", func(t *testing.T) {
		s := newSession(doc, new(MockGenerator), new(MockStoryStore), NopPresenter{}, opts)
		s.playerFlags["sawClue"] = true
		require.NoError(t, s.ShowNode(ctx, "gated"))
		assert.Equal(t, "gated", s.CurrentNodeID())
	})
}

func TestFlashbackRestoresPlayerState(t *testing.T) {
	ctx := context.Background()
	doc := &models.StoryDocument{
		Nodes: map[string]*models.Node{
			"a": {ID: "a", Choices: []models.Choice{
				{Text: "remember", TargetID: "f", FlashbackTrigger: true},
			}},
			"f": {ID: "f", Choices: []models.Choice{
				{Text: "deeper", TargetID: "fx"},
			}},
			"fx": {ID: "fx", Choices: []models.Choice{
				{Text: "wake up", TargetID: "", FlashbackEnd: true},
			}},
			"safe": {ID: "safe"},
		},
	}
	p := &recordingPresenter{}
	s := newSession(doc, new(MockGenerator), new(MockStoryStore), p, Options{
		FlagEffects: map[string]string{"fx": "insideFlashback"},
	})

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.HandleChoice(ctx, doc.Nodes["a"].Choices[0]))
	assert.Equal(t, 1, s.FlashbackDepth())
	assert.Equal(t, "f", s.CurrentNodeID())
	assert.Contains(t, p.states, StateInFlashback)

	// Флаг, поднятый внутри флешбэка
	require.NoError(t, s.HandleChoice(ctx, doc.Nodes["f"].Choices[0]))
	assert.True(t, s.PlayerFlags()["insideFlashback"])

	// Выход: возврат к точке входа, флаги откатываются к снимку
	require.NoError(t, s.HandleChoice(ctx, doc.Nodes["fx"].Choices[0]))
	assert.Equal(t, 0, s.FlashbackDepth())
	assert.Equal(t, "a", s.CurrentNodeID())
	assert.False(t, s.PlayerFlags()["insideFlashback"],
		"flags mutated inside the flashback are discarded on exit")
}

func TestFlashbackEndWithExplicitTarget(t *testing.T) {
	ctx := context.Background()
	doc := &models.StoryDocument{
		Nodes: map[string]*models.Node{
			"a": {ID: "a", Choices: []models.Choice{
				{Text: "remember", TargetID: "f", FlashbackTrigger: true},
			}},
			"f": {ID: "f", Choices: []models.Choice{
				{Text: "wake elsewhere", TargetID: "b", FlashbackEnd: true},
			}},
			"b":    {ID: "b", Text: "elsewhere"},
			"safe": {ID: "safe"},
		},
	}
	s := newSession(doc, new(MockGenerator), new(MockStoryStore), NopPresenter{}, Options{})

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.HandleChoice(ctx, doc.Nodes["a"].Choices[0]))
	require.NoError(t, s.HandleChoice(ctx, doc.Nodes["f"].Choices[0]))
	assert.Equal(t, "b", s.CurrentNodeID(), "explicit target overrides the return node")
	assert.Equal(t, 0, s.FlashbackDepth())
}

func TestFlashbackUnderflowFallsBack(t *testing.T) {
	ctx := context.Background()
	s := newSession(linearDoc(), new(MockGenerator), new(MockStoryStore), NopPresenter{}, Options{})
	require.NoError(t, s.Start(ctx))

	err := s.HandleChoice(ctx, models.Choice{Text: "broken end", FlashbackEnd: true})
	require.NoError(t, err)
	assert.Equal(t, "safe", s.CurrentNodeID(), "ending a flashback that never started lands on the safe node")
}

func TestFlashbackUnderflowDefaultsToStartNode(t *testing.T) {
	ctx := context.Background()
	// Без явной безопасной ноды underflow возвращает на стартовую
	s := NewPlaybackSession(linearDoc(), new(MockStoryStore), new(MockGenerator), NopPresenter{}, zap.NewNop(), Options{
		StartNodeID:   "a",
		RedirectRules: []RedirectRule{},
		FlagEffects:   map[string]string{},
	})
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.HandleChoice(ctx, models.Choice{Text: "broken end", FlashbackEnd: true}))
	assert.Equal(t, "a", s.CurrentNodeID())
}

func TestPlaybackSessionIsolatedFromDocumentEdits(t *testing.T) {
	ctx := context.Background()
	doc := linearDoc()
	a := newAuthoring(doc, new(MockGenerator), new(MockStoryStore))

	// Сессия играет поверх снимка, редактор в это время переписывает оригинал
	s := newSession(doc.Clone(), new(MockGenerator), new(MockStoryStore), NopPresenter{}, Options{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_ = a.ReplaceDocument(&models.StoryDocument{
				Nodes: map[string]*models.Node{"solo": {Text: "rewritten"}},
			})
		}
	}()

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.HandleChoice(ctx, models.Choice{Text: "to b", TargetID: "b"}))
	<-done

	assert.Equal(t, "b", s.CurrentNodeID(), "the session keeps its own graph")
	assert.Contains(t, doc.Nodes, "solo")
}

func TestAutoTransitionFollowsFirstChoice(t *testing.T) {
	ctx := context.Background()
	doc := &models.StoryDocument{
		Nodes: map[string]*models.Node{
			"a": {ID: "a", AutoTransition: true, Choices: []models.Choice{
				{Text: "onward", TargetID: "b"},
			}},
			"b":    {ID: "b", Choices: []models.Choice{{Text: "stay", TargetID: "b"}}},
			"safe": {ID: "safe"},
		},
	}
	s := newSession(doc, new(MockGenerator), new(MockStoryStore), NopPresenter{}, Options{})

	require.NoError(t, s.Start(ctx))
	assert.Equal(t, "b", s.CurrentNodeID())
	assert.Equal(t, []string{"a", "b"}, s.VisitedNodes())
}

func TestAutoTransitionWithoutChoicesIsInert(t *testing.T) {
	ctx := context.Background()
	doc := &models.StoryDocument{
		Nodes: map[string]*models.Node{
			"a":    {ID: "a", Text: "the end?", AutoTransition: true},
			"safe": {ID: "safe"},
		},
	}
	p := &recordingPresenter{}
	s := newSession(doc, new(MockGenerator), new(MockStoryStore), p, Options{})

	require.NoError(t, s.Start(ctx))
	assert.Equal(t, "a", s.CurrentNodeID())
	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, p.choices)
}

func TestTerminalNodeWithDelaySettlesIdle(t *testing.T) {
	ctx := context.Background()
	doc := &models.StoryDocument{
		Nodes: map[string]*models.Node{
			"a":    {ID: "a", Text: "The End", AutoTransitionDelay: 1},
			"safe": {ID: "safe"},
		},
	}
	p := &recordingPresenter{}
	s := newSession(doc, new(MockGenerator), new(MockStoryStore), p, Options{})

	require.NoError(t, s.Start(ctx))
	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, p.choices)
}

func TestAutoFlashbackTakesPrecedenceOverAutoTransition(t *testing.T) {
	ctx := context.Background()
	doc := &models.StoryDocument{
		Nodes: map[string]*models.Node{
			"a": {ID: "a", AutoFlashback: "f", AutoTransition: true, Choices: []models.Choice{
				{Text: "never taken", TargetID: "b"},
			}},
			"f":    {ID: "f", Text: "memory"},
			"b":    {ID: "b"},
			"safe": {ID: "safe"},
		},
	}
	s := newSession(doc, new(MockGenerator), new(MockStoryStore), NopPresenter{}, Options{})

	require.NoError(t, s.Start(ctx))
	assert.Equal(t, "f", s.CurrentNodeID())
	assert.Equal(t, 1, s.FlashbackDepth())
}

func TestBrokenPathReported(t *testing.T) {
	ctx := context.Background()
	p := &recordingPresenter{}
	s := newSession(linearDoc(), new(MockGenerator), new(MockStoryStore), p, Options{})

	err := s.ShowNode(ctx, "ghost")
	assert.ErrorIs(t, err, models.ErrNodeNotFound)
	assert.Equal(t, []string{"ghost"}, p.brokenNodes)
	assert.Equal(t, StateIdle, s.State())
}

func TestEditorOpenSuspendsAutoTransition(t *testing.T) {
	ctx := context.Background()
	doc := &models.StoryDocument{
		Nodes: map[string]*models.Node{
			"a": {ID: "a", AutoTransition: true, Choices: []models.Choice{
				{Text: "onward", TargetID: "b"},
			}},
			"b":    {ID: "b"},
			"safe": {ID: "safe"},
		},
	}
	p := &recordingPresenter{}
	s := newSession(doc, new(MockGenerator), new(MockStoryStore), p, Options{})
	s.SetEditorOpen(true)

	require.NoError(t, s.Start(ctx))
	assert.Equal(t, "a", s.CurrentNodeID(), "auto-transition is suspended while the editor is open")
	require.Len(t, p.choices, 1)
}

func TestSkipTextAnimation(t *testing.T) {
	ctx := context.Background()
	doc := &models.StoryDocument{
		Nodes: map[string]*models.Node{
			"a":    {ID: "a", Text: "one two three||four five"},
			"safe": {ID: "safe"},
		},
	}
	p := &recordingPresenter{}
	var s *PlaybackSession
	skipped := false
	p.onWord = func(word string) {
		if !skipped {
			skipped = true
			s.SkipTextAnimation()
		}
	}
	s = newSession(doc, new(MockGenerator), new(MockStoryStore), p, Options{})

	require.NoError(t, s.Start(ctx))
	assert.Equal(t, []string{"one", "four", "five"}, p.words,
		"skip finishes only the current chunk, the next chunk animates normally")
	assert.Equal(t, []string{"one two three", "four five"}, p.chunks,
		"a skipped chunk is still completed with its full text")
}
