package service

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"story-server/internal/generation"
	"story-server/internal/models"
)

// MockGenerator - мок генеративного API.
type MockGenerator struct {
	mock.Mock
}

var _ generation.Generator = (*MockGenerator)(nil)

func (m *MockGenerator) Generate(ctx context.Context, req generation.Request) ([]byte, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// MockStoryStore - мок хранилища истории.
type MockStoryStore struct {
	mock.Mock
}

var _ StoryStore = (*MockStoryStore)(nil)

func (m *MockStoryStore) Save(ctx context.Context, doc *models.StoryDocument) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}

func (m *MockStoryStore) PutImage(ctx context.Context, nodeID string, data []byte) error {
	args := m.Called(ctx, nodeID, data)
	return args.Error(0)
}

func (m *MockStoryStore) GetImage(ctx context.Context, nodeID string) ([]byte, error) {
	args := m.Called(ctx, nodeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockStoryStore) DeleteImage(ctx context.Context, nodeID string) error {
	args := m.Called(ctx, nodeID)
	return args.Error(0)
}

// recordingPresenter копит события сессии для проверок в тестах.
// onWord позволяет тесту вмешаться в анимацию (пропуск) детерминированно,
// из горутины сессии.
type recordingPresenter struct {
	onWord func(word string)

	mu          sync.Mutex
	states      []State
	images      []string
	chunks      []string
	words       []string
	choices     [][]models.Choice
	brokenNodes []string
	boundaries  []string
}

var _ Presenter = (*recordingPresenter)(nil)

func (p *recordingPresenter) StateChanged(from, to State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, to)
}

func (p *recordingPresenter) DisplayImage(src string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.images = append(p.images, src)
}

func (p *recordingPresenter) TextChunkStarted(index int) {}

func (p *recordingPresenter) WordRevealed(word string) {
	p.mu.Lock()
	p.words = append(p.words, word)
	p.mu.Unlock()
	if p.onWord != nil {
		p.onWord(word)
	}
}

func (p *recordingPresenter) TextChunkCompleted(index int, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunks = append(p.chunks, text)
}

func (p *recordingPresenter) ChoicesPresented(choices []models.Choice) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.choices = append(p.choices, choices)
}

func (p *recordingPresenter) PathBroken(nodeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.brokenNodes = append(p.brokenNodes, nodeID)
}

func (p *recordingPresenter) ContentBoundaryReached(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.boundaries = append(p.boundaries, message)
}

func (p *recordingPresenter) lastImage() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.images) == 0 {
		return ""
	}
	return p.images[len(p.images)-1]
}
