package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"story-server/internal/models"
	"story-server/internal/service"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Происхождение проверяет CORS-слой HTTP API
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsEvent - событие сессии проигрывания, уходящее в браузер.
type wsEvent struct {
	Type    string          `json:"type"`
	From    service.State   `json:"from,omitempty"`
	To      service.State   `json:"to,omitempty"`
	Src     *string         `json:"src,omitempty"`
	Index   int             `json:"index,omitempty"`
	Word    string          `json:"word,omitempty"`
	Text    string          `json:"text,omitempty"`
	Choices []models.Choice `json:"choices,omitempty"`
	NodeID  string          `json:"node_id,omitempty"`
	Message string          `json:"message,omitempty"`
}

// wsCommand - команда игрока из браузера.
type wsCommand struct {
	Type   string `json:"type"` // start, choice, skip, cancel, editor
	Index  int    `json:"index,omitempty"`
	NodeID string `json:"node_id,omitempty"`
	Open   bool   `json:"open,omitempty"`
}

// wsPresenter транслирует события Presenter в JSON-сообщения соединения.
// Отправка идет через канал и одну пишущую горутину - методы Presenter
// вызываются из горутины сессии и не должны блокироваться на сети.
type wsPresenter struct {
	send   chan []byte
	logger *zap.Logger

	mu          sync.Mutex
	lastChoices []models.Choice
}

var _ service.Presenter = (*wsPresenter)(nil)

func newWSPresenter(logger *zap.Logger) *wsPresenter {
	return &wsPresenter{
		send:   make(chan []byte, sendBufferSize),
		logger: logger,
	}
}

func (p *wsPresenter) emit(event wsEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal playback event", zap.Error(err))
		return
	}
	select {
	case p.send <- payload:
	default:
		// Клиент не успевает читать - событие отбрасывается,
		// состояние восстановится на следующем переходе
		p.logger.Warn("Playback event dropped: send buffer full", zap.String("type", event.Type))
	}
}

func (p *wsPresenter) StateChanged(from, to service.State) {
	p.emit(wsEvent{Type: "state", From: from, To: to})
}

func (p *wsPresenter) DisplayImage(src string) {
	p.emit(wsEvent{Type: "image", Src: &src})
}

func (p *wsPresenter) TextChunkStarted(index int) {
	p.emit(wsEvent{Type: "chunk_started", Index: index})
}

func (p *wsPresenter) WordRevealed(word string) {
	p.emit(wsEvent{Type: "word", Word: word})
}

func (p *wsPresenter) TextChunkCompleted(index int, text string) {
	p.emit(wsEvent{Type: "chunk_completed", Index: index, Text: text})
}

func (p *wsPresenter) ChoicesPresented(choices []models.Choice) {
	p.mu.Lock()
	p.lastChoices = choices
	p.mu.Unlock()
	p.emit(wsEvent{Type: "choices", Choices: choices})
}

func (p *wsPresenter) PathBroken(nodeID string) {
	p.emit(wsEvent{Type: "path_broken", NodeID: nodeID})
}

func (p *wsPresenter) ContentBoundaryReached(message string) {
	p.emit(wsEvent{Type: "end_of_content", Message: message})
}

func (p *wsPresenter) choiceAt(index int) (models.Choice, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.lastChoices) {
		return models.Choice{}, false
	}
	return p.lastChoices[index], true
}

// playbackSocket обслуживает одну сессию проигрывания поверх WebSocket.
// Навигационные команды (start, choice) сериализуются через канал и
// выполняются одной горутиной сессии; управляющие команды (skip, cancel,
// editor) применяются немедленно из читающей горутины.
func (h *Handler) playbackSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	playbackSessions.Inc()
	defer playbackSessions.Dec()

	sessionID := uuid.NewString()
	logger := h.logger.With(zap.String("session_id", sessionID))
	logger.Info("Playback session connected")
	defer logger.Info("Playback session closed")

	presenter := newWSPresenter(logger)

	// Сессия играет поверх собственного снимка документа: правки редактора
	// не гоняются с чтениями графа и становятся видны новым подключениям
	h.docMu.RLock()
	doc := h.authoring.Document().Clone()
	h.docMu.RUnlock()

	session := service.NewPlaybackSession(doc, h.repo, h.generator, presenter, h.logger, h.opts)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Пишущая горутина: единственный писатель соединения
	go func() {
		for {
			select {
			case payload, ok := <-presenter.send:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// Горутина сессии: навигация строго последовательна
	nav := make(chan wsCommand, 8)
	var sessionDone sync.WaitGroup
	sessionDone.Add(1)
	go func() {
		defer sessionDone.Done()
		for cmd := range nav {
			var err error
			switch cmd.Type {
			case "start":
				err = session.Start(ctx)
			case "choice":
				choice, ok := presenter.choiceAt(cmd.Index)
				if !ok {
					logger.Warn("Choice index out of range", zap.Int("index", cmd.Index))
					continue
				}
				err = session.HandleChoice(ctx, choice)
			}
			if err != nil && ctx.Err() == nil {
				logger.Warn("Playback navigation failed",
					zap.String("command", cmd.Type),
					zap.Error(err),
				)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	// Читающая горутина - текущая: жизнь обработчика равна жизни соединения
	for {
		var cmd wsCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("WebSocket read failed", zap.Error(err))
			}
			break
		}
		switch cmd.Type {
		case "skip":
			session.SkipTextAnimation()
		case "cancel":
			session.CancelGeneration()
		case "editor":
			session.SetEditorOpen(cmd.Open)
		case "start", "choice":
			select {
			case nav <- cmd:
			default:
				logger.Warn("Navigation command dropped: queue full", zap.String("command", cmd.Type))
			}
		default:
			logger.Warn("Unknown playback command", zap.String("command", cmd.Type))
		}
	}

	cancel()
	close(nav)
	sessionDone.Wait()
	session.WaitForPreloads()
}
