package service

import "story-server/internal/models"

// State - именованное состояние машины проигрывания.
type State string

const (
	StateIdle           State = "idle"
	StateTransitioning  State = "transitioning"
	StateLoadingImage   State = "loading_image"
	StateTypingText     State = "typing_text"
	StateAwaitingChoice State = "awaiting_choice"
	StateInFlashback    State = "in_flashback"
)

// Presenter - подписчик на события сессии проигрывания. Движок не знает
// ничего о слое отображения: он только сообщает, что произошло, а браузер
// (через WebSocket) или тест решают, как это показать.
//
// Все методы вызываются последовательно из горутины, обслуживающей сессию.
type Presenter interface {
	// StateChanged сообщает о переходе машины состояний.
	StateChanged(from, to State)

	// DisplayImage передает источник изображения сцены: data URL, сырой
	// URL-указатель либо пустую строку, если сцена остается без изображения.
	DisplayImage(src string)

	// TextChunkStarted открывает анимацию очередного фрагмента текста.
	TextChunkStarted(index int)

	// WordRevealed показывает очередное слово фрагмента.
	WordRevealed(word string)

	// TextChunkCompleted закрывает фрагмент; text - полный текст фрагмента
	// (при пропуске анимации слова могли не приходить по одному).
	TextChunkCompleted(index int, text string)

	// ChoicesPresented показывает варианты выбора и включает ввод.
	ChoicesPresented(choices []models.Choice)

	// PathBroken сообщает о повисшем ребре: целевой ноды нет в документе.
	PathBroken(nodeID string)

	// ContentBoundaryReached сообщает о мягкой границе контента:
	// генерация недоступна игроку, история дальше не отрисована.
	ContentBoundaryReached(message string)
}

// NopPresenter - пустая реализация Presenter.
type NopPresenter struct{}

var _ Presenter = NopPresenter{}

func (NopPresenter) StateChanged(from, to State)               {}
func (NopPresenter) DisplayImage(src string)                   {}
func (NopPresenter) TextChunkStarted(index int)                {}
func (NopPresenter) WordRevealed(word string)                  {}
func (NopPresenter) TextChunkCompleted(index int, text string) {}
func (NopPresenter) ChoicesPresented(choices []models.Choice)  {}
func (NopPresenter) PathBroken(nodeID string)                  {}
func (NopPresenter) ContentBoundaryReached(message string)     {}
