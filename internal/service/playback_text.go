package service

import (
	"context"
	"strings"

	"story-server/internal/models"
)

// displayText проигрывает кооперативную анимацию текста ноды: текст режется
// на фрагменты по "||", каждый фрагмент показывается по словам с паузой
// WordDelay, между фрагментами выдерживается ChunkPause. SkipTextAnimation
// досрочно завершает только текущий фрагмент - последующие анимируются
// как обычно. Возвращает false, если контекст отменен посреди анимации.
func (s *PlaybackSession) displayText(ctx context.Context, node *models.Node) bool {
	for i, chunk := range splitChunks(node.Text) {
		s.skipText.Store(false)
		s.presenter.TextChunkStarted(i)

		words := strings.Fields(chunk)
		for w, word := range words {
			if s.skipText.Load() {
				break
			}
			s.presenter.WordRevealed(word)
			if w < len(words)-1 {
				if !s.sleep(ctx, s.opts.WordDelay) {
					return false
				}
			}
		}

		// Фрагмент закрывается полным текстом: при пропуске анимации
		// слова могли не дойти по одному
		s.presenter.TextChunkCompleted(i, chunk)
		if !s.sleep(ctx, s.opts.ChunkPause) {
			return false
		}
	}
	return true
}

func splitChunks(text string) []string {
	parts := strings.Split(text, "||")
	chunks := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			chunks = append(chunks, p)
		}
	}
	return chunks
}
