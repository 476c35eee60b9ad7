package storage

import (
	"context"
	"errors"
)

// ErrObjectNotFound возвращается, когда по ключу в хранилище ничего нет.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore - контракт объектного хранилища, в котором живут документ
// истории и байты сгенерированных изображений. Реализации должны выдерживать
// многомегабайтные значения; верхние ограничения размера применяет
// StoryRepository до записи.
type ObjectStore interface {
	// Get возвращает значение по ключу или ErrObjectNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put записывает значение по ключу, перезаписывая существующее.
	Put(ctx context.Context, key string, data []byte) error
	// Delete удаляет значение по ключу. Отсутствие ключа не является ошибкой.
	Delete(ctx context.Context, key string) error
}
