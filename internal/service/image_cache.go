package service

import (
	"fmt"
	"sync"
)

// ImageCache - кэш изображений на время жизни сессии. Ключи - либо id ноды,
// либо ключ перехода "from->to". Отдельно хранятся мастер-изображения локаций:
// первое успешно сгенерированное изображение локации используется как контекст
// для последующих нод той же локации.
//
// Кэш потокобезопасен: фоновые прелоады пишут в него параллельно
// с основным путем.
type ImageCache struct {
	mu      sync.RWMutex
	images  map[string]string // источник для показа (data URL или URL)
	masters map[string][]byte // контекстные байты по локации
}

// NewImageCache создает пустой кэш.
func NewImageCache() *ImageCache {
	return &ImageCache{
		images:  make(map[string]string),
		masters: make(map[string][]byte),
	}
}

// TransitionKey возвращает ключ промежуточного изображения перехода.
func TransitionKey(fromID, toID string) string {
	return fmt.Sprintf("%s->%s", fromID, toID)
}

// Get возвращает закэшированный источник изображения.
func (c *ImageCache) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	src, ok := c.images[key]
	return src, ok
}

// Set кладет источник изображения в кэш.
func (c *ImageCache) Set(key, src string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.images[key] = src
}

// Delete убирает запись из кэша (очистка изображения в редакторе).
func (c *ImageCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.images, key)
}

// LocationMaster возвращает мастер-изображение локации.
func (c *ImageCache) LocationMaster(location string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.masters[location]
	return data, ok
}

// SetLocationMaster запоминает мастер-изображение локации.
// Побеждает первое изображение: повторные вызовы для той же локации
// игнорируются, чтобы контекст локации не дрейфовал.
func (c *ImageCache) SetLocationMaster(location string, data []byte) {
	if location == "" || len(data) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.masters[location]; ok {
		return
	}
	c.masters[location] = data
}

// Len возвращает число закэшированных изображений (без мастеров локаций).
func (c *ImageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.images)
}
