package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyRedirects(t *testing.T) {
	rules := []RedirectRule{
		{
			FromNodeID:    "vault",
			ToNodeID:      "locked_door",
			UnlessAnyFlag: []string{"hasKey", "pickedLock"},
		},
	}

	t.Run("gate closed without flags", func(t *testing.T) {
		got := applyRedirects(rules, "vault", map[string]bool{})
		assert.Equal(t, "locked_door", got)
	})

	t.Run("any flag opens the gate", func(t *testing.T) {
		assert.Equal(t, "vault", applyRedirects(rules, "vault", map[string]bool{"hasKey": true}))
		assert.Equal(t, "vault", applyRedirects(rules, "vault", map[string]bool{"pickedLock": true}))
	})

	t.Run("unrelated nodes pass through", func(t *testing.T) {
		assert.Equal(t, "corridor", applyRedirects(rules, "corridor", nil))
	})

	t.Run("false flag does not open the gate", func(t *testing.T) {
		got := applyRedirects(rules, "vault", map[string]bool{"hasKey": false})
		assert.Equal(t, "locked_door", got)
	})
}

func TestImageCache(t *testing.T) {
	cache := NewImageCache()

	t.Run("get and set", func(t *testing.T) {
		_, ok := cache.Get("node")
		assert.False(t, ok)
		cache.Set("node", "data:image/png;base64,abc")
		src, ok := cache.Get("node")
		assert.True(t, ok)
		assert.Equal(t, "data:image/png;base64,abc", src)
	})

	t.Run("transition key shape", func(t *testing.T) {
		assert.Equal(t, "bridge->finale", TransitionKey("bridge", "finale"))
	})

	t.Run("delete", func(t *testing.T) {
		cache.Set("gone", "src")
		cache.Delete("gone")
		_, ok := cache.Get("gone")
		assert.False(t, ok)
	})

	t.Run("first location master wins", func(t *testing.T) {
		cache.SetLocationMaster("bar", []byte("first"))
		cache.SetLocationMaster("bar", []byte("second"))
		data, ok := cache.LocationMaster("bar")
		assert.True(t, ok)
		assert.Equal(t, []byte("first"), data)
	})

	t.Run("empty location or data ignored", func(t *testing.T) {
		cache.SetLocationMaster("", []byte("x"))
		cache.SetLocationMaster("empty", nil)
		_, ok := cache.LocationMaster("")
		assert.False(t, ok)
		_, ok = cache.LocationMaster("empty")
		assert.False(t, ok)
	})
}
