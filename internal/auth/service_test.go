package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"story-server/internal/models"
)

func newTestService(t *testing.T, ttl time.Duration) *Service {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)
	return NewService(Config{
		JWTSecret:         "test-secret",
		AdminPasswordHash: string(hash),
		TokenTTL:          ttl,
	}, NewMemoryTokenStore(), zap.NewNop())
}

func TestLoginAndValidate(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, time.Hour)

	token, err := svc.Login(ctx, "correct horse")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	jti, err := svc.Validate(ctx, token)
	require.NoError(t, err)
	assert.NotEmpty(t, jti)
	assert.True(t, svc.IsAuthorized(ctx, token))
}

func TestLoginWrongPassword(t *testing.T) {
	svc := newTestService(t, time.Hour)
	_, err := svc.Login(context.Background(), "battery staple")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
}

func TestValidateRejectsGarbage(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, time.Hour)

	_, err := svc.Validate(ctx, "not-a-token")
	assert.ErrorIs(t, err, models.ErrTokenInvalid)
	assert.False(t, svc.IsAuthorized(ctx, "not-a-token"))
}

func TestValidateRejectsForeignSignature(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, time.Hour)
	other := newTestService(t, time.Hour)
	// Другой инстанс - другой секрет? Секрет одинаковый, подменяем вручную
	other.cfg.JWTSecret = "different-secret"

	token, err := other.Login(ctx, "correct horse")
	require.NoError(t, err)

	_, err = svc.Validate(ctx, token)
	assert.ErrorIs(t, err, models.ErrTokenInvalid)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, -time.Minute)

	token, err := svc.Login(ctx, "correct horse")
	require.NoError(t, err)

	_, err = svc.Validate(ctx, token)
	assert.ErrorIs(t, err, models.ErrTokenInvalid)
}

func TestLogoutRevokesToken(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, time.Hour)

	token, err := svc.Login(ctx, "correct horse")
	require.NoError(t, err)
	require.True(t, svc.IsAuthorized(ctx, token))

	require.NoError(t, svc.Logout(ctx, token))
	assert.False(t, svc.IsAuthorized(ctx, token))
	_, err = svc.Validate(ctx, token)
	assert.ErrorIs(t, err, models.ErrTokenInvalid)
}

func TestMemoryTokenStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTokenStore()

	require.NoError(t, store.Revoke(ctx, "jti-1", time.Hour))
	revoked, err := store.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	// Отрицательный TTL означает уже истекший токен - запись не нужна
	require.NoError(t, store.Revoke(ctx, "jti-2", -time.Minute))
	revoked, err = store.IsRevoked(ctx, "jti-2")
	require.NoError(t, err)
	assert.False(t, revoked)
}
