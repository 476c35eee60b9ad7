package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"story-server/internal/models"
)

// Config - параметры выдачи и проверки админских токенов.
type Config struct {
	JWTSecret         string
	AdminPasswordHash string // bcrypt-хэш пароля редактора
	TokenTTL          time.Duration
}

// Service выдает и проверяет токены доступа к редактору и генерации.
// Логин по паролю возвращает JWT; отзыв ведется по jti в TokenStore.
type Service struct {
	cfg    Config
	store  TokenStore
	logger *zap.Logger
}

// Authorizer - ответ "да/нет", который нужен ядру от авторизации.
// Остальное (формат токена, отзыв) для ядра непрозрачно.
type Authorizer interface {
	IsAuthorized(ctx context.Context, credential string) bool
}

var _ Authorizer = (*Service)(nil)

func NewService(cfg Config, store TokenStore, logger *zap.Logger) *Service {
	return &Service{
		cfg:    cfg,
		store:  store,
		logger: logger.Named("AuthService"),
	}
}

// Login проверяет пароль редактора и выдает подписанный токен.
func (s *Service) Login(ctx context.Context, password string) (string, error) {
	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.AdminPasswordHash), []byte(password)); err != nil {
		s.logger.Warn("Login attempt with invalid password")
		return "", models.ErrInvalidCredentials
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   "admin",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	s.logger.Info("Admin token issued", zap.String("jti", claims.ID))
	return signed, nil
}

// Validate проверяет подпись, срок действия и отзыв токена.
// Возвращает jti валидного токена.
func (s *Service) Validate(ctx context.Context, tokenString string) (string, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return "", err
	}

	revoked, err := s.store.IsRevoked(ctx, claims.ID)
	if err != nil {
		return "", fmt.Errorf("failed to check token: %w", err)
	}
	if revoked {
		return "", fmt.Errorf("%w: token revoked", models.ErrTokenInvalid)
	}
	return claims.ID, nil
}

// IsAuthorized - булев ответ авторизации для ядра проигрывания.
func (s *Service) IsAuthorized(ctx context.Context, credential string) bool {
	_, err := s.Validate(ctx, credential)
	return err == nil
}

// Logout отзывает токен до конца его срока действия.
func (s *Service) Logout(ctx context.Context, tokenString string) error {
	claims, err := s.parse(tokenString)
	if err != nil {
		return err
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if err := s.store.Revoke(ctx, claims.ID, ttl); err != nil {
		return err
	}
	s.logger.Info("Admin token revoked", zap.String("jti", claims.ID))
	return nil
}

func (s *Service) parse(tokenString string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", models.ErrTokenInvalid)
		}
		return nil, fmt.Errorf("%w: %v", models.ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, models.ErrTokenInvalid
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: token has no id", models.ErrTokenInvalid)
	}
	return claims, nil
}
