package models

import "errors"

// Стандартные ошибки приложения
var (
	// Ошибки структуры истории
	ErrNodeNotFound    = errors.New("story node not found")
	ErrNodeExists      = errors.New("story node already exists")
	ErrChoiceNotFound  = errors.New("choice index out of range")
	ErrUnknownCategory = errors.New("unknown consistent element category")
	ErrElementNotFound = errors.New("consistent element not found")
	ErrInvalidInput    = errors.New("invalid input data")

	// Ошибки состояния проигрывания
	ErrFlashbackStackEmpty = errors.New("flashback stack is empty")

	// Ошибки авторизации
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidCredentials = errors.New("invalid password")
	ErrTokenInvalid       = errors.New("token is invalid")
)
