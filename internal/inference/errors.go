package inference

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrConfiguration: API-ключ не задан, пользователь должен ввести его в настройках.
	ErrConfiguration = errors.New("api key is not configured, enter your api key in settings")
	// ErrValidation: пустое сообщение.
	ErrValidation = errors.New("message must not be empty")
	// ErrAuth: сервис отклонил ключ (401).
	ErrAuth = errors.New("api key is invalid, enter a valid key")
	// ErrForbidden: доступ к модели запрещён (403).
	ErrForbidden = errors.New("access to this model is restricted")
	// ErrModelLoading: модель прогревается (503), можно повторить позже.
	ErrModelLoading = errors.New("model is loading, wait a few minutes and try again")
)

// RateLimitedError сообщает о троттлинге. RetryAfter в секундах, 0 если неизвестно.
type RateLimitedError struct {
	RetryAfter int
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, wait %d seconds", e.RetryAfter)
	}
	return "too many requests, wait a moment"
}

// APIError непрозрачная ошибка сервиса, показывается как есть.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return statusDescription(e.Status)
}

func statusDescription(status int) string {
	if text := http.StatusText(status); text != "" {
		return fmt.Sprintf("HTTP error %d: %s", status, text)
	}
	return fmt.Sprintf("HTTP error %d", status)
}

// IsTransient сообщает, имеет ли смысл повторить вызов позже (троттлинг или прогрев модели).
// Сам клиент никогда не повторяет запросы.
func IsTransient(err error) bool {
	var rl *RateLimitedError
	return errors.Is(err, ErrModelLoading) || errors.As(err, &rl)
}
