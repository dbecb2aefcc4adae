package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Ключи, под которыми дашборд хранит своё состояние.
const (
	KeyAPIKey       = "hf_api_key"
	KeyModel        = "selected_model"
	KeyRequestCount = "ai-request-count"
	KeySettings     = "ai-dashboard-settings"
	KeyChatHistory  = "ai-chat-history"
	KeyTheme        = "ai-dashboard-theme"
)

var ErrEmptyKey = errors.New("storage key is empty")

// Store простое key/value хранилище строк, переживающее рестарт процесса
// (кроме MemoryStore).
type Store interface {
	// Get возвращает значение ключа. Второй параметр bool указывает, найден ли ключ.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set записывает значение, заменяя существующее.
	Set(ctx context.Context, key string, value string) error

	// Delete удаляет ключ. Отсутствие ключа не считается ошибкой.
	Delete(ctx context.Context, key string) error
}

// GetJSON читает значение ключа и декодирует его в dst.
// Возвращает false, если ключ не найден.
func GetJSON(ctx context.Context, s Store, key string, dst any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok || raw == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return true, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON кодирует value в JSON и сохраняет под ключом key.
func SetJSON(ctx context.Context, s Store, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, string(data))
}
