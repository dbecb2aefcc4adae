package chat

import (
	"context"
	"fmt"
	"strconv"

	"hfdash/internal/storage"
)

// HistoryStore хранит историю чата целиком одним значением key/value хранилища.
type HistoryStore struct {
	store storage.Store
}

func NewHistoryStore(store storage.Store) *HistoryStore {
	return &HistoryStore{store: store}
}

// Load возвращает сохранённую историю. Отсутствие истории не ошибка.
func (h *HistoryStore) Load(ctx context.Context) ([]Message, error) {
	var messages []Message
	if _, err := storage.GetJSON(ctx, h.store, storage.KeyChatHistory, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// Save перезаписывает историю целиком.
func (h *HistoryStore) Save(ctx context.Context, messages []Message) error {
	if messages == nil {
		messages = []Message{}
	}
	return storage.SetJSON(ctx, h.store, storage.KeyChatHistory, messages)
}

// SaveRequestCount сохраняет счётчик запросов отдельно от истории.
func (h *HistoryStore) SaveRequestCount(ctx context.Context, n int64) error {
	return h.store.Set(ctx, storage.KeyRequestCount, strconv.FormatInt(n, 10))
}

// LoadRequestCount читает счётчик запросов. Некорректное значение считается нулём.
func (h *HistoryStore) LoadRequestCount(ctx context.Context) (int64, error) {
	raw, ok, err := h.store.Get(ctx, storage.KeyRequestCount)
	if err != nil {
		return 0, fmt.Errorf("load request count: %w", err)
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, nil
	}
	return n, nil
}

func (h *HistoryStore) ClearRequestCount(ctx context.Context) error {
	return h.store.Delete(ctx, storage.KeyRequestCount)
}
