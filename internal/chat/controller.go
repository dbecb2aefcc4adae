package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"hfdash/internal/inference"
	"hfdash/internal/settings"
)

var (
	ErrEmptyInput     = errors.New("message is empty")
	ErrBusy           = errors.New("a request is already in progress")
	ErrStale          = errors.New("response discarded: request was cancelled")
	ErrEmptyHistory   = errors.New("no messages to export")
	ErrUnknownFeature = errors.New("unknown feature")
)

// NoticeAlreadyEmpty сообщение для Clear при пустой истории.
const NoticeAlreadyEmpty = "No messages to clear"

// Inference часть Inference Client, нужная контроллеру.
type Inference interface {
	Submit(ctx context.Context, prompt string, opts inference.Options) (string, error)
	Configured() bool
	Stats() inference.Stats
	ResetStats()
}

// Preferences источник параметров генерации и переключатель модели.
type Preferences interface {
	GenerationOptions() inference.Options
	SetModel(ctx context.Context, model string) (settings.Settings, error)
}

// ControllerConfig конфигурация для создания Controller.
type ControllerConfig struct {
	Client   Inference
	Settings Preferences
	History  *HistoryStore
	Logger   *slog.Logger

	// Now и NewID подменяются в тестах.
	Now   func() time.Time
	NewID func() string
	// Location часовой пояс для экспорта, по умолчанию time.Local.
	Location *time.Location
}

// Controller управляет историей чата и единственным запросом в полёте.
// Каждая отправка получает номер поколения; Cancel увеличивает номер,
// и ответ устаревшего поколения в историю не попадает.
type Controller struct {
	client   Inference
	prefs    Preferences
	history  *HistoryStore
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
	location *time.Location

	mu         sync.Mutex
	messages   []Message
	processing bool
	generation uint64
	cancel     context.CancelFunc
}

func NewController(cfg ControllerConfig) *Controller {
	c := &Controller{
		client:   cfg.Client,
		prefs:    cfg.Settings,
		history:  cfg.History,
		logger:   cfg.Logger,
		now:      cfg.Now,
		newID:    cfg.NewID,
		location: cfg.Location,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	if c.location == nil {
		c.location = time.Local
	}
	return c
}

// Load восстанавливает историю из хранилища. Повреждённая история логируется
// и заменяется пустой.
func (c *Controller) Load(ctx context.Context) error {
	messages, err := c.history.Load(ctx)
	if err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr) {
			return fmt.Errorf("load chat history: %w", err)
		}
		c.logger.Warn("stored chat history is corrupt, starting empty", slog.String("error", err.Error()))
		messages = nil
	}

	c.mu.Lock()
	c.messages = messages
	c.mu.Unlock()
	return nil
}

// History возвращает копию истории.
func (c *Controller) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Processing сообщает, есть ли запрос в полёте.
func (c *Controller) Processing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processing
}

// Send отправляет сообщение пользователя модели.
// Возвращает сообщение ассистента (ответ или текст ошибки) и классифицированную ошибку.
// При ErrEmptyInput, ErrBusy и inference.ErrConfiguration история не меняется.
func (c *Controller) Send(ctx context.Context, text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyInput
	}
	if !c.client.Configured() {
		return Message{}, inference.ErrConfiguration
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.processing {
		c.mu.Unlock()
		return Message{}, ErrBusy
	}
	c.processing = true
	c.generation++
	gen := c.generation
	c.cancel = cancel
	c.appendLocked(RoleUser, text)
	c.persistLocked(ctx)
	c.mu.Unlock()

	opts := c.prefs.GenerationOptions()
	started := c.now()
	reply, err := c.client.Submit(reqCtx, text, opts)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.logger.Info("dropping response of cancelled request",
			slog.Uint64("generation", gen),
			slog.Duration("elapsed", c.now().Sub(started)),
		)
		return Message{}, ErrStale
	}
	c.processing = false
	c.cancel = nil

	content := reply
	if err != nil {
		content = "Error: " + err.Error()
	}
	msg := c.appendLocked(RoleAssistant, content)
	c.persistLocked(ctx)
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("chat request failed", slog.String("error", err.Error()))
		return msg, err
	}

	if saveErr := c.history.SaveRequestCount(ctx, c.client.Stats().RequestCount); saveErr != nil {
		c.logger.Error("failed to save request count", slog.String("error", saveErr.Error()))
	}
	return msg, nil
}

// Cancel прерывает запрос в полёте. Возвращает false, если прерывать нечего.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.abortLocked()
}

// abortLocked снимает флаг обработки и делает текущее поколение устаревшим.
func (c *Controller) abortLocked() bool {
	if !c.processing {
		return false
	}
	c.processing = false
	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	return true
}

// Clear очищает историю. Запрос в полёте прерывается, его ответ в новую
// историю не попадёт. Возвращает false, если история уже пуста.
func (c *Controller) Clear(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abortLocked()
	if len(c.messages) == 0 {
		return false, nil
	}
	c.messages = nil

	if err := c.history.Save(ctx, nil); err != nil {
		return true, fmt.Errorf("save chat history: %w", err)
	}
	return true, nil
}

// Export форматирует историю как текст: "[время] отправитель: текст",
// записи разделены пустой строкой.
func (c *Controller) Export() (string, error) {
	messages := c.History()
	if len(messages) == 0 {
		return "", ErrEmptyHistory
	}

	entries := make([]string, 0, len(messages))
	for _, m := range messages {
		ts := m.Time().In(c.location).Format(time.DateTime)
		entries = append(entries, fmt.Sprintf("[%s] %s: %s", ts, m.Sender(), m.Content))
	}
	return strings.Join(entries, "\n\n"), nil
}

// ExportFilename имя файла выгрузки на текущую дату.
func (c *Controller) ExportFilename() string {
	return "chat-export-" + c.now().In(c.location).Format(time.DateOnly) + ".txt"
}

// ActivateFeature переключает модель на модель пресета и добавляет его приветствие.
func (c *Controller) ActivateFeature(ctx context.Context, name string) (Message, error) {
	feature, ok := inference.LookupFeature(name)
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownFeature, name)
	}
	if _, err := c.prefs.SetModel(ctx, feature.Model); err != nil {
		return Message{}, fmt.Errorf("switch model: %w", err)
	}

	c.mu.Lock()
	msg := c.appendLocked(RoleAssistant, feature.Intro)
	c.persistLocked(ctx)
	c.mu.Unlock()
	return msg, nil
}

// ResetStats обнуляет счётчик запросов в клиенте и в хранилище.
func (c *Controller) ResetStats(ctx context.Context) error {
	c.client.ResetStats()
	if err := c.history.ClearRequestCount(ctx); err != nil {
		return fmt.Errorf("reset request count: %w", err)
	}
	return nil
}

func (c *Controller) appendLocked(role Role, content string) Message {
	msg := Message{
		Role:      role,
		Content:   content,
		Timestamp: c.now().UnixMilli(),
		ID:        c.newID(),
	}
	c.messages = append(c.messages, msg)
	return msg
}

// persistLocked сохраняет историю под c.mu, чтобы записи не переупорядочились.
// Ошибка сохранения не отменяет операцию, только логируется.
func (c *Controller) persistLocked(ctx context.Context) {
	if err := c.history.Save(ctx, c.messages); err != nil {
		c.logger.Error("failed to save chat history", slog.String("error", err.Error()))
	}
}
