package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"hfdash/internal/inference"
	"hfdash/internal/storage"
)

const (
	DefaultLanguage = "fa"
	ThemeLight      = "light"
	ThemeDark       = "dark"

	maxTokensLimit   = 1000
	temperatureLimit = 2.0
)

var ErrInvalid = errors.New("invalid settings")

// Settings пользовательские настройки дашборда.
type Settings struct {
	APIKey      string  `json:"apiKey"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"maxTokens"`
	Temperature float64 `json:"temperature"`
	Language    string  `json:"language"`
}

// Defaults возвращает настройки по умолчанию (без ключа).
func Defaults() Settings {
	return Settings{
		Model:       inference.DefaultModel(),
		MaxTokens:   inference.DefaultMaxTokens,
		Temperature: inference.DefaultTemperature,
		Language:    DefaultLanguage,
	}
}

// GenerationOptions параметры генерации для Inference Client.
func (s Settings) GenerationOptions() inference.Options {
	return inference.Options{
		MaxTokens:   s.MaxTokens,
		Temperature: s.Temperature,
		Language:    s.Language,
	}
}

// Masked возвращает копию с замаскированным ключом для ответа API.
func (s Settings) Masked() Settings {
	if len(s.APIKey) > 8 {
		s.APIKey = s.APIKey[:4] + strings.Repeat("*", len(s.APIKey)-8) + s.APIKey[len(s.APIKey)-4:]
	} else if s.APIKey != "" {
		s.APIKey = strings.Repeat("*", len(s.APIKey))
	}
	return s
}

func (s Settings) normalized() Settings {
	d := Defaults()
	s.APIKey = strings.TrimSpace(s.APIKey)
	s.Model = strings.TrimSpace(s.Model)
	if s.Model == "" {
		s.Model = d.Model
	}
	if s.MaxTokens == 0 {
		s.MaxTokens = d.MaxTokens
	}
	if s.Temperature == 0 {
		s.Temperature = d.Temperature
	}
	if s.Language == "" {
		s.Language = d.Language
	}
	return s
}

func (s Settings) validate() error {
	if s.MaxTokens < 1 || s.MaxTokens > maxTokensLimit {
		return fmt.Errorf("%w: maxTokens must be between 1 and %d", ErrInvalid, maxTokensLimit)
	}
	if s.Temperature < 0 || s.Temperature > temperatureLimit {
		return fmt.Errorf("%w: temperature must be between 0 and %.1f", ErrInvalid, temperatureLimit)
	}
	return nil
}

// CredentialSink получатель учётных данных (Inference Client).
type CredentialSink interface {
	Credentials() inference.Credentials
	SetAPIKey(key string)
	SetModel(model string)
}

// Service хранит настройки в key/value хранилище и применяет учётные данные к клиенту.
// Ключ и модель хранятся отдельно от объекта настроек и являются источником истины.
type Service struct {
	store  storage.Store
	client CredentialSink
	logger *slog.Logger

	mu      sync.RWMutex
	current Settings
	theme   string
}

func NewService(store storage.Store, client CredentialSink, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		client:  client,
		logger:  logger,
		current: Defaults(),
		theme:   ThemeLight,
	}
}

// Load читает сохранённые настройки и применяет их к клиенту.
// Повреждённый объект настроек логируется и заменяется значениями по умолчанию.
// Если ключ не сохранён вовсе, остаётся ключ, с которым клиент был создан (например, из окружения).
func (s *Service) Load(ctx context.Context) (Settings, error) {
	loaded := Defaults()
	if _, err := storage.GetJSON(ctx, s.store, storage.KeySettings, &loaded); err != nil {
		if isStoreFailure(err) {
			return Settings{}, err
		}
		s.warn("stored settings are corrupt, using defaults", err)
		loaded = Defaults()
	}

	creds := s.client.Credentials()
	loaded.APIKey = creds.APIKey
	if key, ok, err := s.store.Get(ctx, storage.KeyAPIKey); err != nil {
		return Settings{}, fmt.Errorf("load api key: %w", err)
	} else if ok {
		// Сохранённый пустой ключ означает, что пользователь удалил ключ,
		// и ключ из окружения не возвращается.
		loaded.APIKey = key
	}
	if model, ok, err := s.store.Get(ctx, storage.KeyModel); err != nil {
		return Settings{}, fmt.Errorf("load model: %w", err)
	} else if ok && model != "" {
		loaded.Model = model
	} else if loaded.Model == "" || loaded.Model == inference.DefaultModel() {
		loaded.Model = creds.Model
	}

	theme := ThemeLight
	if stored, ok, err := s.store.Get(ctx, storage.KeyTheme); err != nil {
		return Settings{}, fmt.Errorf("load theme: %w", err)
	} else if ok && validTheme(stored) {
		theme = stored
	}

	loaded = loaded.normalized()
	if err := loaded.validate(); err != nil {
		s.warn("stored settings are out of range, using defaults", err)
		apiKey, model := loaded.APIKey, loaded.Model
		loaded = Defaults()
		loaded.APIKey, loaded.Model = apiKey, model
	}

	s.apply(loaded, theme)
	return loaded, nil
}

// Current возвращает текущие настройки.
func (s *Service) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// GenerationOptions параметры генерации из текущих настроек.
func (s *Service) GenerationOptions() inference.Options {
	return s.Current().GenerationOptions()
}

// Save проверяет, сохраняет и применяет настройки.
func (s *Service) Save(ctx context.Context, next Settings) (Settings, error) {
	next = next.normalized()
	if err := next.validate(); err != nil {
		return Settings{}, err
	}

	if err := storage.SetJSON(ctx, s.store, storage.KeySettings, next); err != nil {
		return Settings{}, fmt.Errorf("save settings: %w", err)
	}
	if err := s.store.Set(ctx, storage.KeyAPIKey, next.APIKey); err != nil {
		return Settings{}, fmt.Errorf("save api key: %w", err)
	}
	if err := s.store.Set(ctx, storage.KeyModel, next.Model); err != nil {
		return Settings{}, fmt.Errorf("save model: %w", err)
	}

	s.apply(next, s.Theme())
	return next, nil
}

// SetModel меняет только модель (например, при выборе пресета).
func (s *Service) SetModel(ctx context.Context, model string) (Settings, error) {
	next := s.Current()
	next.Model = model
	return s.Save(ctx, next)
}

// Reset удаляет сохранённые настройки, ключ и модель и возвращает значения по умолчанию.
func (s *Service) Reset(ctx context.Context) (Settings, error) {
	for _, key := range []string{storage.KeySettings, storage.KeyAPIKey, storage.KeyModel} {
		if err := s.store.Delete(ctx, key); err != nil {
			return Settings{}, fmt.Errorf("reset %s: %w", key, err)
		}
	}

	defaults := Defaults()
	s.apply(defaults, s.Theme())
	return defaults, nil
}

func (s *Service) Theme() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.theme
}

// SetTheme сохраняет тему оформления (light или dark).
func (s *Service) SetTheme(ctx context.Context, theme string) error {
	if !validTheme(theme) {
		return fmt.Errorf("%w: unknown theme %q", ErrInvalid, theme)
	}
	if err := s.store.Set(ctx, storage.KeyTheme, theme); err != nil {
		return fmt.Errorf("save theme: %w", err)
	}
	s.mu.Lock()
	s.theme = theme
	s.mu.Unlock()
	return nil
}

func (s *Service) apply(next Settings, theme string) {
	s.mu.Lock()
	s.current = next
	s.theme = theme
	s.mu.Unlock()

	s.client.SetAPIKey(next.APIKey)
	s.client.SetModel(next.Model)
}

func (s *Service) warn(msg string, err error) {
	if s.logger != nil {
		s.logger.Warn(msg, slog.String("error", err.Error()))
	}
}

func validTheme(theme string) bool {
	return theme == ThemeLight || theme == ThemeDark
}

// isStoreFailure отличает ошибку хранилища от ошибки декодирования JSON.
func isStoreFailure(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr)
}
