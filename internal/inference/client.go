package inference

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"hfdash/internal/config"
	"hfdash/internal/ratelimit"
)

const (
	DefaultMaxTokens   = 200
	DefaultTemperature = 0.7
)

// Credentials ключ API и выбранная модель. Один экземпляр на клиента.
type Credentials struct {
	APIKey string
	Model  string
}

// Options параметры генерации. Нулевые значения заменяются базовыми.
type Options struct {
	MaxTokens   int
	Temperature float64
	Language    string
}

func (o Options) withDefaults() Options {
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.Temperature <= 0 {
		o.Temperature = DefaultTemperature
	}
	return o
}

// Stats счётчики запросов. Меняются только после успешного Submit.
type Stats struct {
	RequestCount int64         `json:"requestCount"`
	LastLatency  time.Duration `json:"lastLatency"`
}

// StatusObserver получает изменения флага связи. Вызывается вне внутренних блокировок.
type StatusObserver func(connected bool)

// Client клиент Hugging Face Inference API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
	cooldown   *ratelimit.Cooldown

	mu        sync.RWMutex
	creds     Credentials
	stats     Stats
	connected bool
	observers []StatusObserver
}

type Option func(*Client)

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithRequestCount восстанавливает сохранённый счётчик запросов.
func WithRequestCount(n int64) Option {
	return func(c *Client) { c.stats.RequestCount = n }
}

// WithStatusObserver подписывает наблюдателя на изменения флага связи.
func WithStatusObserver(fn StatusObserver) Option {
	return func(c *Client) {
		if fn != nil {
			c.observers = append(c.observers, fn)
		}
	}
}

func NewClient(cfg config.HuggingFaceConfig, httpClient *http.Client, logger *slog.Logger, opts ...Option) *Client {
	model := cfg.DefaultModel
	if model == "" {
		model = DefaultModel()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
		creds: Credentials{
			APIKey: strings.TrimSpace(cfg.APIKey),
			Model:  model,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cooldown = ratelimit.NewCooldown(c.now)
	return c
}

// Credentials возвращает копию текущих учётных данных.
func (c *Client) Credentials() Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds
}

// Configured сообщает, задан ли API-ключ.
func (c *Client) Configured() bool {
	return c.Credentials().APIKey != ""
}

// SetAPIKey сохраняет ключ без пробелов по краям. Пустой ключ сбрасывает флаг связи.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	c.creds.APIKey = strings.TrimSpace(key)
	empty := c.creds.APIKey == ""
	c.mu.Unlock()

	if empty {
		c.setConnected(false)
	}
}

// SetModel выбирает модель. Пустое значение возвращает модель по умолчанию.
func (c *Client) SetModel(model string) {
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel()
	}
	c.mu.Lock()
	c.creds.Model = model
	c.mu.Unlock()
}

// CurrentModel описывает выбранную модель по каталогу.
func (c *Client) CurrentModel() ModelInfo {
	return DescribeModel(c.Credentials().Model)
}

func (c *Client) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

func (c *Client) ResetStats() {
	c.mu.Lock()
	c.stats = Stats{}
	c.mu.Unlock()
}

// Connected флаг связи по результату последнего запроса или пробы.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// CooldownRemaining возвращает оставшиеся секунды ограничения частоты.
func (c *Client) CooldownRemaining() (int, bool) {
	return c.cooldown.Remaining()
}

func (c *Client) recordSuccess(latency time.Duration) {
	c.mu.Lock()
	c.stats.RequestCount++
	c.stats.LastLatency = latency
	c.mu.Unlock()

	c.setConnected(true)
}

func (c *Client) setConnected(connected bool) {
	c.mu.Lock()
	c.connected = connected
	observers := append([]StatusObserver(nil), c.observers...)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(connected)
	}
}

func (c *Client) endpoint(model string) string {
	return c.baseURL + "/" + model
}
