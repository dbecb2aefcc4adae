package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

type NowFunc func() time.Time

// Cooldown хранит момент, раньше которого нельзя отправлять запросы.
// Один экземпляр на клиента, не на модель.
type Cooldown struct {
	mu    sync.Mutex
	until time.Time
	now   NowFunc
}

func NewCooldown(now NowFunc) *Cooldown {
	if now == nil {
		now = time.Now
	}
	return &Cooldown{now: now}
}

// Remaining возвращает оставшееся время ожидания в целых секундах (с округлением вверх).
// ok == false, если ограничение не действует.
func (c *Cooldown) Remaining() (seconds int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.until.IsZero() {
		return 0, false
	}
	left := c.until.Sub(c.now())
	if left <= 0 {
		c.until = time.Time{}
		return 0, false
	}
	return ceilSeconds(left), true
}

// Until возвращает сохранённый момент окончания ограничения.
func (c *Cooldown) Until() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.until
}

// Set запоминает новый момент окончания ограничения.
func (c *Cooldown) Set(until time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.until = until
}

// Observe разбирает заголовки ответа 429 и обновляет cooldown.
// Возвращает false, если сервер не сообщил момент сброса.
func (c *Cooldown) Observe(header http.Header) bool {
	until, ok := ParseReset(header, c.now())
	if !ok {
		return false
	}
	c.Set(until)
	return true
}

func (c *Cooldown) Clear() {
	c.Set(time.Time{})
}

// ParseReset извлекает момент сброса лимита.
// X-RateLimit-Reset трактуется как unix-время в секундах,
// Retry-After как число секунд или HTTP-дата.
func ParseReset(header http.Header, now time.Time) (time.Time, bool) {
	if value := strings.TrimSpace(header.Get(HeaderReset)); value != "" {
		if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Unix(seconds, 0), true
		}
	}

	value := strings.TrimSpace(header.Get(HeaderRetryAfter))
	if value == "" {
		return time.Time{}, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			seconds = 0
		}
		return now.Add(time.Duration(seconds) * time.Second), true
	}
	if parsed, err := http.ParseTime(value); err == nil {
		return parsed, true
	}
	return time.Time{}, false
}

func ceilSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
