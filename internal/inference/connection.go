package inference

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const probePrompt = "Hello"

type probeRequest struct {
	Inputs     string          `json:"inputs"`
	Parameters probeParameters `json:"parameters"`
}

type probeParameters struct {
	MaxLength int `json:"max_length"`
}

// ConnectionResult итог пробного запроса.
type ConnectionResult struct {
	OK           bool   `json:"ok"`
	ModelLoading bool   `json:"modelLoading"`
	Message      string `json:"message"`
}

// TestConnection отправляет короткую пробу выбранной модели.
// В отличие от Submit, 503 (модель прогревается) считается успешной связью.
func (c *Client) TestConnection(ctx context.Context) (ConnectionResult, error) {
	creds := c.Credentials()
	if creds.APIKey == "" {
		return ConnectionResult{}, ErrConfiguration
	}

	resp, err := c.post(ctx, creds, probeRequest{
		Inputs:     probePrompt,
		Parameters: probeParameters{MaxLength: 10},
	})
	if err != nil {
		c.setConnected(false)
		return ConnectionResult{}, err
	}

	switch {
	case resp.status >= 200 && resp.status < 300:
		c.setConnected(true)
		return ConnectionResult{OK: true, Message: "connection established"}, nil
	case resp.status == http.StatusServiceUnavailable:
		c.setConnected(true)
		return ConnectionResult{OK: true, ModelLoading: true, Message: "model is loading but the connection is established"}, nil
	default:
		c.setConnected(false)
		return ConnectionResult{}, c.classify(resp)
	}
}

// CheckConnection пассивная проверка: ошибки только логируются.
func (c *Client) CheckConnection(ctx context.Context) {
	if !c.Configured() {
		c.setConnected(false)
		return
	}
	if _, err := c.TestConnection(ctx); err != nil && c.logger != nil {
		c.logger.Warn("connection check failed", slog.String("error", err.Error()))
	}
}

// Watch периодически вызывает CheckConnection, пока не отменён ctx.
// Без ключа проверка пропускается.
func (c *Client) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	c.CheckConnection(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.Configured() {
				c.CheckConnection(ctx)
			}
		}
	}
}
