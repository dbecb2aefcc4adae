package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const (
	userAgent        = "hfdash/1.0"
	maxResponseBytes = 4 << 20
)

type inferenceRequest struct {
	Inputs     string            `json:"inputs"`
	Parameters requestParameters `json:"parameters"`
	Options    requestOptions    `json:"options"`
}

type requestParameters struct {
	MaxLength         int     `json:"max_length"`
	Temperature       float64 `json:"temperature"`
	DoSample          bool    `json:"do_sample"`
	TopP              float64 `json:"top_p"`
	TopK              int     `json:"top_k"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
	ReturnFullText    bool    `json:"return_full_text"`
	PadTokenID        int     `json:"pad_token_id"`
}

type requestOptions struct {
	WaitForModel bool `json:"wait_for_model"`
	UseCache     bool `json:"use_cache"`
}

type apiErrorBody struct {
	Error any `json:"error"`
}

type rawResponse struct {
	status int
	header http.Header
	body   []byte
}

func newInferenceRequest(prompt string, opts Options) inferenceRequest {
	opts = opts.withDefaults()
	return inferenceRequest{
		Inputs: prompt,
		Parameters: requestParameters{
			MaxLength:         opts.MaxTokens,
			Temperature:       opts.Temperature,
			DoSample:          true,
			TopP:              0.9,
			TopK:              50,
			RepetitionPenalty: 1.1,
			ReturnFullText:    false,
			PadTokenID:        50256,
		},
		Options: requestOptions{
			WaitForModel: true,
			UseCache:     false,
		},
	}
}

// Submit отправляет prompt выбранной модели и возвращает очищенный текст ответа
// или классифицированную ошибку. Повторов нет: любая ошибка окончательна для вызова.
func (c *Client) Submit(ctx context.Context, prompt string, opts Options) (string, error) {
	creds := c.Credentials()
	if creds.APIKey == "" {
		return "", ErrConfiguration
	}
	if strings.TrimSpace(prompt) == "" {
		return "", ErrValidation
	}

	start := c.now()
	answer, err := c.submit(ctx, creds, prompt, opts)
	if err != nil {
		c.setConnected(false)
		if c.logger != nil {
			c.logger.Warn("inference request failed",
				slog.String("model", creds.Model),
				slog.String("error", err.Error()))
		}
		return "", err
	}

	latency := c.now().Sub(start)
	c.recordSuccess(latency)
	if c.logger != nil {
		c.logger.Debug("inference request completed",
			slog.String("model", creds.Model),
			slog.Duration("latency", latency))
	}
	return answer, nil
}

func (c *Client) submit(ctx context.Context, creds Credentials, prompt string, opts Options) (string, error) {
	if seconds, limited := c.cooldown.Remaining(); limited {
		return "", &RateLimitedError{RetryAfter: seconds}
	}

	resp, err := c.post(ctx, creds, newInferenceRequest(prompt, opts))
	if err != nil {
		return "", err
	}
	if resp.status < 200 || resp.status >= 300 {
		return "", c.classify(resp)
	}

	raw, err := ExtractText(resp.body)
	if err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return CleanResponse(raw, prompt), nil
}

func (c *Client) post(ctx context.Context, creds Credentials, body any) (rawResponse, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return rawResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(creds.Model), bytes.NewReader(buf))
	if err != nil {
		return rawResponse{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.APIKey)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return rawResponse{}, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return rawResponse{}, fmt.Errorf("read response: %w", err)
	}
	return rawResponse{status: resp.StatusCode, header: resp.Header, body: bodyBytes}, nil
}

// classify переводит неуспешный статус в ошибку из таксономии клиента.
// 429 дополнительно запоминает момент сброса лимита, если сервер его сообщил.
func (c *Client) classify(resp rawResponse) error {
	switch resp.status {
	case http.StatusUnauthorized:
		return ErrAuth
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusTooManyRequests:
		rlErr := &RateLimitedError{}
		if c.cooldown.Observe(resp.header) {
			rlErr.RetryAfter, _ = c.cooldown.Remaining()
		}
		return rlErr
	case http.StatusServiceUnavailable:
		return ErrModelLoading
	default:
		return &APIError{Status: resp.status, Message: serverMessage(resp.body)}
	}
}

func serverMessage(body []byte) string {
	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	switch v := parsed.Error.(type) {
	case string:
		return strings.TrimSpace(v)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	}
	return ""
}
