package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"hfdash/internal/chat"
	"hfdash/internal/inference"
	"hfdash/internal/middleware"
	"hfdash/internal/settings"
)

const maxBodyBytes = 64 << 10

// InferenceStatus часть Inference Client, нужная обработчикам.
type InferenceStatus interface {
	Connected() bool
	Stats() inference.Stats
	CurrentModel() inference.ModelInfo
	CooldownRemaining() (int, bool)
	TestConnection(ctx context.Context) (inference.ConnectionResult, error)
	CheckConnection(ctx context.Context)
}

type SettingsService interface {
	Current() settings.Settings
	Save(ctx context.Context, next settings.Settings) (settings.Settings, error)
	Reset(ctx context.Context) (settings.Settings, error)
	Theme() string
	SetTheme(ctx context.Context, theme string) error
}

type ChatController interface {
	History() []chat.Message
	Processing() bool
	Send(ctx context.Context, text string) (chat.Message, error)
	Cancel() bool
	Clear(ctx context.Context) (bool, error)
	Export() (string, error)
	ExportFilename() string
	ActivateFeature(ctx context.Context, name string) (chat.Message, error)
	ResetStats(ctx context.Context) error
}

// API обработчики /api дашборда.
type API struct {
	client   InferenceStatus
	settings SettingsService
	chat     ChatController
	logger   *slog.Logger
}

type APIDeps struct {
	Client   InferenceStatus
	Settings SettingsService
	Chat     ChatController
	Logger   *slog.Logger
}

func NewAPI(deps APIDeps) *API {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		client:   deps.Client,
		settings: deps.Settings,
		chat:     deps.Chat,
		logger:   logger,
	}
}

// Routes регистрирует маршруты API на переданном роутере.
func (a *API) Routes(r chi.Router) {
	r.Get("/models", a.models)
	r.Get("/status", a.status)
	r.Post("/connection/test", a.testConnection)

	r.Get("/settings", a.getSettings)
	r.Put("/settings", a.putSettings)
	r.Delete("/settings", a.resetSettings)

	r.Get("/messages", a.history)
	r.Post("/messages", a.send)
	r.Delete("/messages", a.clear)
	r.Post("/messages/cancel", a.cancel)
	r.Get("/messages/export", a.export)

	r.Post("/features/{feature}", a.activateFeature)
	r.Delete("/stats", a.resetStats)
}

type modelsResponse struct {
	Default    string               `json:"default"`
	Categories []inference.Category `json:"categories"`
	Features   []string             `json:"features"`
}

func (a *API) models(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, modelsResponse{
		Default:    inference.DefaultModel(),
		Categories: inference.Categories(),
		Features:   inference.FeatureNames(),
	})
}

type statusResponse struct {
	Connected       bool                `json:"connected"`
	Processing      bool                `json:"processing"`
	RequestCount    int64               `json:"requestCount"`
	LastLatencyMs   int64               `json:"lastLatencyMs"`
	Model           inference.ModelInfo `json:"model"`
	CategoryLabel   string              `json:"categoryLabel"`
	CooldownSeconds int                 `json:"cooldownSeconds"`
	Theme           string              `json:"theme"`
}

func (a *API) status(w http.ResponseWriter, r *http.Request) {
	stats := a.client.Stats()
	model := a.client.CurrentModel()
	cooldown, _ := a.client.CooldownRemaining()
	WriteJSON(w, http.StatusOK, statusResponse{
		Connected:       a.client.Connected(),
		Processing:      a.chat.Processing(),
		RequestCount:    stats.RequestCount,
		LastLatencyMs:   stats.LastLatency.Milliseconds(),
		Model:           model,
		CategoryLabel:   inference.CategoryLabel(model.ID),
		CooldownSeconds: cooldown,
		Theme:           a.settings.Theme(),
	})
}

func (a *API) testConnection(w http.ResponseWriter, r *http.Request) {
	res, err := a.client.TestConnection(r.Context())
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

type settingsResponse struct {
	Settings settings.Settings `json:"settings"`
	Theme    string            `json:"theme"`
}

type settingsRequest struct {
	settings.Settings
	Theme string `json:"theme"`
}

func (a *API) getSettings(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, settingsResponse{
		Settings: a.settings.Current().Masked(),
		Theme:    a.settings.Theme(),
	})
}

func (a *API) putSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if !a.decode(w, r, &req) {
		return
	}

	// Клиент получает ключ в замаскированном виде; такой же ключ в запросе
	// означает «не менять».
	current := a.settings.Current()
	if req.APIKey != "" && req.APIKey == current.Masked().APIKey {
		req.APIKey = current.APIKey
	}

	saved, err := a.settings.Save(r.Context(), req.Settings)
	if err != nil {
		a.writeLocalError(w, r, err)
		return
	}
	if req.Theme != "" {
		if err := a.settings.SetTheme(r.Context(), req.Theme); err != nil {
			a.writeLocalError(w, r, err)
			return
		}
	}

	// Проверка связи в фоне, как после сохранения настроек в интерфейсе.
	go a.client.CheckConnection(context.WithoutCancel(r.Context()))

	WriteJSON(w, http.StatusOK, settingsResponse{
		Settings: saved.Masked(),
		Theme:    a.settings.Theme(),
	})
}

func (a *API) resetSettings(w http.ResponseWriter, r *http.Request) {
	defaults, err := a.settings.Reset(r.Context())
	if err != nil {
		a.writeLocalError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, settingsResponse{Settings: defaults, Theme: a.settings.Theme()})
}

type historyResponse struct {
	Messages   []chat.Message `json:"messages"`
	Processing bool           `json:"processing"`
}

func (a *API) history(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, historyResponse{
		Messages:   a.chat.History(),
		Processing: a.chat.Processing(),
	})
}

type sendRequest struct {
	Text string `json:"text"`
}

type sendResponse struct {
	Message chat.Message `json:"message"`
}

func (a *API) send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !a.decode(w, r, &req) {
		return
	}

	// Запрос к модели не должен обрываться вместе с соединением браузера:
	// прервать его можно только через /messages/cancel.
	msg, err := a.chat.Send(context.WithoutCancel(r.Context()), req.Text)
	if err != nil {
		setRetryAfter(w, err)
		status, code := classifyError(err)
		if msg.ID != "" {
			// Текст ошибки уже добавлен в историю; отдаём его вместе с кодом.
			WriteJSON(w, status, struct {
				errorEnvelope
				Message chat.Message `json:"message"`
			}{errorEnvelope{errorBody{Code: code, Message: err.Error()}}, msg})
			return
		}
		WriteJSONError(w, status, code, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, sendResponse{Message: msg})
}

func (a *API) cancel(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]bool{"cancelled": a.chat.Cancel()})
}

type clearResponse struct {
	Cleared bool   `json:"cleared"`
	Notice  string `json:"notice,omitempty"`
}

func (a *API) clear(w http.ResponseWriter, r *http.Request) {
	cleared, err := a.chat.Clear(r.Context())
	if err != nil {
		a.writeLocalError(w, r, err)
		return
	}
	resp := clearResponse{Cleared: cleared}
	if !cleared {
		resp.Notice = chat.NoticeAlreadyEmpty
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (a *API) export(w http.ResponseWriter, r *http.Request) {
	text, err := a.chat.Export()
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+a.chat.ExportFilename()+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

func (a *API) activateFeature(w http.ResponseWriter, r *http.Request) {
	msg, err := a.chat.ActivateFeature(r.Context(), chi.URLParam(r, "feature"))
	if err != nil {
		if errors.Is(err, chat.ErrUnknownFeature) {
			WriteDomainError(w, err)
			return
		}
		a.writeLocalError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, sendResponse{Message: msg})
}

func (a *API) resetStats(w http.ResponseWriter, r *http.Request) {
	if err := a.chat.ResetStats(r.Context()); err != nil {
		a.writeLocalError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "bad_request", "cannot parse request body")
		return false
	}
	return true
}

// writeLocalError отвечает 400 на ошибки валидации и 500 на сбои хранилища.
func (a *API) writeLocalError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, settings.ErrInvalid) {
		WriteDomainError(w, err)
		return
	}
	a.logger.Error("request failed",
		slog.String("path", r.URL.Path),
		slog.String("request_id", middleware.RequestIDFrom(r.Context())),
		slog.String("error", err.Error()),
	)
	WriteJSONError(w, http.StatusInternalServerError, "internal", "internal error")
}
