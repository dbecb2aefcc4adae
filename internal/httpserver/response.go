package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"hfdash/internal/chat"
	"hfdash/internal/inference"
	"hfdash/internal/settings"
)

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSONError возвращает ошибку в едином формате.
func WriteJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Error: errorBody{
			Code:    code,
			Message: message,
		},
	})
}

// WriteJSON кодирует v в тело ответа.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteDomainError переводит ошибку клиента, чата или настроек в HTTP-статус.
func WriteDomainError(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	setRetryAfter(w, err)
	WriteJSONError(w, status, code, err.Error())
}

func setRetryAfter(w http.ResponseWriter, err error) {
	var rl *inference.RateLimitedError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfter))
	}
}

func classifyError(err error) (int, string) {
	var rl *inference.RateLimitedError
	switch {
	case errors.Is(err, chat.ErrEmptyInput), errors.Is(err, inference.ErrValidation),
		errors.Is(err, settings.ErrInvalid):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, chat.ErrUnknownFeature):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, chat.ErrEmptyHistory):
		return http.StatusNotFound, "empty_history"
	case errors.Is(err, inference.ErrConfiguration):
		return http.StatusPreconditionFailed, "configuration"
	case errors.Is(err, chat.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, chat.ErrStale):
		return http.StatusConflict, "cancelled"
	case errors.As(err, &rl):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, inference.ErrAuth):
		return http.StatusUnauthorized, "auth"
	case errors.Is(err, inference.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, inference.ErrModelLoading):
		return http.StatusServiceUnavailable, "model_loading"
	default:
		return http.StatusBadGateway, "upstream"
	}
}
