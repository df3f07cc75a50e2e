package httputil

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write json response failed", slog.Any("err", err))
	}
}

// Error — унифицированная ошибка (code + message).
func Error(ctx context.Context, w http.ResponseWriter, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "request failed", "code", code, "message", msg)
	}
	JSON(w, status, ErrorEnvelope{Error: ErrorBody{Code: code, Message: msg}})
}

// DecodeJSON читает тело запроса с ограничением размера и без неизвестных полей.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
