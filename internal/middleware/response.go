package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// WriteJSON はvをJSONとしてレスポンスに書き込む。
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// WriteText はプレーンテキストのメッセージをレスポンスに書き込む。
// OAuthフローのエラーはこの形式で返す。
func WriteText(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(statusCode)
	_, _ = w.Write([]byte(message))
}

// WriteInternalServerError は内部エラーの共通レスポンスを書き込む。
// 詳細はログのみに記録し、クライアントには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteText(w, http.StatusInternalServerError, "Internal server error")
}
