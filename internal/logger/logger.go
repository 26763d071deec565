package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// level はSetupで生成したロガーが共有する出力レベル。
var level = new(slog.LevelVar)

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// 出力レベルはSetLevelで変更できる（初期値はinfo）。
func Setup(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// 本番ではos.Stdoutを渡すことを想定している。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	logger := Setup(w)
	slog.SetDefault(logger)
}

// SetLevel はLOG_LEVELの値（debug, info, warn, error）から出力レベルを設定する。
// 不明な値はinfoとして扱う。
func SetLevel(name string) {
	level.Set(ParseLevel(name))
}

// ParseLevel はレベル名をslog.Levelに変換する。
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
