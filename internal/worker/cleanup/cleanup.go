// Package cleanup は期限切れトークンの削除ジョブを提供する。
// revoked_tokensとrefresh_tokensからexpires_atを過ぎた行を削除する。
// ログイン成功時の非同期実行と、ワーカーモードでの定期実行の両方で使用される。
package cleanup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/fedlogin/internal/metrics"
	"github.com/hitoshi/fedlogin/internal/repository"
)

// defaultTriggerTimeout はTriggerで起動した削除処理の上限時間。
const defaultTriggerTimeout = 30 * time.Second

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// TokenSweeper は期限切れトークンの削除ジョブ。
// 冪等: 削除対象がない場合でもエラーにならない。
type TokenSweeper struct {
	db      Executor
	tables  repository.Tables
	metrics metrics.MetricsCollector
	logger  *slog.Logger

	// TriggerTimeout はTriggerで起動した削除処理のタイムアウト。
	TriggerTimeout time.Duration

	wg sync.WaitGroup
}

// NewTokenSweeper は新しいTokenSweeperを生成する。collectorはnilでもよい。
func NewTokenSweeper(db Executor, tables repository.Tables, collector metrics.MetricsCollector, logger *slog.Logger) *TokenSweeper {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &TokenSweeper{
		db:             db,
		tables:         tables,
		metrics:        collector,
		logger:         logger,
		TriggerTimeout: defaultTriggerTimeout,
	}
}

// Run はrevoked_tokensとrefresh_tokensの期限切れ行を削除する。
// 一方のテーブルで失敗しても他方の削除は行い、エラーはまとめて返す。
func (s *TokenSweeper) Run(ctx context.Context) error {
	start := time.Now()

	revoked, revokedErr := s.sweep(ctx, repository.TableRevokedTokens)
	refresh, refreshErr := s.sweep(ctx, repository.TableRefreshTokens)

	if err := errors.Join(revokedErr, refreshErr); err != nil {
		return err
	}

	s.logger.Info("トークンスイープが完了しました",
		slog.Int64("revoked_deleted", revoked),
		slog.Int64("refresh_deleted", refresh),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

func (s *TokenSweeper) sweep(ctx context.Context, table string) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at < now()`, s.tables.Name(table))
	result, err := s.db.ExecContext(ctx, query)
	if err != nil {
		s.logger.Error("トークンスイープの実行に失敗しました",
			slog.String("table", table),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("failed to sweep %s: %w", table, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted count for %s: %w", table, err)
	}

	s.metrics.RecordTokensSwept(table, deleted)
	return deleted, nil
}

// Trigger はRunをバックグラウンドで実行する。
// 呼び出し元のリクエストコンテキストとは独立して動作し、エラーはログに記録するのみ。
func (s *TokenSweeper) Trigger() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.TriggerTimeout)
		defer cancel()

		if err := s.Run(ctx); err != nil {
			s.logger.Warn("バックグラウンドのトークンスイープに失敗しました",
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Wait はTriggerで起動した実行中の削除処理の完了を待つ。シャットダウン時に使用する。
func (s *TokenSweeper) Wait() {
	s.wg.Wait()
}

// Start はinterval間隔でRunを実行する。
// 起動直後に1回実行し、コンテキストがキャンセルされるまで継続する。
func (s *TokenSweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("トークンスイープを開始しました", slog.Duration("interval", interval))

	if err := s.Run(ctx); err != nil {
		s.logger.Error("token sweep failed", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("トークンスイープを停止しました")
			return
		case <-ticker.C:
			if err := s.Run(ctx); err != nil {
				s.logger.Error("token sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}
