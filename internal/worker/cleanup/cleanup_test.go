package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/fedlogin/internal/repository"
)

type fakeResult struct {
	rowsAffected int64
}

func (r *fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r *fakeResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

// mockExecutor はExecutorのモック実装。実行されたクエリを記録する。
type mockExecutor struct {
	mu      sync.Mutex
	queries []string
	rows    map[string]int64 // テーブル名 -> 削除件数
	errFor  map[string]error // テーブル名 -> エラー
	block   chan struct{}
}

func (m *mockExecutor) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, query)

	for table, err := range m.errFor {
		if strings.Contains(query, `"`+table+`"`) {
			return nil, err
		}
	}
	for table, n := range m.rows {
		if strings.Contains(query, `"`+table+`"`) {
			return &fakeResult{rowsAffected: n}, nil
		}
	}
	return &fakeResult{}, nil
}

func (m *mockExecutor) recorded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}

// mockCollector はRecordTokensSweptの呼び出しを記録する。
type mockCollector struct {
	mu    sync.Mutex
	swept map[string]int64
}

func (m *mockCollector) RecordLogin(string)                          {}
func (m *mockCollector) RecordCallback(string, string)               {}
func (m *mockCollector) RecordExchangeLatency(string, time.Duration) {}
func (m *mockCollector) RecordAccountCreated(string)                 {}
func (m *mockCollector) RecordLinkCreated(string)                    {}
func (m *mockCollector) RecordTokensSwept(table string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.swept == nil {
		m.swept = map[string]int64{}
	}
	m.swept[table] += count
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func TestNewTokenSweeper_ReturnsNonNil(t *testing.T) {
	var buf bytes.Buffer
	s := NewTokenSweeper(&mockExecutor{}, repository.Tables{}, nil, newTestLogger(&buf))

	if s == nil {
		t.Fatal("NewTokenSweeper は nil を返してはならない")
	}
	if s.TriggerTimeout != 30*time.Second {
		t.Errorf("TriggerTimeout = %v, want 30s", s.TriggerTimeout)
	}
}

func TestTokenSweeper_Run_DeletesExpiredFromBothTables(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{}
	s := NewTokenSweeper(mock, repository.Tables{}, nil, newTestLogger(&buf))

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	queries := mock.recorded()
	if len(queries) != 2 {
		t.Fatalf("実行クエリ数 = %d, want 2", len(queries))
	}
	want := []string{
		`DELETE FROM "revoked_tokens" WHERE expires_at < now()`,
		`DELETE FROM "refresh_tokens" WHERE expires_at < now()`,
	}
	for i, q := range want {
		if queries[i] != q {
			t.Errorf("query[%d] = %q, want %q", i, queries[i], q)
		}
	}
}

func TestTokenSweeper_Run_UsesTablePrefix(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{}
	s := NewTokenSweeper(mock, repository.Tables{Prefix: "acme_"}, nil, newTestLogger(&buf))

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	for _, q := range mock.recorded() {
		if !strings.Contains(q, `"acme_`) {
			t.Errorf("クエリにプレフィックスが含まれていない: %s", q)
		}
	}
}

func TestTokenSweeper_Run_LogsAndRecordsDeletedCount(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{rows: map[string]int64{"revoked_tokens": 3, "refresh_tokens": 42}}
	collector := &mockCollector{}
	s := NewTokenSweeper(mock, repository.Tables{}, collector, newTestLogger(&buf))

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("ログがJSONではない: %v\n%s", err, buf.String())
	}
	if entry["revoked_deleted"] != float64(3) || entry["refresh_deleted"] != float64(42) {
		t.Errorf("ログの削除件数が不正: %s", buf.String())
	}

	if collector.swept["revoked_tokens"] != 3 || collector.swept["refresh_tokens"] != 42 {
		t.Errorf("メトリクスの削除件数が不正: %v", collector.swept)
	}
}

func TestTokenSweeper_Run_ContinuesAfterFailure(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{errFor: map[string]error{"revoked_tokens": sql.ErrConnDone}}
	s := NewTokenSweeper(mock, repository.Tables{}, nil, newTestLogger(&buf))

	err := s.Run(context.Background())
	if !errors.Is(err, sql.ErrConnDone) {
		t.Fatalf("Run() error = %v, want sql.ErrConnDone", err)
	}
	if len(mock.recorded()) != 2 {
		t.Errorf("revoked_tokensの失敗後もrefresh_tokensを処理すること: queries=%v", mock.recorded())
	}
	if !strings.Contains(buf.String(), "revoked_tokens") {
		t.Errorf("失敗したテーブル名がログに記録されていない: %s", buf.String())
	}
}

// TestTokenSweeper_Trigger_DetachedFromCaller は呼び出し元をブロックせずに実行されることを検証する。
func TestTokenSweeper_Trigger_DetachedFromCaller(t *testing.T) {
	var buf syncBuffer
	mock := &mockExecutor{block: make(chan struct{})}
	s := NewTokenSweeper(mock, repository.Tables{}, nil, slog.New(slog.NewJSONHandler(&buf, nil)))

	done := make(chan struct{})
	go func() {
		s.Trigger()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Trigger() が呼び出し元をブロックした")
	}

	close(mock.block)
	s.Wait()

	if len(mock.recorded()) != 2 {
		t.Errorf("queries = %d, want 2", len(mock.recorded()))
	}
}

// TestTokenSweeper_Trigger_ErrorIsLoggedOnly はエラーがログにのみ記録されることを検証する。
func TestTokenSweeper_Trigger_ErrorIsLoggedOnly(t *testing.T) {
	var buf syncBuffer
	mock := &mockExecutor{errFor: map[string]error{"refresh_tokens": sql.ErrConnDone}}
	s := NewTokenSweeper(mock, repository.Tables{}, nil, slog.New(slog.NewJSONHandler(&buf, nil)))

	s.Trigger()
	s.Wait()

	if !strings.Contains(buf.String(), "WARN") {
		t.Errorf("失敗がWARNで記録されていない: %s", buf.String())
	}
}

func TestTokenSweeper_Trigger_TimesOut(t *testing.T) {
	var buf syncBuffer
	mock := &mockExecutor{block: make(chan struct{})}
	s := NewTokenSweeper(mock, repository.Tables{}, nil, slog.New(slog.NewJSONHandler(&buf, nil)))
	s.TriggerTimeout = 20 * time.Millisecond

	s.Trigger()
	s.Wait()

	if !strings.Contains(buf.String(), "deadline exceeded") {
		t.Errorf("タイムアウトが記録されていない: %s", buf.String())
	}
}

func TestTokenSweeper_Start_StopsOnCancel(t *testing.T) {
	var buf syncBuffer
	mock := &mockExecutor{}
	s := NewTokenSweeper(mock, repository.Tables{}, nil, slog.New(slog.NewJSONHandler(&buf, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx, time.Hour)
		close(done)
	}()

	// 起動直後の1回目の実行を待つ
	deadline := time.Now().Add(time.Second)
	for len(mock.recorded()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start() がキャンセル後に停止しなかった")
	}
	if len(mock.recorded()) != 2 {
		t.Errorf("queries = %d, want 2", len(mock.recorded()))
	}
}

// syncBuffer はgoroutineから安全に書き込めるバッファ。
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
