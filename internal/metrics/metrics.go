// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// コールバック処理結果のラベル値。
const (
	OutcomeSuccess              = "success"
	OutcomeMissingCode          = "missing_code"
	OutcomeProviderNotFound     = "provider_not_found"
	OutcomeExchangeFailed       = "exchange_failed"
	OutcomeInvalidIdentity      = "invalid_identity"
	OutcomeRegistrationDisabled = "registration_disabled"
	OutcomeError                = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービスやスイーパーから利用する。
type MetricsCollector interface {
	RecordLogin(provider string)
	RecordCallback(provider, outcome string)
	RecordExchangeLatency(provider string, duration time.Duration)
	RecordAccountCreated(provider string)
	RecordLinkCreated(provider string)
	RecordTokensSwept(table string, count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins          *prometheus.CounterVec
	callbacks       *prometheus.CounterVec
	exchangeLatency *prometheus.HistogramVec
	accountsCreated *prometheus.CounterVec
	linksCreated    *prometheus.CounterVec
	tokensSwept     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fedlogin_login_redirects_total",
			Help: "プロバイダー認可画面へのリダイレクト数",
		}, []string{"provider"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fedlogin_callbacks_total",
			Help: "OAuthコールバックの処理結果別の件数",
		}, []string{"provider", "outcome"}),
		exchangeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fedlogin_exchange_latency_seconds",
			Help:    "トークン交換とユーザー情報取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		accountsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fedlogin_accounts_created_total",
			Help: "自動登録で作成されたアカウント数",
		}, []string{"provider"}),
		linksCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fedlogin_links_created_total",
			Help: "既存アカウントに追加されたプロバイダー紐付け数",
		}, []string{"provider"}),
		tokensSwept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fedlogin_tokens_swept_total",
			Help: "期限切れで削除されたトークン数",
		}, []string{"table"}),
	}

	reg.MustRegister(
		c.logins,
		c.callbacks,
		c.exchangeLatency,
		c.accountsCreated,
		c.linksCreated,
		c.tokensSwept,
	)

	return c
}

// RecordLogin は認可画面へのリダイレクトを記録する。
func (c *Collector) RecordLogin(provider string) {
	c.logins.WithLabelValues(provider).Inc()
}

// RecordCallback はコールバックの処理結果を記録する。
func (c *Collector) RecordCallback(provider, outcome string) {
	c.callbacks.WithLabelValues(provider, outcome).Inc()
}

// RecordExchangeLatency はプロバイダーとの通信時間を記録する。
func (c *Collector) RecordExchangeLatency(provider string, duration time.Duration) {
	c.exchangeLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordAccountCreated はアカウントの自動作成を記録する。
func (c *Collector) RecordAccountCreated(provider string) {
	c.accountsCreated.WithLabelValues(provider).Inc()
}

// RecordLinkCreated はemail一致による紐付け作成を記録する。
func (c *Collector) RecordLinkCreated(provider string) {
	c.linksCreated.WithLabelValues(provider).Inc()
}

// RecordTokensSwept は削除したトークン数を記録する。
func (c *Collector) RecordTokensSwept(table string, count int64) {
	c.tokensSwept.WithLabelValues(table).Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。メトリクス未設定時とテストで使う。
type Nop struct{}

func (Nop) RecordLogin(string)                          {}
func (Nop) RecordCallback(string, string)               {}
func (Nop) RecordExchangeLatency(string, time.Duration) {}
func (Nop) RecordAccountCreated(string)                 {}
func (Nop) RecordLinkCreated(string)                    {}
func (Nop) RecordTokensSwept(string, int64)             {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
