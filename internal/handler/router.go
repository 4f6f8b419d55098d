package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/ndaflow/internal/middleware"
)

// HealthChecker はヘルスチェックで接続確認できる依存を表す。
// 通常は*sql.DBを渡す。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig

	// 運用系
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// NDA
	NDAService NDAServiceInterface
	NDASigner  NDASigner
	UserFinder UserFinderInterface

	// 統計
	StatsProvider StatsProviderInterface

	// メトリクス
	Metrics MetricsInterface
}

// MetricsInterface はルーター配下のハンドラーが記録するメトリクスの集合。
type MetricsInterface interface {
	AuthMetrics
	NDAMetrics
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ルートは2つのグループに分かれる:
//
//   - 公開グループ: NDA閲覧・拒否・署名URL・統計・OAuthフロー。
//     セッションは任意（あれば閲覧者として解決）、IPアドレス単位のレート制限。
//   - 認証グループ: NDA作成・一覧・再送・ダウンロード・セッション管理。
//     セッション必須、CSRF検証、ユーザー単位のレート制限。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	// 全ルート共通のミドルウェア
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(slog.Default()))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.NDASigner, deps.Metrics, deps.AuthConfig)
	ndaHandler := NewNDAHandler(deps.NDAService, deps.UserFinder, deps.Metrics)
	statsHandler := NewStatsHandler(deps.StatsProvider)

	// --- 運用系ルート（ミドルウェアグループの外） ---
	if deps.HealthChecker != nil {
		r.Get("/health", newHealthHandler(deps.HealthChecker))
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// 公開グループと認証グループで/api/ndas/{id}配下のパスを分け合うため、
	// サブルーターのマウントは使わずフルパスで登録する。

	// --- 公開ルート ---
	// セッションは任意: Cookieがあれば閲覧者として解決し、なければ公開閲覧者として扱う。
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewOptionalSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.PublicMiddleware())

		// OAuthフロー
		r.Get("/sessions/linkedin/url", authHandler.LoginURL)
		r.Get("/sessions/linkedin/callback", authHandler.Callback)

		// NDA閲覧・署名URL・拒否（公開リンク経由の受信者向け）
		r.Get("/api/ndas/{id}", ndaHandler.Get)
		r.Get("/api/ndas/{id}/sign-url", authHandler.SignURL)
		r.Post("/api/ndas/{id}/decline", ndaHandler.Decline)

		// 統計（トップページ向け、全ユーザー共通）
		r.Get("/api/nda-statistics", statsHandler.Get)

		// CSRFトークン取得（認証グループの状態変更リクエストで使用）
		r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// セッション管理
		r.Get("/sessions/me", authHandler.Me)
		r.Post("/sessions/logout", authHandler.Logout)

		// NDA管理
		// POST /api/ndas - NDA作成（作成専用レート制限を追加）
		r.With(deps.RateLimiter.NDACreationMiddleware()).Post("/api/ndas", ndaHandler.Create)
		r.Get("/api/ndas/incoming", ndaHandler.ListIncoming)
		r.Get("/api/ndas/outgoing", ndaHandler.ListOutgoing)
		r.Post("/api/ndas/{id}/resend", ndaHandler.Resend)
		r.Get("/api/ndas/{id}/download", ndaHandler.Download)
	})

	return r
}

// newHealthHandler はDB接続を確認するヘルスチェックハンドラーを返す。
func newHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := checker.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}
}
