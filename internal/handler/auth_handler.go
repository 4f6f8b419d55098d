// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/ndaflow/internal/intent"
	"github.com/hitoshi/ndaflow/internal/model"
)

const sessionCookieName = "session_id"

// 認証成功・失敗時のデフォルトのリダイレクト先。
// インテントからリダイレクト先が復元できなかった場合に使用する。
const (
	defaultSuccessPath = "/dashboard/incoming"
	defaultErrorPath   = "/login"
)

// IdPのコールバックが返すエラーコードに対応するユーザー向けメッセージ。
// 未知のエラーコードはproviderErrorFallbackにフォールバックする。
var providerErrorMessages = map[string]string{
	"user_cancelled_authorize": "You must grant LinkedIn access to continue",
	"user_cancelled_login":     "You must sign into LinkedIn to grant access",
	"unauthorized_scope_error": "Encountered an error connecting to LinkedIn. Please try again later.",
}

const (
	providerErrorFallback = "Oops! Something went wrong. Please try again later."
	exchangeFailedMessage = "Failed to authenticate"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetAuthorizationURL(state string) string
	HandleCallback(ctx context.Context, code string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
	GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error)
}

// NDASigner はコールバックでのインテント再生が必要とする署名操作。
type NDASigner interface {
	Sign(ctx context.Context, ndaID string, signer *model.User) (*model.NDA, error)
}

// AuthMetrics はコールバック処理で記録するメトリクス。
type AuthMetrics interface {
	RecordNDASigned()
	RecordCallbackOutcome(outcome string)
	RecordIntentReplay(result string)
	RecordExchangeLatency(duration time.Duration)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	FrontendBaseURL string // リダイレクト先のフロントエンドURL
	CookieDomain    string
	CookieSecure    bool
	SessionMaxAge   int // セッションCookieの有効期間（秒）
}

// AuthHandler はOAuth認証フローのHTTPハンドラー。
// 署名インテントはIdPのstateパラメータに載せて往復し、コールバックで再生する。
type AuthHandler struct {
	service AuthServiceInterface
	signer  NDASigner
	metrics AuthMetrics
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, signer NDASigner, metrics AuthMetrics, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		signer:  signer,
		metrics: metrics,
		config:  config,
	}
}

// loginURLResponse は認証URL払い出しのレスポンス。
type loginURLResponse struct {
	URL string `json:"url"`
}

// LoginURL はインテントなしの通常ログイン用の認証URLを返す。
// redirectUrl / redirectOnErrorUrl クエリパラメータでログイン後の遷移先を指定できる。
// GET /sessions/linkedin/url
func (h *AuthHandler) LoginURL(w http.ResponseWriter, r *http.Request) {
	in := intent.Intent{
		RedirectURL:        r.URL.Query().Get("redirectUrl"),
		RedirectOnErrorURL: r.URL.Query().Get("redirectOnErrorUrl"),
	}

	url := h.service.GetAuthorizationURL(intent.Encode(in))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(loginURLResponse{URL: url})
}

// SignURL は署名インテント付きの認証URLを返す（フェーズ1）。
// NDAページ自身をリダイレクト先として、sign(ndaID)アクションをstateに載せる。
// コールバック到着時にこのアクションが一度だけ再生される。
// GET /api/ndas/{id}/sign-url
func (h *AuthHandler) SignURL(w http.ResponseWriter, r *http.Request) {
	ndaID := chi.URLParam(r, "id")

	ndaPath := "/nda/" + ndaID
	in := intent.Intent{
		RedirectURL:        ndaPath,
		RedirectOnErrorURL: ndaPath,
		Actions: []intent.Action{
			{Fn: "sign", Args: []string{ndaID}},
		},
	}

	url := h.service.GetAuthorizationURL(intent.Encode(in))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(loginURLResponse{URL: url})
}

// Callback はOAuthコールバックを処理する（フェーズ2）。
// stateからインテントを復元し、IdPエラーの変換 → コード交換 → セッション発行 →
// インテント再生 → リダイレクトの順で解決する。
// 到達可能なすべての失敗パスは遷移可能なURLへのリダイレクトで終わる。
// GET /sessions/linkedin/callback
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	params := normalizeCallbackParams(r.URL.Query())

	in, recovered := intent.Decode(params["state"])
	if !recovered {
		// stateの欠落・破損は「保留中のインテントなし」として扱い、
		// デフォルトのリダイレクト先で処理を続行する
		in = intent.Intent{}
	}

	// 1. IdPがエラーを返した場合はコード交換を試みずにエラー遷移
	if errCode := params["error"]; errCode != "" {
		msg, known := providerErrorMessages[errCode]
		if !known {
			msg = providerErrorFallback
		}
		slog.Warn("oauth provider returned error",
			slog.String("error", errCode),
			slog.String("description", params["errorDescription"]),
		)
		h.metrics.RecordCallbackOutcome("provider_error")
		h.redirectError(w, r, in, msg)
		return
	}

	code := params["code"]
	if code == "" {
		slog.Warn("oauth callback missing authorization code")
		h.metrics.RecordCallbackOutcome("exchange_failed")
		h.redirectError(w, r, in, exchangeFailedMessage)
		return
	}

	// 2. 認可コードをセッションに交換
	start := time.Now()
	session, err := h.service.HandleCallback(r.Context(), code)
	h.metrics.RecordExchangeLatency(time.Since(start))
	if err != nil {
		slog.Error("oauth code exchange failed", slog.String("error", err.Error()))
		h.metrics.RecordCallbackOutcome("exchange_failed")
		h.redirectError(w, r, in, exchangeFailedMessage)
		return
	}

	// 3. セッションCookieを設定（HTTP Only）
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 4. インテントの再生（このコールバック呼び出しにつき一度だけ）
	if err := h.replayIntent(r.Context(), session.ID, in); err != nil {
		slog.Error("intent replay failed", slog.String("error", err.Error()))
		h.metrics.RecordCallbackOutcome("success")
		h.redirectError(w, r, in, exchangeFailedMessage)
		return
	}

	// 5. 成功リダイレクト
	h.metrics.RecordCallbackOutcome("success")
	target := in.RedirectURL
	if target == "" {
		target = defaultSuccessPath
	}
	http.Redirect(w, r, h.frontendURL(target), http.StatusTemporaryRedirect)
}

// replayIntent は復元されたインテントのアクションを再生する。
// 現在サポートするアクションはsignのみ。未知のアクションはスキップする。
func (h *AuthHandler) replayIntent(ctx context.Context, sessionID string, in intent.Intent) error {
	if len(in.Actions) == 0 {
		h.metrics.RecordIntentReplay("none")
		return nil
	}

	user, err := h.service.GetCurrentUser(ctx, sessionID)
	if err != nil {
		h.metrics.RecordIntentReplay("failed")
		return err
	}

	for _, a := range in.Actions {
		if a.Fn != "sign" || len(a.Args) == 0 {
			slog.Warn("skipping unknown intent action", slog.String("fn", a.Fn))
			continue
		}
		if _, err := h.signer.Sign(ctx, a.Args[0], user); err != nil {
			h.metrics.RecordIntentReplay("failed")
			return err
		}
		h.metrics.RecordNDASigned()
	}

	h.metrics.RecordIntentReplay("replayed")
	return nil
}

// redirectError はエラーメッセージ付きのリダイレクトを発行する。
// インテントから復元したredirectOnErrorUrl、なければデフォルトのエラーページへ。
// redirectUrlが復元できている場合は遷移先で再試行できるよう引き継ぐ。
func (h *AuthHandler) redirectError(w http.ResponseWriter, r *http.Request, in intent.Intent, message string) {
	target := in.RedirectOnErrorURL
	if target == "" {
		target = defaultErrorPath
	}

	q := url.Values{}
	q.Set("errorMessage", message)
	if in.RedirectURL != "" {
		q.Set("redirectUrl", in.RedirectURL)
	}

	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}

	http.Redirect(w, r, h.frontendURL(target)+sep+q.Encode(), http.StatusTemporaryRedirect)
}

// frontendURL は相対パスをフロントエンドの絶対URLへ解決する。
// 既に絶対URLの場合はそのまま返す。
func (h *AuthHandler) frontendURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimSuffix(h.config.FrontendBaseURL, "/") + path
}

// normalizeCallbackParams はIdPコールバックのクエリパラメータを正規化する。
// IdPによってsnake_case（error_description）とcamelCase（errorDescription）の
// 両方の綴りで届くため、どちらも受け付ける。
func normalizeCallbackParams(q url.Values) map[string]string {
	params := map[string]string{
		"code":             q.Get("code"),
		"state":            q.Get("state"),
		"error":            q.Get("error"),
		"errorDescription": q.Get("error_description"),
	}
	if params["errorDescription"] == "" {
		params["errorDescription"] = q.Get("errorDescription")
	}
	return params
}

// Logout はセッションを破棄する。
// POST /sessions/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil && cookie.Value != "" {
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のログインユーザー情報を返す。
// GET /sessions/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	user, err := h.service.GetCurrentUser(r.Context(), cookie.Value)
	if err != nil {
		slog.Warn("failed to get current user", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":    user.ID,
		"email": user.Email,
		"name":  user.Name,
	})
}
