package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/hitoshi/ndaflow/internal/intent"
	"github.com/hitoshi/ndaflow/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	getAuthorizationURLFn func(state string) string
	handleCallbackFn      func(ctx context.Context, code string) (*model.Session, error)
	logoutFn              func(ctx context.Context, sessionID string) error
	getCurrentUserFn      func(ctx context.Context, sessionID string) (*model.User, error)
}

func (m *mockAuthService) GetAuthorizationURL(state string) string {
	if m.getAuthorizationURLFn != nil {
		return m.getAuthorizationURLFn(state)
	}
	return "https://www.linkedin.com/oauth/v2/authorization?state=" + url.QueryEscape(state)
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if m.getCurrentUserFn != nil {
		return m.getCurrentUserFn(ctx, sessionID)
	}
	return nil, nil
}

type mockSigner struct {
	signFn func(ctx context.Context, ndaID string, signer *model.User) (*model.NDA, error)
}

func (m *mockSigner) Sign(ctx context.Context, ndaID string, signer *model.User) (*model.NDA, error) {
	if m.signFn != nil {
		return m.signFn(ctx, ndaID, signer)
	}
	return nil, nil
}

// mockMetrics はハンドラーが記録するメトリクスを蓄積するモック。
type mockMetrics struct {
	ndaCreated       int
	ndaSigned        int
	ndaDeclined      int
	callbackOutcomes []string
	intentReplays    []string
	latencyRecorded  int
}

func (m *mockMetrics) RecordNDACreated()  { m.ndaCreated++ }
func (m *mockMetrics) RecordNDASigned()   { m.ndaSigned++ }
func (m *mockMetrics) RecordNDADeclined() { m.ndaDeclined++ }
func (m *mockMetrics) RecordCallbackOutcome(outcome string) {
	m.callbackOutcomes = append(m.callbackOutcomes, outcome)
}
func (m *mockMetrics) RecordIntentReplay(result string) {
	m.intentReplays = append(m.intentReplays, result)
}
func (m *mockMetrics) RecordExchangeLatency(_ time.Duration) { m.latencyRecorded++ }

// --- テストヘルパー ---

func testAuthConfig() AuthHandlerConfig {
	return AuthHandlerConfig{
		FrontendBaseURL: "http://localhost:3000",
		CookieDomain:    "",
		CookieSecure:    false,
		SessionMaxAge:   86400,
	}
}

func newTestAuthHandler(svc *mockAuthService, signer *mockSigner, metrics *mockMetrics) *AuthHandler {
	if svc == nil {
		svc = &mockAuthService{}
	}
	if signer == nil {
		signer = &mockSigner{}
	}
	if metrics == nil {
		metrics = &mockMetrics{}
	}
	return NewAuthHandler(svc, signer, metrics, testAuthConfig())
}

// callbackLocation はリダイレクト先のLocationヘッダーを解析して返す。
func callbackLocation(t *testing.T, resp *http.Response) *url.URL {
	t.Helper()
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTemporaryRedirect)
	}
	location := resp.Header.Get("Location")
	if location == "" {
		t.Fatal("expected Location header")
	}
	u, err := url.Parse(location)
	if err != nil {
		t.Fatalf("failed to parse Location %q: %v", location, err)
	}
	return u
}

// --- LoginURL / SignURL ---

func TestAuthHandler_LoginURL_ReturnsAuthorizationURL(t *testing.T) {
	h := newTestAuthHandler(nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/sessions/linkedin/url?redirectUrl=/dashboard/incoming", nil)
	w := httptest.NewRecorder()

	h.LoginURL(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var body loginURLResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !containsStr(body.URL, "linkedin.com") {
		t.Errorf("URL = %q, should contain linkedin authorization URL", body.URL)
	}

	// stateにリダイレクト先が載っていること
	u, _ := url.Parse(body.URL)
	in, ok := intent.Decode(u.Query().Get("state"))
	if !ok {
		t.Fatal("state should decode into an intent")
	}
	if in.RedirectURL != "/dashboard/incoming" {
		t.Errorf("RedirectURL = %q, want %q", in.RedirectURL, "/dashboard/incoming")
	}
	if len(in.Actions) != 0 {
		t.Errorf("plain login should carry no actions, got %d", len(in.Actions))
	}
}

func TestAuthHandler_SignURL_EncodesSignIntent(t *testing.T) {
	var capturedState string
	svc := &mockAuthService{
		getAuthorizationURLFn: func(state string) string {
			capturedState = state
			return "https://www.linkedin.com/oauth/v2/authorization?state=" + url.QueryEscape(state)
		},
	}
	h := newTestAuthHandler(svc, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/ndas/nda-42/sign-url", nil)
	req = withChiURLParam(req, "id", "nda-42")
	w := httptest.NewRecorder()

	h.SignURL(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	in, ok := intent.Decode(capturedState)
	if !ok {
		t.Fatal("state should decode into an intent")
	}
	if in.RedirectURL != "/nda/nda-42" {
		t.Errorf("RedirectURL = %q, want %q", in.RedirectURL, "/nda/nda-42")
	}
	if in.RedirectOnErrorURL != "/nda/nda-42" {
		t.Errorf("RedirectOnErrorURL = %q, want %q", in.RedirectOnErrorURL, "/nda/nda-42")
	}
	if len(in.Actions) != 1 || in.Actions[0].Fn != "sign" {
		t.Fatalf("expected exactly one sign action, got %+v", in.Actions)
	}
	if len(in.Actions[0].Args) != 1 || in.Actions[0].Args[0] != "nda-42" {
		t.Errorf("sign args = %v, want [nda-42]", in.Actions[0].Args)
	}
}

// --- Callback: 成功パス ---

func TestAuthHandler_Callback_SignIntent_ReplaysAndRedirects(t *testing.T) {
	var signedNDAID string
	var signedBy *model.User

	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
			if code != "test-code" {
				t.Errorf("code = %q, want %q", code, "test-code")
			}
			return &model.Session{ID: "session-abc", UserID: "user-1", ExpiresAt: time.Now().Add(24 * time.Hour)}, nil
		},
		getCurrentUserFn: func(ctx context.Context, sessionID string) (*model.User, error) {
			if sessionID != "session-abc" {
				t.Errorf("sessionID = %q, want %q", sessionID, "session-abc")
			}
			return &model.User{ID: "user-1", Email: "signer@example.com"}, nil
		},
	}
	signer := &mockSigner{
		signFn: func(ctx context.Context, ndaID string, u *model.User) (*model.NDA, error) {
			signedNDAID = ndaID
			signedBy = u
			return &model.NDA{ID: ndaID, Status: model.StatusSigned}, nil
		},
	}
	metrics := &mockMetrics{}
	h := newTestAuthHandler(svc, signer, metrics)

	state := intent.Encode(intent.Intent{
		RedirectURL:        "/nda/nda-42",
		RedirectOnErrorURL: "/nda/nda-42",
		Actions:            []intent.Action{{Fn: "sign", Args: []string{"nda-42"}}},
	})

	req := httptest.NewRequest(http.MethodGet,
		"/sessions/linkedin/callback?code=test-code&state="+url.QueryEscape(state), nil)
	w := httptest.NewRecorder()

	h.Callback(w, req)

	resp := w.Result()
	loc := callbackLocation(t, resp)

	// インテントのredirectUrlへ遷移すること
	if got := loc.Scheme + "://" + loc.Host + loc.Path; got != "http://localhost:3000/nda/nda-42" {
		t.Errorf("redirect = %q, want %q", got, "http://localhost:3000/nda/nda-42")
	}

	// signアクションが一度だけ再生されること
	if signedNDAID != "nda-42" {
		t.Errorf("signed NDA = %q, want %q", signedNDAID, "nda-42")
	}
	if signedBy == nil || signedBy.ID != "user-1" {
		t.Errorf("signer = %+v, want user-1", signedBy)
	}

	// セッションCookieが設定されること
	var sessionCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "session_id" {
			sessionCookie = c
			break
		}
	}
	if sessionCookie == nil {
		t.Fatal("expected session_id cookie to be set")
	}
	if sessionCookie.Value != "session-abc" {
		t.Errorf("session cookie value = %q, want %q", sessionCookie.Value, "session-abc")
	}
	if !sessionCookie.HttpOnly {
		t.Error("session cookie should be HttpOnly")
	}

	// メトリクスの記録
	if len(metrics.callbackOutcomes) != 1 || metrics.callbackOutcomes[0] != "success" {
		t.Errorf("callback outcomes = %v, want [success]", metrics.callbackOutcomes)
	}
	if len(metrics.intentReplays) != 1 || metrics.intentReplays[0] != "replayed" {
		t.Errorf("intent replays = %v, want [replayed]", metrics.intentReplays)
	}
	if metrics.ndaSigned != 1 {
		t.Errorf("ndaSigned = %d, want 1", metrics.ndaSigned)
	}
	if metrics.latencyRecorded != 1 {
		t.Errorf("latencyRecorded = %d, want 1", metrics.latencyRecorded)
	}
}

func TestAuthHandler_Callback_NoIntent_RedirectsToDefault(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
			return &model.Session{ID: "session-abc", UserID: "user-1"}, nil
		},
	}
	metrics := &mockMetrics{}
	h := newTestAuthHandler(svc, nil, metrics)

	// state欠落: デフォルトの認証後ページへ
	req := httptest.NewRequest(http.MethodGet, "/sessions/linkedin/callback?code=test-code", nil)
	w := httptest.NewRecorder()

	h.Callback(w, req)

	loc := callbackLocation(t, w.Result())
	if loc.Path != "/dashboard/incoming" {
		t.Errorf("redirect path = %q, want %q", loc.Path, "/dashboard/incoming")
	}
	if len(metrics.intentReplays) != 1 || metrics.intentReplays[0] != "none" {
		t.Errorf("intent replays = %v, want [none]", metrics.intentReplays)
	}
}

func TestAuthHandler_Callback_MalformedState_FallsBackToDefaults(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
			return &model.Session{ID: "session-abc", UserID: "user-1"}, nil
		},
	}
	h := newTestAuthHandler(svc, nil, nil)

	// 壊れたstateはエラーにせず「保留中のインテントなし」として続行する
	req := httptest.NewRequest(http.MethodGet,
		"/sessions/linkedin/callback?code=test-code&state=%21%21not-base64%21%21", nil)
	w := httptest.NewRecorder()

	h.Callback(w, req)

	loc := callbackLocation(t, w.Result())
	if loc.Path != "/dashboard/incoming" {
		t.Errorf("redirect path = %q, want %q", loc.Path, "/dashboard/incoming")
	}
}

// --- Callback: IdPエラーパス ---

func TestAuthHandler_Callback_ProviderError_MapsMessage(t *testing.T) {
	tests := []struct {
		name        string
		errCode     string
		wantMessage string
	}{
		{
			name:        "同意画面でキャンセル",
			errCode:     "user_cancelled_authorize",
			wantMessage: "You must grant LinkedIn access to continue",
		},
		{
			name:        "ログインをキャンセル",
			errCode:     "user_cancelled_login",
			wantMessage: "You must sign into LinkedIn to grant access",
		},
		{
			name:        "スコープ拒否",
			errCode:     "unauthorized_scope_error",
			wantMessage: "Encountered an error connecting to LinkedIn. Please try again later.",
		},
		{
			name:        "未知のエラーコード",
			errCode:     "some_new_error",
			wantMessage: "Oops! Something went wrong. Please try again later.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exchangeCalled := false
			svc := &mockAuthService{
				handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
					exchangeCalled = true
					return nil, nil
				},
			}
			metrics := &mockMetrics{}
			h := newTestAuthHandler(svc, nil, metrics)

			req := httptest.NewRequest(http.MethodGet,
				"/sessions/linkedin/callback?error="+tt.errCode+"&error_description=denied", nil)
			w := httptest.NewRecorder()

			h.Callback(w, req)

			loc := callbackLocation(t, w.Result())

			// IdPエラー時はコード交換を試みないこと
			if exchangeCalled {
				t.Error("code exchange should not be attempted on provider error")
			}

			if loc.Path != "/login" {
				t.Errorf("redirect path = %q, want %q", loc.Path, "/login")
			}
			if got := loc.Query().Get("errorMessage"); got != tt.wantMessage {
				t.Errorf("errorMessage = %q, want %q", got, tt.wantMessage)
			}
			if len(metrics.callbackOutcomes) != 1 || metrics.callbackOutcomes[0] != "provider_error" {
				t.Errorf("callback outcomes = %v, want [provider_error]", metrics.callbackOutcomes)
			}
		})
	}
}

func TestAuthHandler_Callback_ProviderError_UsesRecoveredErrorRedirect(t *testing.T) {
	h := newTestAuthHandler(nil, nil, &mockMetrics{})

	state := intent.Encode(intent.Intent{
		RedirectURL:        "/nda/nda-42",
		RedirectOnErrorURL: "/nda/nda-42",
		Actions:            []intent.Action{{Fn: "sign", Args: []string{"nda-42"}}},
	})

	req := httptest.NewRequest(http.MethodGet,
		"/sessions/linkedin/callback?error=user_cancelled_authorize&state="+url.QueryEscape(state), nil)
	w := httptest.NewRecorder()

	h.Callback(w, req)

	loc := callbackLocation(t, w.Result())
	if loc.Path != "/nda/nda-42" {
		t.Errorf("redirect path = %q, want %q", loc.Path, "/nda/nda-42")
	}
	if got := loc.Query().Get("errorMessage"); got != "You must grant LinkedIn access to continue" {
		t.Errorf("errorMessage = %q", got)
	}
	// 復元できたredirectUrlは遷移先で再試行できるよう引き継がれる
	if got := loc.Query().Get("redirectUrl"); got != "/nda/nda-42" {
		t.Errorf("redirectUrl = %q, want %q", got, "/nda/nda-42")
	}
}

func TestAuthHandler_Callback_CamelCaseErrorDescription_Accepted(t *testing.T) {
	metrics := &mockMetrics{}
	h := newTestAuthHandler(nil, nil, metrics)

	// IdPによってはerrorDescription（camelCase）で届く
	req := httptest.NewRequest(http.MethodGet,
		"/sessions/linkedin/callback?error=user_cancelled_login&errorDescription=cancelled", nil)
	w := httptest.NewRecorder()

	h.Callback(w, req)

	loc := callbackLocation(t, w.Result())
	if got := loc.Query().Get("errorMessage"); got != "You must sign into LinkedIn to grant access" {
		t.Errorf("errorMessage = %q", got)
	}
}

// --- Callback: 交換・再生失敗パス ---

func TestAuthHandler_Callback_MissingCode_RedirectsWithError(t *testing.T) {
	metrics := &mockMetrics{}
	h := newTestAuthHandler(nil, nil, metrics)

	req := httptest.NewRequest(http.MethodGet, "/sessions/linkedin/callback", nil)
	w := httptest.NewRecorder()

	h.Callback(w, req)

	loc := callbackLocation(t, w.Result())
	if loc.Path != "/login" {
		t.Errorf("redirect path = %q, want %q", loc.Path, "/login")
	}
	if got := loc.Query().Get("errorMessage"); got != "Failed to authenticate" {
		t.Errorf("errorMessage = %q, want %q", got, "Failed to authenticate")
	}
}

func TestAuthHandler_Callback_ExchangeFailure_RedirectsWithError(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
			return nil, errors.New("token endpoint returned 400")
		},
	}
	metrics := &mockMetrics{}
	h := newTestAuthHandler(svc, nil, metrics)

	// ブラウザバックで再利用された認可コードはここで失敗し、エラーパスへ落ちる
	req := httptest.NewRequest(http.MethodGet, "/sessions/linkedin/callback?code=stale-code", nil)
	w := httptest.NewRecorder()

	h.Callback(w, req)

	loc := callbackLocation(t, w.Result())
	if got := loc.Query().Get("errorMessage"); got != "Failed to authenticate" {
		t.Errorf("errorMessage = %q, want %q", got, "Failed to authenticate")
	}
	if len(metrics.callbackOutcomes) != 1 || metrics.callbackOutcomes[0] != "exchange_failed" {
		t.Errorf("callback outcomes = %v, want [exchange_failed]", metrics.callbackOutcomes)
	}
}

func TestAuthHandler_Callback_ReplayFailure_RedirectsWithError(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
			return &model.Session{ID: "session-abc", UserID: "user-1"}, nil
		},
		getCurrentUserFn: func(ctx context.Context, sessionID string) (*model.User, error) {
			return &model.User{ID: "user-1", Email: "signer@example.com"}, nil
		},
	}
	signer := &mockSigner{
		signFn: func(ctx context.Context, ndaID string, u *model.User) (*model.NDA, error) {
			return nil, model.NewNotAPartyError()
		},
	}
	metrics := &mockMetrics{}
	h := newTestAuthHandler(svc, signer, metrics)

	state := intent.Encode(intent.Intent{
		RedirectURL:        "/nda/nda-42",
		RedirectOnErrorURL: "/nda/nda-42",
		Actions:            []intent.Action{{Fn: "sign", Args: []string{"nda-42"}}},
	})

	req := httptest.NewRequest(http.MethodGet,
		"/sessions/linkedin/callback?code=test-code&state="+url.QueryEscape(state), nil)
	w := httptest.NewRecorder()

	h.Callback(w, req)

	resp := w.Result()
	loc := callbackLocation(t, resp)

	if loc.Path != "/nda/nda-42" {
		t.Errorf("redirect path = %q, want %q", loc.Path, "/nda/nda-42")
	}
	if got := loc.Query().Get("errorMessage"); got != "Failed to authenticate" {
		t.Errorf("errorMessage = %q, want %q", got, "Failed to authenticate")
	}
	if len(metrics.intentReplays) != 1 || metrics.intentReplays[0] != "failed" {
		t.Errorf("intent replays = %v, want [failed]", metrics.intentReplays)
	}

	// 再生に失敗してもセッション自体は確立している
	var sessionCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "session_id" {
			sessionCookie = c
			break
		}
	}
	if sessionCookie == nil || sessionCookie.Value != "session-abc" {
		t.Error("session cookie should be set even when replay fails")
	}
}

// --- Logout / Me ---

func TestAuthHandler_Logout_ClearsCookie(t *testing.T) {
	var loggedOut string
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, sessionID string) error {
			loggedOut = sessionID
			return nil
		},
	}
	h := newTestAuthHandler(svc, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/sessions/logout", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "session-to-logout"})
	w := httptest.NewRecorder()

	h.Logout(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	if loggedOut != "session-to-logout" {
		t.Errorf("logged out session = %q, want %q", loggedOut, "session-to-logout")
	}

	var sessionCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "session_id" {
			sessionCookie = c
			break
		}
	}
	if sessionCookie == nil {
		t.Fatal("expected session_id cookie to be cleared")
	}
	if sessionCookie.MaxAge != -1 {
		t.Errorf("session cookie MaxAge = %d, want -1 (delete)", sessionCookie.MaxAge)
	}
}

func TestAuthHandler_Logout_NoSession_StillSucceeds(t *testing.T) {
	h := newTestAuthHandler(nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/sessions/logout", nil)
	w := httptest.NewRecorder()

	h.Logout(w, req)

	if w.Result().StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNoContent)
	}
}

func TestAuthHandler_Me_Authenticated_ReturnsUserJSON(t *testing.T) {
	svc := &mockAuthService{
		getCurrentUserFn: func(ctx context.Context, sessionID string) (*model.User, error) {
			return &model.User{ID: "user-id-me", Email: "me@example.com", Name: "Me User"}, nil
		},
	}
	h := newTestAuthHandler(svc, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/sessions/me", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "valid-session"})
	w := httptest.NewRecorder()

	h.Me(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["email"] != "me@example.com" {
		t.Errorf("email = %q, want %q", body["email"], "me@example.com")
	}
}

func TestAuthHandler_Me_NoSession_ReturnsUnauthorized(t *testing.T) {
	h := newTestAuthHandler(nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/sessions/me", nil)
	w := httptest.NewRecorder()

	h.Me(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

// containsStr は文字列sにsubstrが含まれるかチェックするヘルパー。
func containsStr(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
