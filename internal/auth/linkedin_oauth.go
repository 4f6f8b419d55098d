package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	defaultLinkedInAuthURL     = "https://www.linkedin.com/oauth/v2/authorization"
	defaultLinkedInTokenURL    = "https://www.linkedin.com/oauth/v2/accessToken"
	defaultLinkedInUserInfoURL = "https://api.linkedin.com/v2/userinfo"

	// defaultLinkedInScopes はOpenID Connectの標準スコープ。
	defaultLinkedInScopes = "openid profile email"
)

// LinkedInOAuthConfig はLinkedIn OAuthプロバイダーの設定。
type LinkedInOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       string

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// LinkedInOAuthProvider はLinkedIn OAuth 2.0による認証を提供する。
type LinkedInOAuthProvider struct {
	config LinkedInOAuthConfig
}

// NewLinkedInOAuthProvider はLinkedInOAuthProviderを生成する。
func NewLinkedInOAuthProvider(config LinkedInOAuthConfig) *LinkedInOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultLinkedInAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultLinkedInTokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultLinkedInUserInfoURL
	}
	if config.Scopes == "" {
		config.Scopes = defaultLinkedInScopes
	}
	return &LinkedInOAuthProvider{config: config}
}

// GetAuthorizationURL はLinkedInの認可URLを生成する。
// stateにはエンコード済みのアクションインテントをそのまま載せる。
// IdPはstateを不透明な値として扱い、コールバックで同じ値を返す。
func (p *LinkedInOAuthProvider) GetAuthorizationURL(state string) string {
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"state":         {state},
		"scope":         {p.config.Scopes},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// linkedinTokenResponse はLinkedInのトークンエンドポイントのレスポンス。
type linkedinTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// linkedinUserInfo はLinkedInのuserinfoエンドポイント（OpenID Connect）のレスポンス。
type linkedinUserInfo struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// ExchangeCode は認可コードをアクセストークンに交換し、ユーザー情報を取得する。
func (p *LinkedInOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	// 1. 認可コードをアクセストークンに交換
	tokenResp, err := p.exchangeToken(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	// 2. アクセストークンでユーザー情報を取得
	userInfo, err := p.fetchUserInfo(ctx, tokenResp.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}

	return &OAuthUserInfo{
		ProviderUserID: userInfo.Sub,
		Email:          userInfo.Email,
		Name:           userInfo.Name,
		Provider:       "linkedin",
	}, nil
}

// exchangeToken は認可コードをアクセストークンに交換する。
func (p *LinkedInOAuthProvider) exchangeToken(ctx context.Context, code string) (*linkedinTokenResponse, error) {
	data := url.Values{
		"code":          {code},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"redirect_uri":  {p.config.RedirectURL},
		"grant_type":    {"authorization_code"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token exchange failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp linkedinTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}

	return &tokenResp, nil
}

// fetchUserInfo はアクセストークンでLinkedInのユーザー情報を取得する。
func (p *LinkedInOAuthProvider) fetchUserInfo(ctx context.Context, accessToken string) (*linkedinUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read user info response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info fetch failed with status %d: %s", resp.StatusCode, string(body))
	}

	var userInfo linkedinUserInfo
	if err := json.Unmarshal(body, &userInfo); err != nil {
		return nil, fmt.Errorf("failed to parse user info response: %w", err)
	}

	if userInfo.Sub == "" {
		return nil, fmt.Errorf("empty sub in user info response")
	}

	return &userInfo, nil
}

// compile-time interface check
var _ OAuthProvider = (*LinkedInOAuthProvider)(nil)
