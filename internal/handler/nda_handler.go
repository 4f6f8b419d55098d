package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/ndaflow/internal/middleware"
	"github.com/hitoshi/ndaflow/internal/model"
	"github.com/hitoshi/ndaflow/internal/nda"
)

// NDAServiceInterface はNDAハンドラーが必要とするサービスインターフェース。
type NDAServiceInterface interface {
	// Create は新しいNDAを作成し、受信者へ署名依頼を通知する。
	Create(ctx context.Context, ownerID string, req nda.CreateRequest) (*model.NDA, error)
	// Get はロール解決済みのNDA閲覧結果を返す。
	Get(ctx context.Context, ndaID string, viewer *model.User) (*nda.View, error)
	// Decline は受信者による拒否を実行する。
	Decline(ctx context.Context, ndaID string, viewer *model.User) (*model.NDA, error)
	// Resend はオーナーによる署名依頼の再送を行う。
	Resend(ctx context.Context, ndaID string, viewer *model.User) error
	// Download は署名済みNDAのダウンロード用ビューを返す。
	Download(ctx context.Context, ndaID string, viewer *model.User) (*nda.View, error)
	// ListIncoming はユーザーが受信者であるNDAの一覧を返す。
	ListIncoming(ctx context.Context, viewer *model.User) ([]*model.NDA, error)
	// ListOutgoing はユーザーがオーナーであるNDAの一覧を返す。
	ListOutgoing(ctx context.Context, viewer *model.User) ([]*model.NDA, error)
}

// UserFinderInterface はセッションのユーザーIDから閲覧者を解決するインターフェース。
// ロール解決にはメールアドレスを含むユーザー情報が必要になる。
type UserFinderInterface interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// NDAMetrics はNDA操作で記録するメトリクス。
type NDAMetrics interface {
	RecordNDACreated()
	RecordNDADeclined()
}

// NDAHandler はNDA管理のHTTPハンドラー。
type NDAHandler struct {
	service    NDAServiceInterface
	userFinder UserFinderInterface
	metrics    NDAMetrics
}

// NewNDAHandler はNDAHandlerを生成する。
func NewNDAHandler(service NDAServiceInterface, userFinder UserFinderInterface, metrics NDAMetrics) *NDAHandler {
	return &NDAHandler{
		service:    service,
		userFinder: userFinder,
		metrics:    metrics,
	}
}

// createNDARequest はNDA作成リクエストのボディ。
type createNDARequest struct {
	RecipientEmail    string   `json:"recipient_email"`
	RecipientFullName string   `json:"recipient_full_name"`
	DisclosingParty   string   `json:"disclosing_party"`
	ReceivingParty    string   `json:"receiving_party"`
	AttachmentLinks   []string `json:"attachment_links"`
}

// ndaResponse はNDA情報のAPIレスポンス。
type ndaResponse struct {
	ID                string     `json:"id"`
	OwnerID           string     `json:"owner_id"`
	RecipientID       *string    `json:"recipient_id,omitempty"`
	RecipientEmail    string     `json:"recipient_email"`
	RecipientFullName string     `json:"recipient_full_name"`
	Status            string     `json:"status"`
	DisclosingParty   string     `json:"disclosing_party"`
	ReceivingParty    string     `json:"receiving_party"`
	AttachmentLinks   []string   `json:"attachment_links,omitempty"`
	SignedAt          *time.Time `json:"signed_at,omitempty"`
	DeclinedAt        *time.Time `json:"declined_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// ndaViewResponse はロール解決済みのNDA閲覧レスポンス。
// 閲覧者のロールとそのロールで実行可能な操作を含む。
type ndaViewResponse struct {
	NDA            ndaResponse `json:"nda"`
	Role           string      `json:"role"`
	AllowedActions []string    `json:"allowed_actions"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// Create はNDA作成を処理する。
// POST /api/ndas
func (h *NDAHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req createNDARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "Failed to parse request body.",
			Category: "validation",
			Action:   "Send a valid JSON request body.",
		})
		return
	}

	created, err := h.service.Create(r.Context(), userID, nda.CreateRequest{
		RecipientEmail:    req.RecipientEmail,
		RecipientFullName: req.RecipientFullName,
		DisclosingParty:   req.DisclosingParty,
		ReceivingParty:    req.ReceivingParty,
		AttachmentLinks:   req.AttachmentLinks,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.metrics.RecordNDACreated()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toNDAResponse(created))
}

// Get はロール解決済みのNDA詳細を返す。
// 未認証の閲覧者（公開リンク経由）も閲覧できる。
// GET /api/ndas/:id
func (h *NDAHandler) Get(w http.ResponseWriter, r *http.Request) {
	ndaID := chi.URLParam(r, "id")

	viewer, err := h.viewerFromRequest(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	view, err := h.service.Get(r.Context(), ndaID, viewer)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toNDAViewResponse(view))
}

// Decline は受信者によるNDA拒否を処理する。
// 未認証の受信者（公開リンク経由）も拒否できる。
// POST /api/ndas/:id/decline
func (h *NDAHandler) Decline(w http.ResponseWriter, r *http.Request) {
	ndaID := chi.URLParam(r, "id")

	viewer, err := h.viewerFromRequest(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	declined, err := h.service.Decline(r.Context(), ndaID, viewer)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.metrics.RecordNDADeclined()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toNDAResponse(declined))
}

// Resend はオーナーによる署名依頼の再送を処理する。
// POST /api/ndas/:id/resend
func (h *NDAHandler) Resend(w http.ResponseWriter, r *http.Request) {
	ndaID := chi.URLParam(r, "id")

	viewer, err := h.viewerFromRequest(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if err := h.service.Resend(r.Context(), ndaID, viewer); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Download は署名済みNDAのダウンロード用ビューを返す。
// GET /api/ndas/:id/download
func (h *NDAHandler) Download(w http.ResponseWriter, r *http.Request) {
	ndaID := chi.URLParam(r, "id")

	viewer, err := h.viewerFromRequest(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	view, err := h.service.Download(r.Context(), ndaID, viewer)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toNDAViewResponse(view))
}

// ListIncoming はユーザーが受信者であるNDAの一覧を返す。
// GET /api/ndas/incoming
func (h *NDAHandler) ListIncoming(w http.ResponseWriter, r *http.Request) {
	viewer, err := h.viewerFromRequest(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	list, err := h.service.ListIncoming(r.Context(), viewer)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeNDAList(w, list)
}

// ListOutgoing はユーザーがオーナーであるNDAの一覧を返す。
// GET /api/ndas/outgoing
func (h *NDAHandler) ListOutgoing(w http.ResponseWriter, r *http.Request) {
	viewer, err := h.viewerFromRequest(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	list, err := h.service.ListOutgoing(r.Context(), viewer)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeNDAList(w, list)
}

// viewerFromRequest はリクエストコンテキストから閲覧者を解決する。
// セッションがない場合はnil（公開閲覧者）を返し、エラーにはしない。
func (h *NDAHandler) viewerFromRequest(r *http.Request) (*model.User, error) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		return nil, nil
	}

	user, err := h.userFinder.FindByID(r.Context(), userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// --- ヘルパー関数 ---

// toNDAResponse はmodel.NDAからAPIレスポンスに変換する。
func toNDAResponse(n *model.NDA) ndaResponse {
	return ndaResponse{
		ID:                n.ID,
		OwnerID:           n.OwnerID,
		RecipientID:       n.RecipientID,
		RecipientEmail:    n.RecipientEmail,
		RecipientFullName: n.RecipientFullName,
		Status:            string(n.Status),
		DisclosingParty:   n.Parameters.DisclosingParty,
		ReceivingParty:    n.Parameters.ReceivingParty,
		AttachmentLinks:   n.AttachmentLinks,
		SignedAt:          n.SignedAt,
		DeclinedAt:        n.DeclinedAt,
		CreatedAt:         n.CreatedAt,
		UpdatedAt:         n.UpdatedAt,
	}
}

// toNDAViewResponse はロール解決済みビューからAPIレスポンスに変換する。
func toNDAViewResponse(view *nda.View) ndaViewResponse {
	actions := make([]string, 0, len(view.AllowedActions))
	for _, a := range view.AllowedActions {
		actions = append(actions, string(a))
	}
	return ndaViewResponse{
		NDA:            toNDAResponse(view.NDA),
		Role:           string(view.Role),
		AllowedActions: actions,
	}
}

// writeNDAList はNDA一覧をJSONで書き込む。
func writeNDAList(w http.ResponseWriter, list []*model.NDA) {
	responses := make([]ndaResponse, 0, len(list))
	for _, n := range list {
		responses = append(responses, toNDAResponse(n))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(responses)
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "Oops! Something went wrong. Please try again later.",
		Category: "system",
		Action:   "Wait a moment and try again.",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeNDANotFound:
		return http.StatusNotFound
	case model.ErrCodeNotAParty:
		return http.StatusForbidden
	case model.ErrCodeActionNotAllowed:
		return http.StatusForbidden
	case model.ErrCodeInvalidTransition:
		return http.StatusConflict
	case model.ErrCodeInvalidRecipient:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeUserNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
