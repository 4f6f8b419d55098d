// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, nda, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeNDANotFound       = "NDA_NOT_FOUND"
	ErrCodeNotAParty         = "NOT_A_PARTY"
	ErrCodeActionNotAllowed  = "ACTION_NOT_ALLOWED"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeInvalidRecipient  = "INVALID_RECIPIENT"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeUserNotFound      = "USER_NOT_FOUND"
)

// NewNDANotFoundError はNDA未検出エラーを生成する。
func NewNDANotFoundError(ndaID string) *APIError {
	return &APIError{
		Code:     ErrCodeNDANotFound,
		Message:  fmt.Sprintf("NDA not found: %s", ndaID),
		Category: "nda",
		Action:   "Check that the NDA link is correct.",
	}
}

// NewNotAPartyError は契約当事者以外からのアクセスに対するエラーを生成する。
// 当事者でない閲覧者には最小限の定型文のみを返す（ハードな境界）。
func NewNotAPartyError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAParty,
		Message:  "You are not a party.",
		Category: "auth",
		Action:   "Only the parties to this NDA can access it.",
	}
}

// NewActionNotAllowedError は現在のロール・状態で許可されない操作のエラーを生成する。
func NewActionNotAllowedError(action string) *APIError {
	return &APIError{
		Code:     ErrCodeActionNotAllowed,
		Message:  fmt.Sprintf("The action %q is not allowed for this NDA.", action),
		Category: "nda",
		Action:   "Reload the NDA to see its current status.",
	}
}

// NewInvalidTransitionError は終端状態への再遷移などの不正遷移エラーを生成する。
func NewInvalidTransitionError(from, to NDAStatus) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTransition,
		Message:  fmt.Sprintf("Cannot transition NDA from %s to %s.", from, to),
		Category: "nda",
		Action:   "The NDA has already been resolved.",
	}
}

// NewInvalidRecipientError は受信者指定が不正な場合のエラーを生成する。
func NewInvalidRecipientError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRecipient,
		Message:  fmt.Sprintf("Invalid recipient: %s", reason),
		Category: "validation",
		Action:   "Provide the recipient's email address and full name.",
	}
}

// NewUnauthorizedError は未認証アクセスのエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Authentication required.",
		Category: "auth",
		Action:   "Sign in and try again.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found.",
		Category: "auth",
		Action:   "Sign in again.",
	}
}
