// Package nda はNDAの当事者判定とライフサイクルに関するビジネスロジックを提供する。
package nda

import (
	"strings"

	"github.com/hitoshi/ndaflow/internal/model"
)

// Role は閲覧者とNDAの関係を表す。保存されず、リクエストごとに導出される。
type Role string

const (
	// RolePublicViewer は未認証の閲覧者。署名前のNDAは公開リンクで閲覧できるため、
	// 未認証の閲覧者は受信者であると推定して扱う。
	RolePublicViewer Role = "public_viewer"
	// RoleOwner はNDAを作成し署名を要求している当事者。
	RoleOwner Role = "owner"
	// RoleRecipient は署名を求められている当事者。
	RoleRecipient Role = "recipient"
	// RoleNonParty は認証済みだがこのNDAの当事者ではない閲覧者。
	// すべての操作を拒否し、最小限の定型応答のみを返す。
	RoleNonParty Role = "non_party"
)

// ResolveRole は閲覧者のロールを導出する。必ず4種のうち1つを返す。
//
// オーナー判定を先に評価して短絡するため、データ破損によりオーナーと
// 受信者の両方の条件に合致するidentityはオーナーとして解決される。
// 受信者判定は、認証時に確定するRecipientIDの一致、または
// 受信者メールアドレスの大文字小文字を無視した一致で行う。
func ResolveRole(n *model.NDA, viewer *model.User) Role {
	if viewer == nil {
		return RolePublicViewer
	}
	if viewer.ID == n.OwnerID {
		return RoleOwner
	}
	if n.RecipientID != nil && viewer.ID == *n.RecipientID {
		return RoleRecipient
	}
	if n.RecipientEmail != "" && strings.EqualFold(viewer.Email, n.RecipientEmail) {
		return RoleRecipient
	}
	return RoleNonParty
}

// IsParty はロールがNDAの当事者（オーナーまたは受信者）かどうかを返す。
// public_viewerは署名前のNDAでは受信者として推定されるため当事者に含める。
func IsParty(role Role) bool {
	switch role {
	case RoleOwner, RoleRecipient, RolePublicViewer:
		return true
	default:
		return false
	}
}
