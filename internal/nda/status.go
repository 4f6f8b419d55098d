package nda

import "github.com/hitoshi/ndaflow/internal/model"

// Action はNDAに対して実行し得る操作を表す。
type Action string

const (
	// ActionSign は受信者による署名。
	ActionSign Action = "sign"
	// ActionDecline は受信者による拒否。
	ActionDecline Action = "decline"
	// ActionDownload は署名済みNDAのダウンロード。
	ActionDownload Action = "download"
	// ActionResend はオーナーによる署名依頼の再送。
	ActionResend Action = "resend"
	// ActionRevoke はオーナー向けに表示される取り消し操作。
	// UI境界での表示のみで、このコアは結果の遷移を定義しない
	// （ステータス値としてのrevokedは存在しない）。
	ActionRevoke Action = "revoke"
)

// actionMatrix はロール×ステータスごとの許可操作の表。
// non_partyはこの表を参照する前に拒否されるため、表には現れない。
// declinedでは全ロールとも操作なし（拒否済みの通知表示のみ）。
var actionMatrix = map[model.NDAStatus]map[Role][]Action{
	model.StatusAwaitingSignature: {
		RolePublicViewer: {ActionSign, ActionDecline},
		RoleRecipient:    {ActionSign, ActionDecline},
		RoleOwner:        {ActionResend, ActionRevoke},
	},
	model.StatusSigned: {
		RolePublicViewer: {ActionDownload},
		RoleRecipient:    {ActionDownload},
		RoleOwner:        {ActionDownload, ActionResend, ActionRevoke},
	},
	model.StatusDeclined: {},
}

// AllowedActions は指定ロール・ステータスで許可される操作の一覧を返す。
// non_partyにはステータスに関わらず常に空を返す。
func AllowedActions(role Role, status model.NDAStatus) []Action {
	if role == RoleNonParty {
		return nil
	}
	byRole, ok := actionMatrix[status]
	if !ok {
		return nil
	}
	actions := byRole[role]
	out := make([]Action, len(actions))
	copy(out, actions)
	return out
}

// CanPerform は指定ロールが現在のステータスで操作を実行できるかどうかを返す。
func CanPerform(role Role, status model.NDAStatus, action Action) bool {
	for _, a := range AllowedActions(role, status) {
		if a == action {
			return true
		}
	}
	return false
}

// ValidateTransition はステータス遷移が定義されているかどうかを返す。
// 定義済みの遷移は awaiting_signature→signed と awaiting_signature→declined のみで、
// どちらも一方向。終端状態からの遷移は存在しない。
func ValidateTransition(from, to model.NDAStatus) bool {
	if from != model.StatusAwaitingSignature {
		return false
	}
	return to == model.StatusSigned || to == model.StatusDeclined
}
