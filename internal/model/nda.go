// Package model はドメインモデルを定義する。
package model

import "time"

// NDAStatus はNDAのライフサイクル状態を表す。
// awaiting_signatureを離れた後は単調（awaiting_signatureへは戻らない）。
type NDAStatus string

const (
	// StatusAwaitingSignature は受信者の署名待ち状態（初期状態）。
	StatusAwaitingSignature NDAStatus = "awaiting_signature"
	// StatusSigned は受信者が署名した終端状態。
	StatusSigned NDAStatus = "signed"
	// StatusDeclined は受信者が拒否した終端状態。
	StatusDeclined NDAStatus = "declined"
)

// IsTerminal は遷移が定義されていない終端状態かどうかを返す。
func (s NDAStatus) IsTerminal() bool {
	return s == StatusSigned || s == StatusDeclined
}

// IsValid は既知のステータス値かどうかを返す。
func (s NDAStatus) IsValid() bool {
	switch s {
	case StatusAwaitingSignature, StatusSigned, StatusDeclined:
		return true
	default:
		return false
	}
}

// NDAParameters は開示当事者・受領当事者の自由記述テキストを保持する。
type NDAParameters struct {
	DisclosingParty string
	ReceivingParty  string
}

// NDA は2当事者間で取り交わされる秘密保持契約を表す。
// RecipientIDは受信者が認証されるまでnil。
// AttachmentLinksはオーナーのみに表示される不透明なURLの列。
type NDA struct {
	ID                string
	OwnerID           string
	RecipientID       *string
	RecipientEmail    string
	RecipientFullName string
	Status            NDAStatus
	Parameters        NDAParameters
	AttachmentLinks   []string
	SignedAt          *time.Time
	DeclinedAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NDAStatistics はトップページ向けの集計値を表す。
// 特定ユーザーに紐付く値を含めてはならない（全ユーザー共有キャッシュに載るため）。
type NDAStatistics struct {
	Total       int
	Signed      int
	Declined    int
	SignedToday int
}
