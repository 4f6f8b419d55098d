// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/ndaflow/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、sessionsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// NDARepository はNDAデータの永続化インターフェース。
type NDARepository interface {
	// Create はNDAを作成する。
	Create(ctx context.Context, n *model.NDA) error

	// FindByID は指定IDのNDAを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.NDA, error)

	// MarkSigned はawaiting_signatureのNDAをsignedへ遷移させ、
	// 署名者をrecipient_idとして確定する。
	// 既に終端状態の場合は遷移を拒否しInvalidTransitionErrorを返す。
	MarkSigned(ctx context.Context, id, recipientID string, at time.Time) error

	// MarkDeclined はawaiting_signatureのNDAをdeclinedへ遷移させる。
	// 既に終端状態の場合は遷移を拒否しInvalidTransitionErrorを返す。
	MarkDeclined(ctx context.Context, id string, at time.Time) error

	// ListByOwnerID は指定ユーザーがオーナーのNDA一覧を作成日時の降順で返す。
	ListByOwnerID(ctx context.Context, ownerID string) ([]*model.NDA, error)

	// ListByRecipient はrecipient_id一致またはrecipient_emailの
	// 大文字小文字を無視した一致で受信NDA一覧を作成日時の降順で返す。
	ListByRecipient(ctx context.Context, userID, email string) ([]*model.NDA, error)

	// Statistics は全NDAの集計値を返す。
	Statistics(ctx context.Context) (*model.NDAStatistics, error)
}
