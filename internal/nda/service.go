package nda

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/ndaflow/internal/model"
	"github.com/hitoshi/ndaflow/internal/repository"
	"github.com/hitoshi/ndaflow/internal/security"
)

// maxAttachmentLinks はNDAあたりの添付リンク上限。
const maxAttachmentLinks = 10

// Notifier は署名依頼通知の送信インターフェース。
// メール配送は外部コラボレーターの責務であり、このコアは送信要求のみを行う。
type Notifier interface {
	// NotifySignatureRequest は受信者へ署名依頼（または再送）を通知する。
	NotifySignatureRequest(ctx context.Context, n *model.NDA) error
}

// LogNotifier は通知を構造化ログに記録するNotifier実装。
// 配送基盤が接続されるまでのデフォルト。
type LogNotifier struct{}

// NotifySignatureRequest は通知要求をログに記録する。
func (LogNotifier) NotifySignatureRequest(_ context.Context, n *model.NDA) error {
	slog.Info("signature request notification",
		slog.String("nda_id", n.ID),
		slog.String("recipient_email", n.RecipientEmail),
	)
	return nil
}

// View はロール解決後のNDA閲覧結果を表す。
// AttachmentLinksの可視性とそのロールで許可される操作が反映済み。
type View struct {
	NDA            *model.NDA
	Role           Role
	AllowedActions []Action
}

// CreateRequest はNDA作成の入力。
type CreateRequest struct {
	RecipientEmail    string
	RecipientFullName string
	DisclosingParty   string
	ReceivingParty    string
	AttachmentLinks   []string
}

// Service はNDAのライフサイクル操作を提供する。
// すべての操作はロール解決 → 操作許可判定 → 永続化の順で行い、
// 当事者でない閲覧者はネットワーク呼び出しの前に拒否する。
type Service struct {
	repo      repository.NDARepository
	sanitizer security.TextSanitizerService
	notifier  Notifier
}

// NewService はServiceを生成する。notifierがnilの場合はLogNotifierを使用する。
func NewService(repo repository.NDARepository, sanitizer security.TextSanitizerService, notifier Notifier) *Service {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		notifier:  notifier,
	}
}

// Create は新しいNDAを作成し、受信者へ署名依頼を通知する。
// 自由記述フィールドは保存前にサニタイズする。
func (s *Service) Create(ctx context.Context, ownerID string, req CreateRequest) (*model.NDA, error) {
	if req.RecipientEmail == "" {
		return nil, model.NewInvalidRecipientError("email is required")
	}
	if req.RecipientFullName == "" {
		return nil, model.NewInvalidRecipientError("full name is required")
	}
	for _, link := range req.AttachmentLinks {
		if !isValidAttachmentLink(link) {
			return nil, model.NewInvalidRecipientError(fmt.Sprintf("attachment link is not a valid URL: %s", link))
		}
	}
	if len(req.AttachmentLinks) > maxAttachmentLinks {
		return nil, model.NewInvalidRecipientError("too many attachment links")
	}

	now := time.Now()
	n := &model.NDA{
		ID:                uuid.New().String(),
		OwnerID:           ownerID,
		RecipientEmail:    req.RecipientEmail,
		RecipientFullName: s.sanitizer.Sanitize(req.RecipientFullName),
		Status:            model.StatusAwaitingSignature,
		Parameters: model.NDAParameters{
			DisclosingParty: s.sanitizer.Sanitize(req.DisclosingParty),
			ReceivingParty:  s.sanitizer.Sanitize(req.ReceivingParty),
		},
		AttachmentLinks: req.AttachmentLinks,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("NDAの保存に失敗しました: %w", err)
	}

	if err := s.notifier.NotifySignatureRequest(ctx, n); err != nil {
		// 通知失敗は作成自体を失敗させない
		slog.Warn("failed to send signature request notification",
			slog.String("nda_id", n.ID),
			slog.String("error", err.Error()),
		)
	}

	return n, nil
}

// Get はロール解決済みのNDA閲覧結果を返す。
// 認証済みの非当事者にはNotAPartyErrorを返す（ハードな境界）。
// 添付リンクはオーナーには常に、受信者・公開閲覧者には署名後のみ表示される。
func (s *Service) Get(ctx context.Context, ndaID string, viewer *model.User) (*View, error) {
	n, err := s.findNDA(ctx, ndaID)
	if err != nil {
		return nil, err
	}

	role := ResolveRole(n, viewer)
	if role == RoleNonParty {
		return nil, model.NewNotAPartyError()
	}

	return s.buildView(n, role), nil
}

// Sign は受信者による署名を実行し、NDAをsignedへ遷移させる。
// OAuthコールバックで復元されたsignインテントの再生からのみ呼ばれる。
// 署名者のRecipientIDが未確定（メールアドレス一致のみ）の場合はここで確定する。
func (s *Service) Sign(ctx context.Context, ndaID string, signer *model.User) (*model.NDA, error) {
	if signer == nil {
		return nil, model.NewUnauthorizedError()
	}

	n, err := s.findNDA(ctx, ndaID)
	if err != nil {
		return nil, err
	}

	role := ResolveRole(n, signer)
	if role == RoleNonParty {
		return nil, model.NewNotAPartyError()
	}
	if !CanPerform(role, n.Status, ActionSign) {
		if n.Status.IsTerminal() {
			return nil, model.NewInvalidTransitionError(n.Status, model.StatusSigned)
		}
		return nil, model.NewActionNotAllowedError(string(ActionSign))
	}

	now := time.Now()
	if err := s.repo.MarkSigned(ctx, n.ID, signer.ID, now); err != nil {
		return nil, fmt.Errorf("NDAの署名処理に失敗しました: %w", err)
	}

	n.Status = model.StatusSigned
	n.RecipientID = &signer.ID
	n.SignedAt = &now
	n.UpdatedAt = now

	slog.Info("nda signed",
		slog.String("nda_id", n.ID),
		slog.String("recipient_id", signer.ID),
	)

	return n, nil
}

// Decline は受信者（または公開閲覧者）による拒否を実行し、NDAをdeclinedへ遷移させる。
func (s *Service) Decline(ctx context.Context, ndaID string, viewer *model.User) (*model.NDA, error) {
	n, err := s.findNDA(ctx, ndaID)
	if err != nil {
		return nil, err
	}

	role := ResolveRole(n, viewer)
	if role == RoleNonParty {
		return nil, model.NewNotAPartyError()
	}
	if !CanPerform(role, n.Status, ActionDecline) {
		if n.Status.IsTerminal() {
			return nil, model.NewInvalidTransitionError(n.Status, model.StatusDeclined)
		}
		return nil, model.NewActionNotAllowedError(string(ActionDecline))
	}

	now := time.Now()
	if err := s.repo.MarkDeclined(ctx, n.ID, now); err != nil {
		return nil, fmt.Errorf("NDAの拒否処理に失敗しました: %w", err)
	}

	n.Status = model.StatusDeclined
	n.DeclinedAt = &now
	n.UpdatedAt = now

	slog.Info("nda declined", slog.String("nda_id", n.ID))

	return n, nil
}

// Resend はオーナーによる署名依頼の再送。状態遷移は発生しない。
func (s *Service) Resend(ctx context.Context, ndaID string, viewer *model.User) error {
	n, err := s.findNDA(ctx, ndaID)
	if err != nil {
		return err
	}

	role := ResolveRole(n, viewer)
	if role == RoleNonParty {
		return model.NewNotAPartyError()
	}
	if !CanPerform(role, n.Status, ActionResend) {
		return model.NewActionNotAllowedError(string(ActionResend))
	}

	if err := s.notifier.NotifySignatureRequest(ctx, n); err != nil {
		return fmt.Errorf("署名依頼の再送に失敗しました: %w", err)
	}

	return nil
}

// Download は署名済みNDAのダウンロード用ビューを返す。
// 署名後は受信者にも添付リンクが表示される。
func (s *Service) Download(ctx context.Context, ndaID string, viewer *model.User) (*View, error) {
	n, err := s.findNDA(ctx, ndaID)
	if err != nil {
		return nil, err
	}

	role := ResolveRole(n, viewer)
	if role == RoleNonParty {
		return nil, model.NewNotAPartyError()
	}
	if !CanPerform(role, n.Status, ActionDownload) {
		return nil, model.NewActionNotAllowedError(string(ActionDownload))
	}

	return s.buildView(n, role), nil
}

// ListIncoming はユーザーが受信者であるNDAの一覧を返す（新しい順）。
// RecipientID一致に加え、未認証時に送られたNDAをメールアドレス一致で拾う。
func (s *Service) ListIncoming(ctx context.Context, viewer *model.User) ([]*model.NDA, error) {
	if viewer == nil {
		return nil, model.NewUnauthorizedError()
	}
	list, err := s.repo.ListByRecipient(ctx, viewer.ID, viewer.Email)
	if err != nil {
		return nil, fmt.Errorf("受信NDA一覧の取得に失敗しました: %w", err)
	}
	for _, n := range list {
		s.applyAttachmentVisibility(n, ResolveRole(n, viewer))
	}
	return list, nil
}

// ListOutgoing はユーザーがオーナーであるNDAの一覧を返す（新しい順）。
func (s *Service) ListOutgoing(ctx context.Context, viewer *model.User) ([]*model.NDA, error) {
	if viewer == nil {
		return nil, model.NewUnauthorizedError()
	}
	list, err := s.repo.ListByOwnerID(ctx, viewer.ID)
	if err != nil {
		return nil, fmt.Errorf("送信NDA一覧の取得に失敗しました: %w", err)
	}
	return list, nil
}

// Statistics は全体の集計値を返す。キャッシュ層（internal/stats）から呼ばれる。
func (s *Service) Statistics(ctx context.Context) (*model.NDAStatistics, error) {
	stats, err := s.repo.Statistics(ctx)
	if err != nil {
		return nil, fmt.Errorf("NDA統計の取得に失敗しました: %w", err)
	}
	return stats, nil
}

// findNDA はNDAを取得する。見つからない場合はNDANotFoundErrorを返す。
func (s *Service) findNDA(ctx context.Context, ndaID string) (*model.NDA, error) {
	n, err := s.repo.FindByID(ctx, ndaID)
	if err != nil {
		return nil, fmt.Errorf("NDAの取得に失敗しました: %w", err)
	}
	if n == nil {
		return nil, model.NewNDANotFoundError(ndaID)
	}
	return n, nil
}

// buildView はロールに応じた可視性と許可操作を反映したViewを構築する。
func (s *Service) buildView(n *model.NDA, role Role) *View {
	s.applyAttachmentVisibility(n, role)
	return &View{
		NDA:            n,
		Role:           role,
		AllowedActions: AllowedActions(role, n.Status),
	}
}

// applyAttachmentVisibility は添付リンクの可視性規則を適用する。
// オーナーには常に表示、受信者・公開閲覧者には署名後のみ表示。
func (s *Service) applyAttachmentVisibility(n *model.NDA, role Role) {
	if role == RoleOwner {
		return
	}
	if n.Status != model.StatusSigned {
		n.AttachmentLinks = nil
	}
}

// isValidAttachmentLink は添付リンクがhttp/httpsの絶対URLであることを検証する。
func isValidAttachmentLink(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
