package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/ndaflow/internal/model"
)

// PostgresNDARepo はPostgreSQLを使用したNDAリポジトリ。
type PostgresNDARepo struct {
	db *sql.DB
}

// NewPostgresNDARepo はPostgresNDARepoを生成する。
func NewPostgresNDARepo(db *sql.DB) *PostgresNDARepo {
	return &PostgresNDARepo{db: db}
}

// ndaColumns はSELECT句で使用するカラムの並び。scanNDAと対応を保つこと。
const ndaColumns = `id, owner_id, recipient_id, recipient_email, recipient_full_name,
	status, disclosing_party, receiving_party, attachment_links,
	signed_at, declined_at, created_at, updated_at`

// Create はNDAを作成する。
func (r *PostgresNDARepo) Create(ctx context.Context, n *model.NDA) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO ndas (id, owner_id, recipient_id, recipient_email, recipient_full_name,
		                   status, disclosing_party, receiving_party, attachment_links,
		                   created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		n.ID, n.OwnerID, n.RecipientID, n.RecipientEmail, n.RecipientFullName,
		string(n.Status), n.Parameters.DisclosingParty, n.Parameters.ReceivingParty,
		pq.Array(n.AttachmentLinks), n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert nda: %w", err)
	}
	return nil
}

// FindByID は指定IDのNDAを取得する。見つからない場合はnilを返す。
func (r *PostgresNDARepo) FindByID(ctx context.Context, id string) (*model.NDA, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ndaColumns+` FROM ndas WHERE id = $1`,
		id,
	)

	n, err := scanNDA(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find nda by ID: %w", err)
	}

	return n, nil
}

// MarkSigned はawaiting_signatureのNDAをsignedへ遷移させる。
// WHERE句でステータスを固定することで、終端状態からの再遷移を
// データベースレベルで拒否する（一方向・単調の保証）。
func (r *PostgresNDARepo) MarkSigned(ctx context.Context, id, recipientID string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE ndas
		 SET status = 'signed', recipient_id = $1, signed_at = $2, updated_at = $2
		 WHERE id = $3 AND status = 'awaiting_signature'`,
		recipientID, at, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark nda signed: %w", err)
	}
	return r.requireTransition(ctx, result, id, model.StatusSigned)
}

// MarkDeclined はawaiting_signatureのNDAをdeclinedへ遷移させる。
func (r *PostgresNDARepo) MarkDeclined(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE ndas
		 SET status = 'declined', declined_at = $1, updated_at = $1
		 WHERE id = $2 AND status = 'awaiting_signature'`,
		at, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark nda declined: %w", err)
	}
	return r.requireTransition(ctx, result, id, model.StatusDeclined)
}

// ListByOwnerID は指定ユーザーがオーナーのNDA一覧を作成日時の降順で返す。
func (r *PostgresNDARepo) ListByOwnerID(ctx context.Context, ownerID string) ([]*model.NDA, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ndaColumns+` FROM ndas WHERE owner_id = $1 ORDER BY created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list ndas by owner: %w", err)
	}
	defer rows.Close()

	return collectNDAs(rows)
}

// ListByRecipient はrecipient_id一致またはrecipient_emailの
// 大文字小文字を無視した一致で受信NDA一覧を作成日時の降順で返す。
func (r *PostgresNDARepo) ListByRecipient(ctx context.Context, userID, email string) ([]*model.NDA, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ndaColumns+` FROM ndas
		 WHERE recipient_id = $1 OR lower(recipient_email) = lower($2)
		 ORDER BY created_at DESC`,
		userID, email,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list ndas by recipient: %w", err)
	}
	defer rows.Close()

	return collectNDAs(rows)
}

// Statistics は全NDAの集計値を返す。
// signed_todayはUTC日付で当日に署名された件数。
func (r *PostgresNDARepo) Statistics(ctx context.Context) (*model.NDAStatistics, error) {
	stats := &model.NDAStatistics{}
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*),
		        count(*) FILTER (WHERE status = 'signed'),
		        count(*) FILTER (WHERE status = 'declined'),
		        count(*) FILTER (WHERE status = 'signed'
		                         AND (signed_at AT TIME ZONE 'UTC')::date = (now() AT TIME ZONE 'UTC')::date)
		 FROM ndas`,
	).Scan(&stats.Total, &stats.Signed, &stats.Declined, &stats.SignedToday)
	if err != nil {
		return nil, fmt.Errorf("failed to compute nda statistics: %w", err)
	}
	return stats, nil
}

// requireTransition は遷移UPDATEの影響行数を検証する。
// 0行の場合、NDAが存在しないか既に終端状態に達している。
func (r *PostgresNDARepo) requireTransition(ctx context.Context, result sql.Result, id string, to model.NDAStatus) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		var current string
		err := r.db.QueryRowContext(ctx, `SELECT status FROM ndas WHERE id = $1`, id).Scan(&current)
		if err == sql.ErrNoRows {
			return model.NewNDANotFoundError(id)
		}
		if err != nil {
			return fmt.Errorf("failed to read nda status: %w", err)
		}
		return model.NewInvalidTransitionError(model.NDAStatus(current), to)
	}
	return nil
}

// rowScanner は*sql.Rowと*sql.Rowsを同じscan関数で扱うための抽象。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanNDA はndaColumnsの並びで1行をmodel.NDAへスキャンする。
func scanNDA(row rowScanner) (*model.NDA, error) {
	n := &model.NDA{}
	var status string
	var links pq.StringArray
	err := row.Scan(
		&n.ID, &n.OwnerID, &n.RecipientID, &n.RecipientEmail, &n.RecipientFullName,
		&status, &n.Parameters.DisclosingParty, &n.Parameters.ReceivingParty, &links,
		&n.SignedAt, &n.DeclinedAt, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	n.Status = model.NDAStatus(status)
	n.AttachmentLinks = []string(links)
	return n, nil
}

// collectNDAs は結果セット全体をスキャンする。
func collectNDAs(rows *sql.Rows) ([]*model.NDA, error) {
	var list []*model.NDA
	for rows.Next() {
		n, err := scanNDA(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan nda row: %w", err)
		}
		list = append(list, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate nda rows: %w", err)
	}
	return list, nil
}

// compile-time interface check
var _ NDARepository = (*PostgresNDARepo)(nil)
