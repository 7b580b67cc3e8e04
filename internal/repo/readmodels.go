package repo

// Notices, replies and hearings are read models for the workflow tracker:
// the engine only needs their counts and statuses to gate stage closure.

import (
	"context"
	"database/sql"

	"caseline/internal/domain"
)

func (r Repo) InsertNotice(ctx context.Context, tx *sql.Tx, n domain.Notice) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO notices(id,tenant_id,stage_instance_id,notice_no,status,issued_at,reply_due_date) VALUES (?,?,?,?,?,?,?)`,
		n.ID, n.TenantID, n.StageInstanceID, n.NoticeNo, n.Status, n.IssuedAt, nullableStringPtr(n.ReplyDueDate))
	return err
}

func (r Repo) GetNotice(ctx context.Context, tenantID, id string) (domain.Notice, error) {
	var n domain.Notice
	var replyDue sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,tenant_id,stage_instance_id,notice_no,status,issued_at,reply_due_date FROM notices WHERE tenant_id=? AND id=?`, tenantID, id).
		Scan(&n.ID, &n.TenantID, &n.StageInstanceID, &n.NoticeNo, &n.Status, &n.IssuedAt, &replyDue)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	if err != nil {
		return n, err
	}
	if replyDue.Valid {
		n.ReplyDueDate = &replyDue.String
	}
	return n, nil
}

func (r Repo) ListNotices(ctx context.Context, tenantID, stageInstanceID string) ([]domain.Notice, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,tenant_id,stage_instance_id,notice_no,status,issued_at,reply_due_date FROM notices WHERE tenant_id=? AND stage_instance_id=? ORDER BY issued_at ASC, id ASC`,
		tenantID, stageInstanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notice
	for rows.Next() {
		var n domain.Notice
		var replyDue sql.NullString
		if err := rows.Scan(&n.ID, &n.TenantID, &n.StageInstanceID, &n.NoticeNo, &n.Status, &n.IssuedAt, &replyDue); err != nil {
			return nil, err
		}
		if replyDue.Valid {
			n.ReplyDueDate = &replyDue.String
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) SetNoticeStatus(ctx context.Context, tx *sql.Tx, tenantID, id, status string) error {
	res, err := tx.ExecContext(ctx, `UPDATE notices SET status=? WHERE tenant_id=? AND id=?`, status, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// NoticeCounts summarizes a stage instance's notice read model.
type NoticeCounts struct {
	Total         int `json:"total"`
	AwaitingReply int `json:"awaiting_reply"`
	Replied       int `json:"replied"`
}

func (r Repo) CountNotices(ctx context.Context, tenantID, stageInstanceID string) (NoticeCounts, error) {
	var c NoticeCounts
	err := r.DB.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN status='awaiting_reply' THEN 1 ELSE 0 END),0),
		COALESCE(SUM(CASE WHEN status='replied' THEN 1 ELSE 0 END),0)
		FROM notices WHERE tenant_id=? AND stage_instance_id=?`, tenantID, stageInstanceID).
		Scan(&c.Total, &c.AwaitingReply, &c.Replied)
	return c, err
}

func (r Repo) InsertReply(ctx context.Context, tx *sql.Tx, rep domain.Reply) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO replies(id,tenant_id,notice_id,filed_by,filed_at,summary) VALUES (?,?,?,?,?,?)`,
		rep.ID, rep.TenantID, rep.NoticeID, rep.FiledBy, rep.FiledAt, nullable(rep.Summary))
	return err
}

func (r Repo) InsertHearing(ctx context.Context, tx *sql.Tx, h domain.Hearing) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO hearings(id,tenant_id,stage_instance_id,scheduled_for,status,notes) VALUES (?,?,?,?,?,?)`,
		h.ID, h.TenantID, h.StageInstanceID, h.ScheduledFor, h.Status, nullable(h.Notes))
	return err
}

func (r Repo) SetHearingStatus(ctx context.Context, tx *sql.Tx, tenantID, id, status, notes string) error {
	res, err := tx.ExecContext(ctx, `UPDATE hearings SET status=?, notes=COALESCE(?,notes) WHERE tenant_id=? AND id=?`,
		status, nullable(notes), tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListHearings(ctx context.Context, tenantID, stageInstanceID string) ([]domain.Hearing, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,tenant_id,stage_instance_id,scheduled_for,status,notes FROM hearings WHERE tenant_id=? AND stage_instance_id=? ORDER BY scheduled_for ASC, id ASC`,
		tenantID, stageInstanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Hearing
	for rows.Next() {
		var h domain.Hearing
		var notes sql.NullString
		if err := rows.Scan(&h.ID, &h.TenantID, &h.StageInstanceID, &h.ScheduledFor, &h.Status, &notes); err != nil {
			return nil, err
		}
		if notes.Valid {
			h.Notes = notes.String
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

func (r Repo) CountHearings(ctx context.Context, tenantID, stageInstanceID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM hearings WHERE tenant_id=? AND stage_instance_id=?`,
		tenantID, stageInstanceID).Scan(&n)
	return n, err
}
