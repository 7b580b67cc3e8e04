package repo

import (
	"context"
	"database/sql"
	"strings"

	"caseline/internal/domain"
)

const escalationColumns = `id,tenant_id,task_id,rule_key,status,target_id,target_role,note,created_at,updated_at,resolved_at`

func (r Repo) InsertEscalationEvent(ctx context.Context, tx *sql.Tx, e domain.EscalationEvent) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO escalation_events(`+escalationColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.TenantID, e.TaskID, e.RuleKey, e.Status, nullableStringPtr(e.TargetID), nullable(e.TargetRole),
		nullable(e.Note), e.CreatedAt, e.UpdatedAt, nullableStringPtr(e.ResolvedAt))
	return err
}

func scanEscalation(scan func(dest ...any) error) (domain.EscalationEvent, error) {
	var e domain.EscalationEvent
	var targetID, targetRole, note, resolvedAt sql.NullString
	err := scan(&e.ID, &e.TenantID, &e.TaskID, &e.RuleKey, &e.Status, &targetID, &targetRole, &note, &e.CreatedAt, &e.UpdatedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if targetID.Valid {
		e.TargetID = &targetID.String
	}
	if targetRole.Valid {
		e.TargetRole = targetRole.String
	}
	if note.Valid {
		e.Note = note.String
	}
	if resolvedAt.Valid {
		e.ResolvedAt = &resolvedAt.String
	}
	return e, nil
}

func (r Repo) GetEscalationEvent(ctx context.Context, tenantID, id string) (domain.EscalationEvent, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+escalationColumns+` FROM escalation_events WHERE tenant_id=? AND id=?`, tenantID, id)
	return scanEscalation(row.Scan)
}

// HasPendingEscalation reports whether the task already carries a pending
// event; checked before creating a new one.
func (r Repo) HasPendingEscalation(ctx context.Context, tx *sql.Tx, tenantID, taskID string) (bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT 1 FROM escalation_events WHERE tenant_id=? AND task_id=? AND status='pending' LIMIT 1`,
		tenantID, taskID)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

type EscalationFilters struct {
	TaskID string
	Status string
	Limit  int
}

func (r Repo) ListEscalationEvents(ctx context.Context, tenantID string, f EscalationFilters) ([]domain.EscalationEvent, error) {
	clauses := []string{"tenant_id=?"}
	args := []any{tenantID}
	if f.TaskID != "" {
		clauses = append(clauses, "task_id=?")
		args = append(args, f.TaskID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + escalationColumns + ` FROM escalation_events WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.EscalationEvent
	for rows.Next() {
		e, err := scanEscalation(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) UpdateEscalationStatus(ctx context.Context, tx *sql.Tx, tenantID, id, status, updatedAt string, resolvedAt *string) error {
	res, err := tx.ExecContext(ctx, `UPDATE escalation_events SET status=?, updated_at=?, resolved_at=? WHERE tenant_id=? AND id=?`,
		status, updatedAt, nullableStringPtr(resolvedAt), tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
