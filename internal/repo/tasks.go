package repo

import (
	"context"
	"database/sql"
	"strings"

	"caseline/internal/domain"
)

const taskColumns = `id,tenant_id,case_id,title,description,priority,due_date,assignee_id,status,origin,template_key,created_at,updated_at,completed_at`

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.TenantID, t.CaseID, t.Title, nullable(t.Description), t.Priority, nullableStringPtr(t.DueDate),
		nullableStringPtr(t.AssigneeID), t.Status, t.Origin, nullableStringPtr(t.TemplateKey),
		t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	return err
}

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var description, dueDate, assigneeID, templateKey, completedAt sql.NullString
	err := scan(&t.ID, &t.TenantID, &t.CaseID, &t.Title, &description, &t.Priority, &dueDate, &assigneeID,
		&t.Status, &t.Origin, &templateKey, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if description.Valid {
		t.Description = description.String
	}
	if dueDate.Valid {
		t.DueDate = &dueDate.String
	}
	if assigneeID.Valid {
		t.AssigneeID = &assigneeID.String
	}
	if templateKey.Valid {
		t.TemplateKey = &templateKey.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

func (r Repo) GetTask(ctx context.Context, tenantID, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE tenant_id=? AND id=?`, tenantID, id)
	return scanTask(row.Scan)
}

type TaskFilters struct {
	CaseID   string
	Status   string
	Assignee string
	Origin   string
	Limit    int
}

func (r Repo) ListTasks(ctx context.Context, tenantID string, f TaskFilters) ([]domain.Task, error) {
	clauses := []string{"tenant_id=?"}
	args := []any{tenantID}
	if f.CaseID != "" {
		clauses = append(clauses, "case_id=?")
		args = append(args, f.CaseID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Assignee != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.Assignee)
	}
	if f.Origin != "" {
		clauses = append(clauses, "origin=?")
		args = append(args, f.Origin)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListOverdueTasks returns non-terminal tasks whose due date has passed.
func (r Repo) ListOverdueTasks(ctx context.Context, tenantID, now string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE tenant_id=? AND status IN ('open','in_progress') AND due_date IS NOT NULL AND due_date < ? ORDER BY due_date ASC, id ASC`,
		tenantID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows *sql.Rows) ([]domain.Task, error) {
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, priority=?, due_date=?, assignee_id=?, status=?, updated_at=?, completed_at=? WHERE tenant_id=? AND id=?`,
		t.Title, nullable(t.Description), t.Priority, nullableStringPtr(t.DueDate), nullableStringPtr(t.AssigneeID),
		t.Status, t.UpdatedAt, nullableStringPtr(t.CompletedAt), t.TenantID, t.ID)
	return err
}

func (r Repo) CountTasksByStatus(ctx context.Context, tenantID, caseID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks WHERE tenant_id=? AND case_id=? GROUP BY status`, tenantID, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}
