package repo

import (
	"context"
	"database/sql"

	"caseline/internal/domain"
)

// ListTimeline returns a case's timeline entries in append order.
func (r Repo) ListTimeline(ctx context.Context, tenantID, caseID string, limit int) ([]domain.TimelineEntry, error) {
	query := `SELECT id,tenant_id,case_id,type,title,description,actor_id,ts,metadata_json FROM timeline WHERE tenant_id=? AND case_id=? ORDER BY id ASC`
	args := []any{tenantID, caseID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TimelineEntry
	for rows.Next() {
		var e domain.TimelineEntry
		var description, metadata sql.NullString
		if err := rows.Scan(&e.ID, &e.TenantID, &e.CaseID, &e.Type, &e.Title, &description, &e.ActorID, &e.TS, &metadata); err != nil {
			return nil, err
		}
		if description.Valid {
			e.Description = description.String
		}
		if metadata.Valid {
			e.Metadata = metadata.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// CountTimelineByType is used by tests and diagnostics.
func (r Repo) CountTimelineByType(ctx context.Context, tenantID, caseID, entryType string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM timeline WHERE tenant_id=? AND case_id=? AND type=?`,
		tenantID, caseID, entryType).Scan(&n)
	return n, err
}
