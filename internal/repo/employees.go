package repo

import (
	"context"
	"database/sql"

	"caseline/internal/domain"
)

const employeeColumns = `id,tenant_id,name,role,manager_id,active,created_at`

func (r Repo) InsertEmployee(ctx context.Context, e domain.Employee) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO employees(`+employeeColumns+`) VALUES (?,?,?,?,?,?,?)`,
		e.ID, e.TenantID, e.Name, e.Role, nullableStringPtr(e.ManagerID), boolToInt(e.Active), e.CreatedAt)
	return err
}

func scanEmployee(scan func(dest ...any) error) (domain.Employee, error) {
	var e domain.Employee
	var managerID sql.NullString
	var active int
	err := scan(&e.ID, &e.TenantID, &e.Name, &e.Role, &managerID, &active, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if managerID.Valid {
		e.ManagerID = &managerID.String
	}
	e.Active = active != 0
	return e, nil
}

func (r Repo) GetEmployee(ctx context.Context, tenantID, id string) (domain.Employee, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE tenant_id=? AND id=?`, tenantID, id)
	return scanEmployee(row.Scan)
}

func (r Repo) ListEmployees(ctx context.Context, tenantID string) ([]domain.Employee, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE tenant_id=? ORDER BY created_at ASC, id ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Employee
	for rows.Next() {
		e, err := scanEmployee(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// FirstActiveByRole returns any active employee holding a role in the tenant.
func (r Repo) FirstActiveByRole(ctx context.Context, tenantID, role string) (domain.Employee, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE tenant_id=? AND role=? AND active=1 ORDER BY created_at ASC, id ASC LIMIT 1`,
		tenantID, role)
	return scanEmployee(row.Scan)
}
