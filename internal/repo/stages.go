package repo

import (
	"context"
	"database/sql"

	"caseline/internal/domain"
)

const stageInstanceColumns = `id,tenant_id,case_id,stage_key,cycle_no,status,started_at,closed_at,created_by`

func (r Repo) InsertStageInstance(ctx context.Context, tx *sql.Tx, si domain.StageInstance) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO stage_instances(`+stageInstanceColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		si.ID, si.TenantID, si.CaseID, si.StageKey, si.CycleNo, si.Status, si.StartedAt, nullableStringPtr(si.ClosedAt), si.CreatedBy)
	return err
}

func scanStageInstance(scan func(dest ...any) error) (domain.StageInstance, error) {
	var si domain.StageInstance
	var closedAt sql.NullString
	err := scan(&si.ID, &si.TenantID, &si.CaseID, &si.StageKey, &si.CycleNo, &si.Status, &si.StartedAt, &closedAt, &si.CreatedBy)
	if err == sql.ErrNoRows {
		return si, ErrNotFound
	}
	if err != nil {
		return si, err
	}
	if closedAt.Valid {
		si.ClosedAt = &closedAt.String
	}
	return si, nil
}

func (r Repo) GetStageInstance(ctx context.Context, tenantID, id string) (domain.StageInstance, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+stageInstanceColumns+` FROM stage_instances WHERE tenant_id=? AND id=?`, tenantID, id)
	return scanStageInstance(row.Scan)
}

// ActiveStageInstance returns the single active instance for a case.
func (r Repo) ActiveStageInstance(ctx context.Context, tenantID, caseID string) (domain.StageInstance, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+stageInstanceColumns+` FROM stage_instances WHERE tenant_id=? AND case_id=? AND status='active' ORDER BY started_at DESC LIMIT 1`,
		tenantID, caseID)
	return scanStageInstance(row.Scan)
}

func (r Repo) ActiveStageInstanceTx(ctx context.Context, tx *sql.Tx, tenantID, caseID string) (domain.StageInstance, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+stageInstanceColumns+` FROM stage_instances WHERE tenant_id=? AND case_id=? AND status='active' ORDER BY started_at DESC LIMIT 1`,
		tenantID, caseID)
	return scanStageInstance(row.Scan)
}

func (r Repo) ListStageInstances(ctx context.Context, tenantID, caseID string) ([]domain.StageInstance, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+stageInstanceColumns+` FROM stage_instances WHERE tenant_id=? AND case_id=? ORDER BY started_at ASC, id ASC`,
		tenantID, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StageInstance
	for rows.Next() {
		si, err := scanStageInstance(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, si)
	}
	return res, rows.Err()
}

// MaxCycleNo returns the highest cycle number already used for a stage key on
// a case, 0 when the stage was never visited.
func (r Repo) MaxCycleNo(ctx context.Context, tx *sql.Tx, tenantID, caseID, stageKey string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(cycle_no),0) FROM stage_instances WHERE tenant_id=? AND case_id=? AND stage_key=?`,
		tenantID, caseID, stageKey).Scan(&n)
	return n, err
}

// CloseStageInstance archives an instance without touching its tasks.
func (r Repo) CloseStageInstance(ctx context.Context, tx *sql.Tx, tenantID, id, closedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE stage_instances SET status='closed', closed_at=? WHERE tenant_id=? AND id=? AND status='active'`,
		closedAt, tenantID, id)
	return err
}

// --- workflow steps ---

const stepColumns = `stage_instance_id,step_key,position,status,completed_at,completed_by,skip_reason,notes`

func (r Repo) InsertWorkflowStep(ctx context.Context, tx *sql.Tx, s domain.WorkflowStep) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO workflow_steps(`+stepColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		s.StageInstanceID, s.StepKey, s.Position, s.Status, nullableStringPtr(s.CompletedAt), nullableStringPtr(s.CompletedBy),
		nullableStringPtr(s.SkipReason), nullable(s.Notes))
	return err
}

func scanStep(scan func(dest ...any) error) (domain.WorkflowStep, error) {
	var s domain.WorkflowStep
	var completedAt, completedBy, skipReason, notes sql.NullString
	err := scan(&s.StageInstanceID, &s.StepKey, &s.Position, &s.Status, &completedAt, &completedBy, &skipReason, &notes)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if completedAt.Valid {
		s.CompletedAt = &completedAt.String
	}
	if completedBy.Valid {
		s.CompletedBy = &completedBy.String
	}
	if skipReason.Valid {
		s.SkipReason = &skipReason.String
	}
	if notes.Valid {
		s.Notes = notes.String
	}
	return s, nil
}

func (r Repo) GetWorkflowStep(ctx context.Context, tx *sql.Tx, stageInstanceID, stepKey string) (domain.WorkflowStep, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+stepColumns+` FROM workflow_steps WHERE stage_instance_id=? AND step_key=?`, stageInstanceID, stepKey)
	return scanStep(row.Scan)
}

func (r Repo) ListWorkflowSteps(ctx context.Context, stageInstanceID string) ([]domain.WorkflowStep, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+stepColumns+` FROM workflow_steps WHERE stage_instance_id=? ORDER BY position ASC`, stageInstanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSteps(rows)
}

func (r Repo) ListWorkflowStepsTx(ctx context.Context, tx *sql.Tx, stageInstanceID string) ([]domain.WorkflowStep, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+stepColumns+` FROM workflow_steps WHERE stage_instance_id=? ORDER BY position ASC`, stageInstanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSteps(rows)
}

func collectSteps(rows *sql.Rows) ([]domain.WorkflowStep, error) {
	var res []domain.WorkflowStep
	for rows.Next() {
		s, err := scanStep(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) UpdateWorkflowStep(ctx context.Context, tx *sql.Tx, s domain.WorkflowStep) error {
	_, err := tx.ExecContext(ctx, `UPDATE workflow_steps SET status=?, completed_at=?, completed_by=?, skip_reason=?, notes=? WHERE stage_instance_id=? AND step_key=?`,
		s.Status, nullableStringPtr(s.CompletedAt), nullableStringPtr(s.CompletedBy), nullableStringPtr(s.SkipReason), nullable(s.Notes),
		s.StageInstanceID, s.StepKey)
	return err
}
