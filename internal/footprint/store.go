// Package footprint is the durable idempotency guard for stage transitions.
// A footprint row is keyed by the transition signature; TryAcquire is the
// engine's only synchronization point. A reservation that never commits
// expires after a bounded TTL so a crashed attempt cannot block retries.
package footprint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"caseline/internal/domain"
)

const (
	StateReserved  = "reserved"
	StateCommitted = "committed"
)

// Signature derives the deterministic transition signature. The cycle number
// acts as the caller-supplied attempt epoch: a remand back into a stage
// yields a fresh signature while retries of the same attempt collide.
func Signature(tenantID, caseID, fromStage, toStage, transitionType string, cycleNo int) string {
	material := fmt.Sprintf("%s|%s|%s|%s|%s|%d", tenantID, caseID, fromStage, toStage, transitionType, cycleNo)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(material)).String()
}

type Store struct {
	DB  *sql.DB
	TTL time.Duration
	Now func() time.Time
}

func (s Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Store) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return 15 * time.Minute
}

// AcquireResult is the typed outcome of TryAcquire: the duplicate path is a
// value, not an error, because a replayed transition is a successful no-op.
type AcquireResult struct {
	Acquired bool
	Existing domain.Footprint
}

// TryAcquire atomically reserves a signature. Exactly one of two concurrent
// callers with the same signature gets Acquired=true; the other sees the
// existing row. An abandoned reservation (reserved, past expiry) may be taken
// over by a later attempt.
func (s Store) TryAcquire(ctx context.Context, tenantID, caseID, signature string) (AcquireResult, error) {
	now := s.now().UTC()
	reservedAt := now.Format(time.RFC3339)
	expiresAt := now.Add(s.ttl()).Format(time.RFC3339)

	res, err := s.DB.ExecContext(ctx, `INSERT INTO footprints(signature,tenant_id,case_id,state,reserved_at,expires_at)
VALUES (?,?,?,?,?,?) ON CONFLICT(signature) DO NOTHING`,
		signature, tenantID, caseID, StateReserved, reservedAt, expiresAt)
	if err != nil {
		return AcquireResult{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return AcquireResult{}, err
	} else if n > 0 {
		return AcquireResult{Acquired: true}, nil
	}

	// Lost the insert race or the row predates us. Try to take over an
	// expired reservation; the WHERE clause makes the takeover atomic.
	res, err = s.DB.ExecContext(ctx, `UPDATE footprints SET reserved_at=?, expires_at=?
WHERE signature=? AND state=? AND expires_at < ?`,
		reservedAt, expiresAt, signature, StateReserved, reservedAt)
	if err != nil {
		return AcquireResult{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return AcquireResult{}, err
	} else if n > 0 {
		return AcquireResult{Acquired: true}, nil
	}

	existing, err := s.Get(ctx, signature)
	if err != nil {
		return AcquireResult{}, err
	}
	return AcquireResult{Acquired: false, Existing: existing}, nil
}

// CommitTx finalizes the footprint inside the transaction that created the
// tasks, so a committed footprint and its tasks become visible together.
func (s Store) CommitTx(ctx context.Context, tx *sql.Tx, signature string, taskIDs []string, stageInstanceID string, timelineEntryID int64, templateVersion string) error {
	ids, err := json.Marshal(taskIDs)
	if err != nil {
		return err
	}
	committedAt := s.now().UTC().Format(time.RFC3339)
	res, err := tx.ExecContext(ctx, `UPDATE footprints SET state=?, task_ids_json=?, stage_instance_id=?, timeline_entry_id=?, template_version=?, committed_at=?
WHERE signature=? AND state=?`,
		StateCommitted, string(ids), stageInstanceID, timelineEntryID, templateVersion, committedAt, signature, StateReserved)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("footprint %s not reserved; cannot commit", signature)
	}
	return nil
}

// Release drops an uncommitted reservation after a failed attempt. Best
// effort: if the process dies first, the expiry window unblocks retries.
func (s Store) Release(ctx context.Context, signature string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM footprints WHERE signature=? AND state=?`, signature, StateReserved)
	return err
}

func (s Store) Get(ctx context.Context, signature string) (domain.Footprint, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT signature,tenant_id,case_id,state,task_ids_json,stage_instance_id,timeline_entry_id,template_version,reserved_at,expires_at,committed_at
FROM footprints WHERE signature=?`, signature)
	return scanFootprint(row.Scan)
}

// Lookup lists a case's footprints for diagnostics and tests.
func (s Store) Lookup(ctx context.Context, tenantID, caseID string) ([]domain.Footprint, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT signature,tenant_id,case_id,state,task_ids_json,stage_instance_id,timeline_entry_id,template_version,reserved_at,expires_at,committed_at
FROM footprints WHERE tenant_id=? AND case_id=? ORDER BY reserved_at ASC`, tenantID, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Footprint
	for rows.Next() {
		fp, err := scanFootprint(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, fp)
	}
	return res, rows.Err()
}

func scanFootprint(scan func(dest ...any) error) (domain.Footprint, error) {
	var fp domain.Footprint
	var taskIDs, stageInstanceID, templateVersion, committedAt sql.NullString
	var timelineEntryID sql.NullInt64
	err := scan(&fp.Signature, &fp.TenantID, &fp.CaseID, &fp.State, &taskIDs, &stageInstanceID, &timelineEntryID, &templateVersion, &fp.ReservedAt, &fp.ExpiresAt, &committedAt)
	if err == sql.ErrNoRows {
		return fp, fmt.Errorf("footprint not found")
	}
	if err != nil {
		return fp, err
	}
	if taskIDs.Valid && taskIDs.String != "" {
		if err := json.Unmarshal([]byte(taskIDs.String), &fp.TaskIDs); err != nil {
			return fp, err
		}
	}
	if stageInstanceID.Valid {
		fp.StageInstanceID = &stageInstanceID.String
	}
	if timelineEntryID.Valid {
		fp.TimelineEntryID = &timelineEntryID.Int64
	}
	if templateVersion.Valid {
		fp.TemplateVersion = templateVersion.String
	}
	if committedAt.Valid {
		fp.CommittedAt = &committedAt.String
	}
	return fp, nil
}
