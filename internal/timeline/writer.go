package timeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends immutable timeline entries inside the caller's transaction,
// so an entry is only visible once the owning operation commits.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Metadata map[string]any

// Append records one timeline entry and returns its id.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, tenantID, caseID, entryType, title, description, actorID string, meta Metadata) (int64, error) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if meta == nil {
		meta = Metadata{}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return 0, fmt.Errorf("marshal timeline metadata: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO timeline(tenant_id,case_id,type,title,description,actor_id,ts,metadata_json) VALUES (?,?,?,?,?,?,?,?)`,
		tenantID, caseID, entryType, title, nullable(description), actorID, ts, string(data))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
