package footprint_test

import (
	"context"
	"testing"
	"time"

	"caseline/internal/db"
	"caseline/internal/footprint"
	"caseline/internal/migrate"
)

func newStore(t *testing.T) (*footprint.Store, *time.Time) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s := &footprint.Store{DB: conn, TTL: 15 * time.Minute, Now: func() time.Time { return now }}
	return s, &now
}

func TestSignatureDeterministic(t *testing.T) {
	a := footprint.Signature("t1", "c1", "assessment", "adjudication", "forward", 1)
	b := footprint.Signature("t1", "c1", "assessment", "adjudication", "forward", 1)
	if a != b {
		t.Fatalf("same inputs produced different signatures: %s vs %s", a, b)
	}
	c := footprint.Signature("t1", "c1", "assessment", "adjudication", "forward", 2)
	if a == c {
		t.Fatal("different cycle must change the signature")
	}
	d := footprint.Signature("t1", "c1", "adjudication", "assessment", "remand", 1)
	if a == d {
		t.Fatal("different stage pair must change the signature")
	}
}

func TestTryAcquireIsExclusive(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	sig := footprint.Signature("t1", "c1", "assessment", "adjudication", "forward", 1)

	first, err := s.TryAcquire(ctx, "t1", "c1", sig)
	if err != nil {
		t.Fatal(err)
	}
	if !first.Acquired {
		t.Fatal("first acquire must win")
	}

	second, err := s.TryAcquire(ctx, "t1", "c1", sig)
	if err != nil {
		t.Fatal(err)
	}
	if second.Acquired {
		t.Fatal("second acquire must see the existing reservation")
	}
	if second.Existing.State != footprint.StateReserved {
		t.Fatalf("existing state = %s, want reserved", second.Existing.State)
	}
}

func TestReleaseFreesReservation(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	sig := footprint.Signature("t1", "c1", "assessment", "adjudication", "forward", 1)

	if res, err := s.TryAcquire(ctx, "t1", "c1", sig); err != nil || !res.Acquired {
		t.Fatalf("acquire: %v %v", res, err)
	}
	if err := s.Release(ctx, sig); err != nil {
		t.Fatal(err)
	}
	res, err := s.TryAcquire(ctx, "t1", "c1", sig)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Acquired {
		t.Fatal("released signature must be acquirable again")
	}
}

func TestExpiredReservationTakeover(t *testing.T) {
	s, now := newStore(t)
	ctx := context.Background()
	sig := footprint.Signature("t1", "c1", "assessment", "adjudication", "forward", 1)

	if res, err := s.TryAcquire(ctx, "t1", "c1", sig); err != nil || !res.Acquired {
		t.Fatalf("acquire: %v %v", res, err)
	}

	// Before expiry the reservation blocks.
	*now = now.Add(5 * time.Minute)
	if res, err := s.TryAcquire(ctx, "t1", "c1", sig); err != nil || res.Acquired {
		t.Fatalf("unexpired reservation must block: %v %v", res, err)
	}

	// A crashed attempt's reservation is taken over once past expiry.
	*now = now.Add(20 * time.Minute)
	res, err := s.TryAcquire(ctx, "t1", "c1", sig)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Acquired {
		t.Fatal("expired reservation must be taken over")
	}
}

func TestCommittedFootprintCannotBeReacquired(t *testing.T) {
	s, now := newStore(t)
	ctx := context.Background()
	sig := footprint.Signature("t1", "c1", "assessment", "adjudication", "forward", 1)

	if res, err := s.TryAcquire(ctx, "t1", "c1", sig); err != nil || !res.Acquired {
		t.Fatalf("acquire: %v %v", res, err)
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.CommitTx(ctx, tx, sig, []string{"task-1"}, "si-1", 7, "v1"); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	// Even far past the TTL, a committed footprint never reopens.
	*now = now.Add(24 * time.Hour)
	res, err := s.TryAcquire(ctx, "t1", "c1", sig)
	if err != nil {
		t.Fatal(err)
	}
	if res.Acquired {
		t.Fatal("committed footprint must never be reacquired")
	}
	if res.Existing.State != footprint.StateCommitted {
		t.Fatalf("state = %s, want committed", res.Existing.State)
	}
	if len(res.Existing.TaskIDs) != 1 || res.Existing.TaskIDs[0] != "task-1" {
		t.Fatalf("task ids = %v", res.Existing.TaskIDs)
	}

	// A commit can only happen once per signature.
	tx2, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx2.Rollback()
	if err := s.CommitTx(ctx, tx2, sig, nil, "si-2", 8, "v1"); err == nil {
		t.Fatal("second commit must fail")
	}
}
