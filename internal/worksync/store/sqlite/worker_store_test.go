package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/hydepark/worksync/internal/worksync/store"
	sqlitestore "github.com/hydepark/worksync/internal/worksync/store/sqlite"
	"github.com/hydepark/worksync/internal/worksync/types"
)

// ═══════════════════════════════════════════════════════════════════════════
// Upsert — insert and lookup round trip
// ═══════════════════════════════════════════════════════════════════════════

func TestWorkerStore_Upsert_InsertsRow(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ws := sqlitestore.NewWorkerStore(conn, w)

	_, err := ws.Upsert(context.Background(), types.WorkerRecord{
		IdentityKey:      "12345678901234",
		ExternalWorkerID: "W-1001",
		FullName:         "Ahmed Hassan",
		Phone:            "0501234567",
		Status:           types.StatusApproved,
		RemotePersonID:   "p-100",
		HasAccessGrant:   true,
		FaceImagePath:    "/data/faces/12345678901234_face.jpg",
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	rec, err := ws.FindByIdentityKey(context.Background(), "12345678901234")
	if err != nil {
		t.Fatalf("FindByIdentityKey: %v", err)
	}
	if rec == nil {
		t.Fatal("expected record, got nil")
	}
	if rec.ExternalWorkerID != "W-1001" {
		t.Errorf("expected external id W-1001, got %q", rec.ExternalWorkerID)
	}
	if rec.Status != types.StatusApproved {
		t.Errorf("expected status approved, got %q", rec.Status)
	}
	if !rec.HasAccessGrant {
		t.Error("expected has_access_grant=true")
	}
	if rec.CreatedAt.IsZero() || rec.UpdatedAt.IsZero() {
		t.Error("expected created_at and updated_at to be set")
	}
	if rec.BlockedAt != nil {
		t.Errorf("expected blocked_at=nil, got %v", rec.BlockedAt)
	}
}

func TestWorkerStore_FindByIdentityKey_AbsentIsNilNil(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ws := sqlitestore.NewWorkerStore(conn, w)

	rec, err := ws.FindByIdentityKey(context.Background(), "00000000000000")
	if err != nil {
		t.Fatalf("FindByIdentityKey: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil record for unknown key, got %+v", rec)
	}
}

func TestWorkerStore_EmptyIdentityKeyRejected(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ws := sqlitestore.NewWorkerStore(conn, w)

	if _, err := ws.FindByIdentityKey(context.Background(), "  "); err != sqlitestore.ErrEmptyIdentityKey {
		t.Errorf("FindByIdentityKey: expected ErrEmptyIdentityKey, got %v", err)
	}
	if _, err := ws.Upsert(context.Background(), types.WorkerRecord{}); err != sqlitestore.ErrEmptyIdentityKey {
		t.Errorf("Upsert: expected ErrEmptyIdentityKey, got %v", err)
	}
	if _, err := ws.Update(context.Background(), "", store.WorkerUpdate{}); err != sqlitestore.ErrEmptyIdentityKey {
		t.Errorf("Update: expected ErrEmptyIdentityKey, got %v", err)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Upsert — merge keeps created_at and the remote person id
// ═══════════════════════════════════════════════════════════════════════════

func TestWorkerStore_Upsert_MergePreservesCreatedAtAndRemoteID(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ws := sqlitestore.NewWorkerStore(conn, w)

	first, err := ws.Upsert(context.Background(), types.WorkerRecord{
		IdentityKey:    "12345678901234",
		Status:         types.StatusApproved,
		RemotePersonID: "p-100",
	})
	if err != nil {
		t.Fatalf("first Upsert: %v", err)
	}

	// A later upsert without a remote person id must not clear it.
	_, err = ws.Upsert(context.Background(), types.WorkerRecord{
		IdentityKey: "12345678901234",
		FullName:    "Ahmed Hassan",
		Status:      types.StatusPending,
	})
	if err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	rec, err := ws.FindByIdentityKey(context.Background(), "12345678901234")
	if err != nil {
		t.Fatalf("FindByIdentityKey: %v", err)
	}
	if rec.RemotePersonID != "p-100" {
		t.Errorf("expected remote_person_id preserved as p-100, got %q", rec.RemotePersonID)
	}
	if !rec.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("expected created_at preserved (%v), got %v", first.CreatedAt, rec.CreatedAt)
	}
	if rec.FullName != "Ahmed Hassan" {
		t.Errorf("expected merged full_name, got %q", rec.FullName)
	}
	if rec.Status != types.StatusPending {
		t.Errorf("expected merged status pending, got %q", rec.Status)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Update — field-level patch
// ═══════════════════════════════════════════════════════════════════════════

func TestWorkerStore_Update_PatchesOnlyGivenFields(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ws := sqlitestore.NewWorkerStore(conn, w)

	_, err := ws.Upsert(context.Background(), types.WorkerRecord{
		IdentityKey:    "12345678901234",
		FullName:       "Ahmed Hassan",
		Status:         types.StatusApproved,
		RemotePersonID: "p-100",
		HasAccessGrant: true,
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	blocked := types.StatusBlocked
	reason := "contract terminated"
	noGrant := false
	blockedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	touched, err := ws.Update(context.Background(), "12345678901234", store.WorkerUpdate{
		Status:         &blocked,
		BlockedReason:  &reason,
		HasAccessGrant: &noGrant,
		BlockedAt:      &blockedAt,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if touched != 1 {
		t.Fatalf("expected 1 row touched, got %d", touched)
	}

	rec, err := ws.FindByIdentityKey(context.Background(), "12345678901234")
	if err != nil {
		t.Fatalf("FindByIdentityKey: %v", err)
	}
	if rec.Status != types.StatusBlocked {
		t.Errorf("expected status blocked, got %q", rec.Status)
	}
	if rec.BlockedReason != reason {
		t.Errorf("expected blocked_reason %q, got %q", reason, rec.BlockedReason)
	}
	if rec.HasAccessGrant {
		t.Error("expected has_access_grant=false after block")
	}
	if rec.BlockedAt == nil || !rec.BlockedAt.Equal(blockedAt) {
		t.Errorf("expected blocked_at=%v, got %v", blockedAt, rec.BlockedAt)
	}

	// Untouched fields survive the patch.
	if rec.FullName != "Ahmed Hassan" {
		t.Errorf("expected full_name untouched, got %q", rec.FullName)
	}
	if rec.RemotePersonID != "p-100" {
		t.Errorf("expected remote_person_id untouched, got %q", rec.RemotePersonID)
	}
}

func TestWorkerStore_Update_UnknownKeyTouchesNothing(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ws := sqlitestore.NewWorkerStore(conn, w)

	blocked := types.StatusBlocked
	touched, err := ws.Update(context.Background(), "00000000000000", store.WorkerUpdate{Status: &blocked})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if touched != 0 {
		t.Errorf("expected 0 rows touched, got %d", touched)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// ListAll — ordering and status filter
// ═══════════════════════════════════════════════════════════════════════════

func TestWorkerStore_ListAll_FilterAndOrder(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ws := sqlitestore.NewWorkerStore(conn, w)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seed := []types.WorkerRecord{
		{IdentityKey: "1", Status: types.StatusApproved, CreatedAt: base.Add(2 * time.Hour)},
		{IdentityKey: "2", Status: types.StatusBlocked, CreatedAt: base.Add(time.Hour)},
		{IdentityKey: "3", Status: types.StatusApproved, CreatedAt: base},
	}
	for _, rec := range seed {
		if _, err := ws.Upsert(context.Background(), rec); err != nil {
			t.Fatalf("Upsert %s: %v", rec.IdentityKey, err)
		}
	}

	all, err := ws.ListAll(context.Background(), "")
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	// Oldest first.
	if all[0].IdentityKey != "3" || all[2].IdentityKey != "1" {
		t.Errorf("expected order [3 2 1], got [%s %s %s]",
			all[0].IdentityKey, all[1].IdentityKey, all[2].IdentityKey)
	}

	approved, err := ws.ListAll(context.Background(), types.StatusApproved)
	if err != nil {
		t.Fatalf("ListAll(approved): %v", err)
	}
	if len(approved) != 2 {
		t.Errorf("expected 2 approved records, got %d", len(approved))
	}
	for _, rec := range approved {
		if rec.Status != types.StatusApproved {
			t.Errorf("filter leaked status %q", rec.Status)
		}
	}
}
