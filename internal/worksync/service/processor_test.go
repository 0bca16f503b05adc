package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydepark/worksync/internal/faces"
	"github.com/hydepark/worksync/internal/hikcentral"
	"github.com/hydepark/worksync/internal/upstream"
	"github.com/hydepark/worksync/internal/worksync/store"
	"github.com/hydepark/worksync/internal/worksync/store/memory"
	"github.com/hydepark/worksync/internal/worksync/types"
)

type fakeSource struct {
	events   []types.Event
	fetchErr error
	updates  []upstream.StatusUpdate
}

func (f *fakeSource) PendingEvents(_ context.Context, _ int, _ string) ([]types.Event, error) {
	return f.events, f.fetchErr
}

func (f *fakeSource) UpdateWorkerStatus(_ context.Context, u upstream.StatusUpdate) error {
	f.updates = append(f.updates, u)
	return nil
}

type fakeACS struct {
	personID string
	addErr   error
	grantErr error

	added   []hikcentral.Person
	granted []string
	revoked []string
	deleted []string
}

func (f *fakeACS) AddPerson(_ context.Context, p hikcentral.Person) (string, error) {
	if f.addErr != nil {
		return "", f.addErr
	}
	f.added = append(f.added, p)
	return f.personID, nil
}

func (f *fakeACS) DeletePerson(_ context.Context, personID string) error {
	f.deleted = append(f.deleted, personID)
	return nil
}

func (f *fakeACS) GrantAccess(_ context.Context, personID string) error {
	if f.grantErr != nil {
		return f.grantErr
	}
	f.granted = append(f.granted, personID)
	return nil
}

func (f *fakeACS) RevokeAccess(_ context.Context, personID string) error {
	f.revoked = append(f.revoked, personID)
	return nil
}

// fakeImages writes a stub file on Fetch so downstream file reads work.
type fakeImages struct {
	dir      string
	fetchErr error
	fetched  []string
}

func (f *fakeImages) FacePath(key string) string   { return filepath.Join(f.dir, key+"_face.jpg") }
func (f *fakeImages) IDCardPath(key string) string { return filepath.Join(f.dir, key+"_id.jpg") }

func (f *fakeImages) Fetch(_ context.Context, url, dest string) error {
	if f.fetchErr != nil {
		return f.fetchErr
	}
	f.fetched = append(f.fetched, url)
	return os.WriteFile(dest, []byte("stub-image"), 0o644)
}

type fakeGate struct {
	matches []faces.Match
	err     error
	calls   int
	known   []string
}

func (f *fakeGate) FindDuplicates(_ context.Context, _ string, knownPaths []string) ([]faces.Match, error) {
	f.calls++
	f.known = knownPaths
	return f.matches, f.err
}

type fixture struct {
	proc    *Processor
	source  *fakeSource
	acs     *fakeACS
	workers *memory.WorkerStore
	gate    *fakeGate
	images  *fakeImages
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		source:  &fakeSource{},
		acs:     &fakeACS{personID: "p-100"},
		workers: memory.NewWorkerStore(),
		gate:    &fakeGate{},
		images:  &fakeImages{dir: t.TempDir()},
	}
	f.proc = NewProcessor(Dependencies{
		Source:        f.source,
		AccessControl: f.acs,
		Workers:       f.workers,
		Gate:          f.gate,
		Images:        f.images,
		Logger:        zerolog.Nop(),
		Now: func() time.Time {
			return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		},
	})
	return f
}

func createPayload() types.WorkerPayload {
	return types.WorkerPayload{
		WorkerID:   "W-1001",
		NationalID: "12345678901234",
		FullName:   "Ahmed Hassan",
		Phone:      "0501234567",
		FacePhoto:  "http://upstream/face.jpg",
	}
}

func TestHandleCreate_HappyPath(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.proc.handleCreate(context.Background(), createPayload()))

	require.Len(t, f.acs.added, 1)
	p := f.acs.added[0]
	assert.Equal(t, "W-1001", p.Code)
	assert.Equal(t, "Ahmed", p.FamilyName)
	assert.Equal(t, "Hassan", p.GivenName)
	assert.NotEmpty(t, p.FaceData)
	assert.Equal(t, "2026-03-01T10:00:00+02:00", p.BeginTime)

	assert.Equal(t, []string{"p-100"}, f.acs.granted)

	rec, err := f.workers.FindByIdentityKey(context.Background(), "12345678901234")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, types.StatusApproved, rec.Status)
	assert.Equal(t, "p-100", rec.RemotePersonID)
	assert.True(t, rec.HasAccessGrant)

	require.Len(t, f.source.updates, 1)
	assert.Equal(t, types.StatusApproved, f.source.updates[0].Status)
	assert.Equal(t, "p-100", f.source.updates[0].ExternalID)
}

func TestHandleCreate_Idempotent(t *testing.T) {
	f := newFixture(t)

	_, err := f.workers.Upsert(context.Background(), types.WorkerRecord{
		IdentityKey:    "12345678901234",
		Status:         types.StatusApproved,
		RemotePersonID: "p-100",
	})
	require.NoError(t, err)

	require.NoError(t, f.proc.handleCreate(context.Background(), createPayload()))

	// An already provisioned worker triggers no remote work at all.
	assert.Empty(t, f.acs.added)
	assert.Empty(t, f.acs.granted)
	assert.Empty(t, f.images.fetched)
	assert.Zero(t, f.gate.calls)
}

func TestHandleCreate_DuplicateFaceBlocksUpstream(t *testing.T) {
	f := newFixture(t)
	f.gate.matches = []faces.Match{{Path: "other_face.jpg", Similarity: 0.87}}

	require.NoError(t, f.proc.handleCreate(context.Background(), createPayload()))

	// Rejection happens before any provisioning.
	assert.Empty(t, f.acs.added)
	assert.Empty(t, f.acs.granted)

	rec, err := f.workers.FindByIdentityKey(context.Background(), "12345678901234")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.Len(t, f.source.updates, 1)
	u := f.source.updates[0]
	assert.Equal(t, types.StatusBlocked, u.Status)
	assert.Contains(t, u.BlockedReason, "87%")
	assert.Contains(t, u.BlockedReason, "duplicate")
}

func TestHandleCreate_UnevaluableFaceBlocksUpstream(t *testing.T) {
	f := newFixture(t)
	f.gate.err = faces.ErrNoEncoding

	err := f.proc.handleCreate(context.Background(), createPayload())
	require.Error(t, err)
	assert.ErrorIs(t, err, faces.ErrNoEncoding)

	assert.Empty(t, f.acs.added)
	require.Len(t, f.source.updates, 1)
	assert.Equal(t, types.StatusBlocked, f.source.updates[0].Status)
	assert.Contains(t, f.source.updates[0].BlockedReason, "could not be evaluated")
}

func TestHandleCreate_AddPersonFailureLeavesPendingRecord(t *testing.T) {
	f := newFixture(t)
	f.acs.addErr = errors.New("appliance unreachable")

	err := f.proc.handleCreate(context.Background(), createPayload())
	require.Error(t, err)

	rec, ferr := f.workers.FindByIdentityKey(context.Background(), "12345678901234")
	require.NoError(t, ferr)
	require.NotNil(t, rec)
	assert.Equal(t, types.StatusPending, rec.Status)
	assert.Empty(t, rec.RemotePersonID)
	assert.False(t, rec.HasAccessGrant)
}

func TestHandleCreate_GrantFailureKeepsPersonWithoutGrant(t *testing.T) {
	f := newFixture(t)
	f.acs.grantErr = errors.New("privilege group full")

	require.NoError(t, f.proc.handleCreate(context.Background(), createPayload()))

	rec, err := f.workers.FindByIdentityKey(context.Background(), "12345678901234")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, types.StatusApproved, rec.Status)
	assert.Equal(t, "p-100", rec.RemotePersonID)
	assert.False(t, rec.HasAccessGrant)
}

func TestHandleCreate_ExcludesOwnFaceFromScan(t *testing.T) {
	f := newFixture(t)

	// Seed another worker whose cached face exists on disk.
	otherFace := filepath.Join(f.images.dir, "other_face.jpg")
	require.NoError(t, os.WriteFile(otherFace, []byte("stub"), 0o644))
	_, err := f.workers.Upsert(context.Background(), types.WorkerRecord{
		IdentityKey:    "99999999999999",
		Status:         types.StatusApproved,
		RemotePersonID: "p-99",
		FaceImagePath:  otherFace,
	})
	require.NoError(t, err)

	// And one whose cached face has gone missing.
	_, err = f.workers.Upsert(context.Background(), types.WorkerRecord{
		IdentityKey:    "88888888888888",
		Status:         types.StatusApproved,
		RemotePersonID: "p-88",
		FaceImagePath:  filepath.Join(f.images.dir, "gone.jpg"),
	})
	require.NoError(t, err)

	require.NoError(t, f.proc.handleCreate(context.Background(), createPayload()))

	require.Equal(t, 1, f.gate.calls)
	assert.Equal(t, []string{otherFace}, f.gate.known)
}

func TestHandleCreate_Validation(t *testing.T) {
	f := newFixture(t)

	err := f.proc.handleCreate(context.Background(), types.WorkerPayload{WorkerID: "W-1"})
	assert.ErrorIs(t, err, ErrMissingIdentityKey)

	err = f.proc.handleCreate(context.Background(), types.WorkerPayload{NationalID: "1"})
	assert.ErrorIs(t, err, ErrMissingWorkerID)

	err = f.proc.handleCreate(context.Background(), types.WorkerPayload{NationalID: "1", WorkerID: "W-1"})
	assert.ErrorIs(t, err, ErrMissingFaceURL)
}

func seedProvisioned(t *testing.T, f *fixture) {
	t.Helper()
	_, err := f.workers.Upsert(context.Background(), types.WorkerRecord{
		IdentityKey:      "12345678901234",
		ExternalWorkerID: "W-1001",
		Status:           types.StatusApproved,
		RemotePersonID:   "p-100",
		HasAccessGrant:   true,
	})
	require.NoError(t, err)
}

func TestHandleBlock_RequiresReasonBeforeRemoteCall(t *testing.T) {
	f := newFixture(t)
	seedProvisioned(t, f)

	err := f.proc.handleBlock(context.Background(), types.WorkerPayload{NationalID: "12345678901234"})
	require.ErrorIs(t, err, ErrMissingBlockedReason)
	assert.Empty(t, f.acs.revoked)
}

func TestHandleBlock_RevokesAndPersists(t *testing.T) {
	f := newFixture(t)
	seedProvisioned(t, f)

	err := f.proc.handleBlock(context.Background(), types.WorkerPayload{
		NationalID:    "12345678901234",
		BlockedReason: "contract terminated",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"p-100"}, f.acs.revoked)

	rec, err := f.workers.FindByIdentityKey(context.Background(), "12345678901234")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, types.StatusBlocked, rec.Status)
	assert.Equal(t, "contract terminated", rec.BlockedReason)
	assert.False(t, rec.HasAccessGrant)
	assert.NotNil(t, rec.BlockedAt)
}

func TestHandleUnblock_RestoresGrant(t *testing.T) {
	f := newFixture(t)
	seedProvisioned(t, f)
	blocked := types.StatusBlocked
	reason := "contract terminated"
	noGrant := false
	_, err := f.workers.Update(context.Background(), "12345678901234", workerPatch(&blocked, &reason, &noGrant))
	require.NoError(t, err)

	err = f.proc.handleUnblock(context.Background(), types.WorkerPayload{
		WorkerID:   "W-1001",
		NationalID: "12345678901234",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"p-100"}, f.acs.granted)

	rec, err := f.workers.FindByIdentityKey(context.Background(), "12345678901234")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, types.StatusApproved, rec.Status)
	assert.Empty(t, rec.BlockedReason)
	assert.True(t, rec.HasAccessGrant)
	assert.NotNil(t, rec.UnblockedAt)

	require.Len(t, f.source.updates, 1)
	assert.Equal(t, types.StatusApproved, f.source.updates[0].Status)
}

func TestHandleDelete_TerminalButRowKept(t *testing.T) {
	f := newFixture(t)
	seedProvisioned(t, f)

	err := f.proc.handleDelete(context.Background(), types.WorkerPayload{NationalID: "12345678901234"})
	require.NoError(t, err)

	assert.Equal(t, []string{"p-100"}, f.acs.deleted)

	rec, err := f.workers.FindByIdentityKey(context.Background(), "12345678901234")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, types.StatusDeleted, rec.Status)
	assert.False(t, rec.HasAccessGrant)
	assert.NotNil(t, rec.DeletedAt)
	assert.Equal(t, "p-100", rec.RemotePersonID)
}

func TestHandleBlock_UnknownWorkerDropped(t *testing.T) {
	f := newFixture(t)

	err := f.proc.handleBlock(context.Background(), types.WorkerPayload{
		NationalID:    "00000000000000",
		BlockedReason: "whatever",
	})
	require.NoError(t, err)
	assert.Empty(t, f.acs.revoked)
}

func TestProcessCycle_FetchFailureFailsCycle(t *testing.T) {
	f := newFixture(t)
	f.source.fetchErr = errors.New("upstream down")

	err := f.proc.ProcessCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch pending events")
}

func TestProcessCycle_BatchVisibility(t *testing.T) {
	f := newFixture(t)
	f.source.events = []types.Event{
		{ID: "ev-1", Type: "worker.created", Workers: []types.WorkerPayload{createPayload()}},
		{ID: "ev-2", Type: "worker.blocked", Workers: []types.WorkerPayload{{
			NationalID:    "12345678901234",
			BlockedReason: "revoked same cycle",
		}}},
	}

	require.NoError(t, f.proc.ProcessCycle(context.Background()))

	// The block event sees the record the create event wrote moments before.
	rec, err := f.workers.FindByIdentityKey(context.Background(), "12345678901234")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, types.StatusBlocked, rec.Status)
	assert.Equal(t, []string{"p-100"}, f.acs.revoked)
}

func workerPatch(status *types.WorkerStatus, reason *string, grant *bool) store.WorkerUpdate {
	return store.WorkerUpdate{
		Status:         status,
		BlockedReason:  reason,
		HasAccessGrant: grant,
	}
}
