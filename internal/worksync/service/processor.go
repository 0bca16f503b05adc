package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hydepark/worksync/internal/faces"
	"github.com/hydepark/worksync/internal/hikcentral"
	"github.com/hydepark/worksync/internal/imagecache"
	"github.com/hydepark/worksync/internal/observability"
	"github.com/hydepark/worksync/internal/upstream"
	"github.com/hydepark/worksync/internal/worksync/store"
	"github.com/hydepark/worksync/internal/worksync/types"
)

var (
	ErrMissingIdentityKey   = errors.New("nationalIdNumber is required")
	ErrMissingWorkerID      = errors.New("workerId is required")
	ErrMissingFaceURL       = errors.New("face photo URL is required")
	ErrMissingBlockedReason = errors.New("blockedReason is required to block a worker")
)

// AccessControl is the slice of the signed RPC client the processor drives.
type AccessControl interface {
	AddPerson(ctx context.Context, p hikcentral.Person) (string, error)
	DeletePerson(ctx context.Context, personID string) error
	GrantAccess(ctx context.Context, personID string) error
	RevokeAccess(ctx context.Context, personID string) error
}

// EventSource is the upstream the processor polls and acknowledges to.
type EventSource interface {
	PendingEvents(ctx context.Context, limit int, eventType string) ([]types.Event, error)
	UpdateWorkerStatus(ctx context.Context, u upstream.StatusUpdate) error
}

// ImageStore caches worker images under deterministic paths.
type ImageStore interface {
	FacePath(identityKey string) string
	IDCardPath(identityKey string) string
	Fetch(ctx context.Context, url, dest string) error
}

// DuplicateGate is the biometric admission check.
type DuplicateGate interface {
	FindDuplicates(ctx context.Context, candidatePath string, knownPaths []string) ([]faces.Match, error)
}

type Dependencies struct {
	Source        EventSource
	AccessControl AccessControl
	Workers       store.WorkerStore
	Gate          DuplicateGate
	Images        ImageStore
	Logger        zerolog.Logger

	// EventLimit caps how many pending events one cycle fetches.
	EventLimit int

	// Now is a test hook; defaults to time.Now.
	Now func() time.Time
}

// Processor drives the per-worker lifecycle state machine.  Events within a
// cycle run strictly sequentially: a worker created earlier in a batch must
// be visible to the admission check of a worker created later.
type Processor struct {
	source     EventSource
	acs        AccessControl
	workers    store.WorkerStore
	gate       DuplicateGate
	images     ImageStore
	logger     zerolog.Logger
	eventLimit int
	now        func() time.Time
}

func NewProcessor(d Dependencies) *Processor {
	limit := d.EventLimit
	if limit <= 0 {
		limit = 100
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Processor{
		source:     d.Source,
		acs:        d.AccessControl,
		workers:    d.Workers,
		gate:       d.Gate,
		images:     d.Images,
		logger:     d.Logger,
		eventLimit: limit,
		now:        now,
	}
}

// ProcessCycle fetches pending events and processes them one worker at a
// time.  Individual event failures are logged and skipped; only a failed
// fetch fails the cycle.
func (p *Processor) ProcessCycle(ctx context.Context) error {
	start := time.Now()

	events, err := p.source.PendingEvents(ctx, p.eventLimit, "")
	if err != nil {
		observability.RecordCycle("error", time.Since(start))
		return fmt.Errorf("fetch pending events: %w", err)
	}

	if len(events) == 0 {
		p.logger.Debug().Msg("no pending events")
		observability.RecordCycle("ok", time.Since(start))
		return nil
	}

	p.logger.Info().Int("count", len(events)).Msg("processing events")
	for _, ev := range events {
		p.ProcessEvent(ctx, ev)
	}

	observability.RecordCycle("ok", time.Since(start))
	return nil
}

// ProcessEvent normalizes one event and runs the matching transition for
// every worker it carries.  No failure here is fatal to the batch.
func (p *Processor) ProcessEvent(ctx context.Context, ev types.Event) {
	cmd, workers, err := ev.Normalize()
	if err != nil {
		p.logger.Warn().Err(err).Str("event_id", ev.ID).Str("type", ev.Type).
			Msg("event dropped")
		observability.RecordEvent("unknown", "dropped")
		return
	}

	for _, w := range workers {
		var err error
		switch cmd {
		case types.CommandCreate:
			err = p.handleCreate(ctx, w)
		case types.CommandBlock:
			err = p.handleBlock(ctx, w)
		case types.CommandUnblock:
			err = p.handleUnblock(ctx, w)
		case types.CommandDelete:
			err = p.handleDelete(ctx, w)
		}

		if err != nil {
			p.logger.Error().Err(err).
				Str("event_id", ev.ID).
				Str("command", string(cmd)).
				Str("identity_key", w.NationalID).
				Msg("transition failed")
			observability.RecordEvent(string(cmd), "error")
			continue
		}
		observability.RecordEvent(string(cmd), "ok")
	}
}

// handleCreate runs the creation transition: validate, cache images, pass
// the admission gate, provision remotely, grant access, persist, report.
// It short-circuits on the first failure.
func (p *Processor) handleCreate(ctx context.Context, w types.WorkerPayload) error {
	key := strings.TrimSpace(w.NationalID)
	if key == "" {
		return ErrMissingIdentityKey
	}
	externalID := strings.TrimSpace(w.ExternalID())
	if externalID == "" {
		return fmt.Errorf("%w (identity key %s)", ErrMissingWorkerID, key)
	}

	existing, err := p.workers.FindByIdentityKey(ctx, key)
	if err != nil {
		return err
	}
	if existing != nil && existing.RemotePersonID != "" {
		// Idempotence: a provisioned worker is never re-created.
		p.logger.Info().Str("identity_key", key).
			Str("remote_person_id", existing.RemotePersonID).
			Msg("worker already synchronized")
		return nil
	}

	faceURL := w.FaceURL()
	if faceURL == "" {
		return fmt.Errorf("%w (identity key %s)", ErrMissingFaceURL, key)
	}

	// The face image is mandatory: without it there is nothing to admit or
	// provision, so no record is written on failure.
	facePath := p.images.FacePath(key)
	if err := p.images.Fetch(ctx, faceURL, facePath); err != nil {
		return fmt.Errorf("fetch face image: %w", err)
	}

	idPath := ""
	if idURL := w.IDImageURL(); idURL != "" {
		idPath = p.images.IDCardPath(key)
		if err := p.images.Fetch(ctx, idURL, idPath); err != nil {
			p.logger.Warn().Err(err).Str("identity_key", key).
				Msg("ID document download failed")
			idPath = ""
		}
	}

	matches, err := p.gate.FindDuplicates(ctx, facePath, p.knownFaces(ctx, key))
	if err != nil {
		if errors.Is(err, faces.ErrNoEncoding) {
			// An unevaluable face must not be silently approved.
			p.reportStatus(ctx, upstream.StatusUpdate{
				WorkerID:      externalID,
				IdentityKey:   key,
				Status:        types.StatusBlocked,
				BlockedReason: "face image could not be evaluated for duplicate identity",
			})
		}
		return fmt.Errorf("admission check: %w", err)
	}
	if len(matches) > 0 {
		top := matches[0]
		reason := fmt.Sprintf(
			"face matches an existing worker (similarity %.0f%%): possible duplicate identity",
			top.Similarity*100,
		)
		p.logger.Warn().Str("identity_key", key).
			Str("matched", top.Path).
			Float64("similarity", top.Similarity).
			Int("matches", len(matches)).
			Msg("worker rejected by admission gate")
		p.reportStatus(ctx, upstream.StatusUpdate{
			WorkerID:      externalID,
			IdentityKey:   key,
			Status:        types.StatusBlocked,
			BlockedReason: reason,
		})
		return nil
	}

	faceData, err := imagecache.FileBase64(facePath)
	if err != nil {
		return fmt.Errorf("encode face image: %w", err)
	}

	beginTime, endTime := deriveValidity(w, p.now())
	familyName, givenName := splitName(w.FullName)

	personID, err := p.acs.AddPerson(ctx, hikcentral.Person{
		Code:       externalID,
		FamilyName: familyName,
		GivenName:  givenName,
		Gender:     1,
		Phone:      w.Phone,
		Email:      w.Email,
		FaceData:   faceData,
		BeginTime:  beginTime,
		EndTime:    endTime,
	})
	if err != nil {
		// Persist as pending so the next poll can retry without re-running
		// the earlier steps inconsistently.
		if _, uerr := p.workers.Upsert(ctx, types.WorkerRecord{
			IdentityKey:      key,
			ExternalWorkerID: externalID,
			FullName:         w.FullName,
			Phone:            w.Phone,
			Email:            w.Email,
			Status:           types.StatusPending,
			FaceImagePath:    facePath,
			IDImagePath:      idPath,
		}); uerr != nil {
			p.logger.Error().Err(uerr).Str("identity_key", key).
				Msg("failed to persist pending record")
		}
		return fmt.Errorf("create person: %w", err)
	}

	// A failed grant leaves the worker provisioned-but-not-granted rather
	// than rolled back; the record keeps the gap visible for repair.
	hasGrant := true
	if err := p.acs.GrantAccess(ctx, personID); err != nil {
		p.logger.Warn().Err(err).Str("identity_key", key).
			Str("remote_person_id", personID).
			Msg("person created but access grant failed")
		hasGrant = false
	}

	if _, err := p.workers.Upsert(ctx, types.WorkerRecord{
		IdentityKey:      key,
		ExternalWorkerID: externalID,
		FullName:         w.FullName,
		Phone:            w.Phone,
		Email:            w.Email,
		Status:           types.StatusApproved,
		RemotePersonID:   personID,
		HasAccessGrant:   hasGrant,
		FaceImagePath:    facePath,
		IDImagePath:      idPath,
	}); err != nil {
		return fmt.Errorf("persist approved record: %w", err)
	}

	p.reportStatus(ctx, upstream.StatusUpdate{
		WorkerID:    externalID,
		IdentityKey: key,
		Status:      types.StatusApproved,
		ExternalID:  personID,
	})

	p.logger.Info().Str("identity_key", key).
		Str("remote_person_id", personID).
		Bool("has_access_grant", hasGrant).
		Msg("worker created")
	return nil
}

func (p *Processor) handleBlock(ctx context.Context, w types.WorkerPayload) error {
	reason := strings.TrimSpace(w.BlockedReason)
	if reason == "" {
		// Rejected before any remote call.
		return fmt.Errorf("%w (identity key %s)", ErrMissingBlockedReason, w.NationalID)
	}

	rec, ok := p.provisionedRecord(ctx, w.NationalID, "block")
	if !ok {
		return nil
	}

	if err := p.acs.RevokeAccess(ctx, rec.RemotePersonID); err != nil {
		return fmt.Errorf("revoke access: %w", err)
	}

	now := p.now().UTC()
	blocked := types.StatusBlocked
	noGrant := false
	if _, err := p.workers.Update(ctx, rec.IdentityKey, store.WorkerUpdate{
		Status:         &blocked,
		BlockedReason:  &reason,
		HasAccessGrant: &noGrant,
		BlockedAt:      &now,
	}); err != nil {
		return fmt.Errorf("persist blocked record: %w", err)
	}

	p.logger.Info().Str("identity_key", rec.IdentityKey).Str("reason", reason).
		Msg("worker blocked")
	return nil
}

func (p *Processor) handleUnblock(ctx context.Context, w types.WorkerPayload) error {
	rec, ok := p.provisionedRecord(ctx, w.NationalID, "unblock")
	if !ok {
		return nil
	}

	if err := p.acs.GrantAccess(ctx, rec.RemotePersonID); err != nil {
		return fmt.Errorf("grant access: %w", err)
	}

	now := p.now().UTC()
	approved := types.StatusApproved
	hasGrant := true
	emptyReason := ""
	if _, err := p.workers.Update(ctx, rec.IdentityKey, store.WorkerUpdate{
		Status:         &approved,
		BlockedReason:  &emptyReason,
		HasAccessGrant: &hasGrant,
		UnblockedAt:    &now,
	}); err != nil {
		return fmt.Errorf("persist unblocked record: %w", err)
	}

	p.reportStatus(ctx, upstream.StatusUpdate{
		WorkerID:    w.ExternalID(),
		IdentityKey: rec.IdentityKey,
		Status:      types.StatusApproved,
		ExternalID:  rec.RemotePersonID,
	})

	p.logger.Info().Str("identity_key", rec.IdentityKey).Msg("worker unblocked")
	return nil
}

func (p *Processor) handleDelete(ctx context.Context, w types.WorkerPayload) error {
	rec, ok := p.provisionedRecord(ctx, w.NationalID, "delete")
	if !ok {
		return nil
	}

	if err := p.acs.DeletePerson(ctx, rec.RemotePersonID); err != nil {
		return fmt.Errorf("delete person: %w", err)
	}

	// Deleted is terminal but the row stays for audit.
	now := p.now().UTC()
	deleted := types.StatusDeleted
	noGrant := false
	if _, err := p.workers.Update(ctx, rec.IdentityKey, store.WorkerUpdate{
		Status:         &deleted,
		HasAccessGrant: &noGrant,
		DeletedAt:      &now,
	}); err != nil {
		return fmt.Errorf("persist deleted record: %w", err)
	}

	p.logger.Info().Str("identity_key", rec.IdentityKey).Msg("worker deleted")
	return nil
}

// provisionedRecord loads the local record that block/unblock/delete
// transitions require.  A missing record or one without a remote person id
// is logged and the event dropped — the upstream will not re-deliver, so
// the gap needs operator attention, not a crash.
func (p *Processor) provisionedRecord(ctx context.Context, nationalID, op string) (*types.WorkerRecord, bool) {
	key := strings.TrimSpace(nationalID)
	if key == "" {
		p.logger.Warn().Str("op", op).Msg("event without identity key dropped")
		return nil, false
	}

	rec, err := p.workers.FindByIdentityKey(ctx, key)
	if err != nil {
		p.logger.Error().Err(err).Str("identity_key", key).Str("op", op).
			Msg("record lookup failed")
		return nil, false
	}
	if rec == nil {
		p.logger.Warn().Str("identity_key", key).Str("op", op).
			Msg("worker not found locally, event dropped")
		return nil, false
	}
	if rec.RemotePersonID == "" {
		p.logger.Warn().Str("identity_key", key).Str("op", op).
			Msg("worker has no remote person id, event dropped")
		return nil, false
	}
	return rec, true
}

// knownFaces collects the cached face images of every other worker.  Records
// whose cache file has gone missing are excluded from duplicate detection;
// each exclusion is logged so coverage gaps stay visible.
func (p *Processor) knownFaces(ctx context.Context, excludeKey string) []string {
	all, err := p.workers.ListAll(ctx, "")
	if err != nil {
		p.logger.Error().Err(err).Msg("listing workers for admission check failed")
		return nil
	}

	var paths []string
	for _, rec := range all {
		if rec.IdentityKey == excludeKey || rec.FaceImagePath == "" {
			continue
		}
		if _, err := os.Stat(rec.FaceImagePath); err != nil {
			p.logger.Warn().Str("identity_key", rec.IdentityKey).
				Str("path", rec.FaceImagePath).
				Msg("cached face missing, excluded from duplicate detection")
			continue
		}
		paths = append(paths, rec.FaceImagePath)
	}
	return paths
}

// reportStatus acknowledges an outcome to the upstream.  Failures are
// logged only — the local store stays authoritative either way.
func (p *Processor) reportStatus(ctx context.Context, u upstream.StatusUpdate) {
	if err := p.source.UpdateWorkerStatus(ctx, u); err != nil {
		p.logger.Error().Err(err).
			Str("identity_key", u.IdentityKey).
			Str("status", string(u.Status)).
			Msg("upstream status update failed")
	}
}

// splitName splits a full name into the vendor's family/given pair on the
// first space, matching how the upstream captures names.
func splitName(fullName string) (familyName, givenName string) {
	parts := strings.SplitN(strings.TrimSpace(fullName), " ", 2)
	familyName = parts[0]
	if len(parts) > 1 {
		givenName = parts[1]
	}
	return familyName, givenName
}
