package usecase

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
)

type WindowInput struct {
	ThreadID   string
	SitterID   string
	StartsAt   time.Time
	EndsAt     time.Time
	BookingRef string
}

// WindowPatch updates the non-nil fields of a window.
type WindowPatch struct {
	SitterID   *string
	StartsAt   *time.Time
	EndsAt     *time.Time
	BookingRef *string
}

// WindowFilter selects windows. Status is evaluated against the clock.
type WindowFilter struct {
	ThreadID string
	SitterID string
	Status   types.WindowStatus
	From     *time.Time
	To       *time.Time
}

type WindowView struct {
	Window *model.AssignmentWindow
	Status types.WindowStatus
}

type ConflictResolution struct {
	ConflictID string
	Strategy   types.ConflictStrategy
	Updated    []*model.AssignmentWindow
	Deleted    []string
}

type AssignmentUseCase struct {
	repo  interfaces.Repository
	audit *auditor
	clock func() time.Time
}

func newAssignmentUseCase(repo interfaces.Repository, audit *auditor, clock func() time.Time) *AssignmentUseCase {
	return &AssignmentUseCase{
		repo:  repo,
		audit: audit,
		clock: clock,
	}
}

func (uc *AssignmentUseCase) CreateWindow(ctx context.Context, orgID, actorID string, in WindowInput) (*model.AssignmentWindow, error) {
	w := &model.AssignmentWindow{
		ThreadID:   in.ThreadID,
		SitterID:   in.SitterID,
		StartsAt:   in.StartsAt,
		EndsAt:     in.EndsAt,
		BookingRef: in.BookingRef,
	}
	if err := w.Validate(); err != nil {
		return nil, goerr.Wrap(ErrValidation, err.Error(), goerr.V(ThreadIDKey, in.ThreadID))
	}

	if _, err := uc.repo.Thread().Get(ctx, orgID, in.ThreadID); err != nil {
		return nil, goerr.Wrap(asNotFound(err), "thread not found", goerr.V(ThreadIDKey, in.ThreadID))
	}
	if _, err := uc.repo.Sitter().Get(ctx, orgID, in.SitterID); err != nil {
		return nil, goerr.Wrap(asNotFound(err), "sitter not found", goerr.V(SitterIDKey, in.SitterID))
	}

	// Check-then-insert: two concurrent writers on one thread can both pass.
	// ListConflicts and ResolveConflict repair such overlaps.
	if err := uc.checkOverlap(ctx, orgID, w); err != nil {
		return nil, err
	}

	now := uc.clock()
	w.CreatedAt = now
	w.UpdatedAt = now
	created, err := uc.repo.Window().Create(ctx, orgID, w)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create window", goerr.V(ThreadIDKey, in.ThreadID))
	}

	uc.recordWindowEvent(ctx, orgID, actorID, model.EventWindowCreated, created)
	return created, nil
}

func (uc *AssignmentUseCase) UpdateWindow(ctx context.Context, orgID, actorID, windowID string, patch WindowPatch) (*model.AssignmentWindow, error) {
	w, err := uc.repo.Window().Get(ctx, orgID, windowID)
	if err != nil {
		return nil, goerr.Wrap(asNotFound(err), "window not found", goerr.V(WindowIDKey, windowID))
	}

	if patch.SitterID != nil && *patch.SitterID != w.SitterID {
		if _, err := uc.repo.Sitter().Get(ctx, orgID, *patch.SitterID); err != nil {
			return nil, goerr.Wrap(asNotFound(err), "sitter not found", goerr.V(SitterIDKey, *patch.SitterID))
		}
		w.SitterID = *patch.SitterID
	}
	if patch.StartsAt != nil {
		w.StartsAt = *patch.StartsAt
	}
	if patch.EndsAt != nil {
		w.EndsAt = *patch.EndsAt
	}
	if patch.BookingRef != nil {
		w.BookingRef = *patch.BookingRef
	}
	if err := w.Validate(); err != nil {
		return nil, goerr.Wrap(ErrValidation, err.Error(), goerr.V(WindowIDKey, windowID))
	}

	if err := uc.checkOverlap(ctx, orgID, w); err != nil {
		return nil, err
	}

	w.UpdatedAt = uc.clock()
	updated, err := uc.repo.Window().Update(ctx, orgID, w)
	if err != nil {
		return nil, goerr.Wrap(asNotFound(err), "failed to update window", goerr.V(WindowIDKey, windowID))
	}

	uc.recordWindowEvent(ctx, orgID, actorID, model.EventWindowUpdated, updated)
	return updated, nil
}

func (uc *AssignmentUseCase) DeleteWindow(ctx context.Context, orgID, actorID, windowID string) error {
	w, err := uc.repo.Window().Get(ctx, orgID, windowID)
	if err != nil {
		return goerr.Wrap(asNotFound(err), "window not found", goerr.V(WindowIDKey, windowID))
	}
	if err := uc.repo.Window().Delete(ctx, orgID, windowID); err != nil {
		return goerr.Wrap(asNotFound(err), "failed to delete window", goerr.V(WindowIDKey, windowID))
	}

	uc.recordWindowEvent(ctx, orgID, actorID, model.EventWindowDeleted, w)
	return nil
}

func (uc *AssignmentUseCase) GetWindow(ctx context.Context, orgID, windowID string) (*WindowView, error) {
	w, err := uc.repo.Window().Get(ctx, orgID, windowID)
	if err != nil {
		return nil, goerr.Wrap(asNotFound(err), "window not found", goerr.V(WindowIDKey, windowID))
	}
	return &WindowView{Window: w, Status: w.StatusAt(uc.clock())}, nil
}

func (uc *AssignmentUseCase) ListWindows(ctx context.Context, orgID string, f WindowFilter) ([]*WindowView, error) {
	if f.Status != "" && !f.Status.IsValid() {
		return nil, goerr.Wrap(ErrValidation, "invalid window status", goerr.V("status", f.Status))
	}

	windows, err := uc.repo.Window().List(ctx, orgID, interfaces.WindowQuery{
		ThreadID: f.ThreadID,
		SitterID: f.SitterID,
		From:     f.From,
		To:       f.To,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list windows")
	}

	now := uc.clock()
	views := make([]*WindowView, 0, len(windows))
	for _, w := range windows {
		status := w.StatusAt(now)
		if f.Status != "" && status != f.Status {
			continue
		}
		views = append(views, &WindowView{Window: w, Status: status})
	}
	return views, nil
}

// ListConflicts reports every overlapping pair of windows per thread,
// ordered by thread, overlap start and conflict ID.
func (uc *AssignmentUseCase) ListConflicts(ctx context.Context, orgID string) ([]*model.Conflict, error) {
	windows, err := uc.repo.Window().List(ctx, orgID, interfaces.WindowQuery{})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list windows")
	}

	byThread := make(map[string][]*model.AssignmentWindow)
	for _, w := range windows {
		byThread[w.ThreadID] = append(byThread[w.ThreadID], w)
	}

	conflicts := []*model.Conflict{}
	for _, ws := range byThread {
		for i := range ws {
			for j := i + 1; j < len(ws); j++ {
				if c := model.NewConflict(ws[i], ws[j]); c != nil {
					conflicts = append(conflicts, c)
				}
			}
		}
	}
	sort.Slice(conflicts, func(i, j int) bool {
		a, b := conflicts[i], conflicts[j]
		if a.ThreadID != b.ThreadID {
			return a.ThreadID < b.ThreadID
		}
		if !a.OverlapStart.Equal(b.OverlapStart) {
			return a.OverlapStart.Before(b.OverlapStart)
		}
		return a.ID < b.ID
	})
	return conflicts, nil
}

// ResolveConflict applies strategy to the conflict atomically. The conflict
// ID must name the pair in canonical order, as ListConflicts reports it.
func (uc *AssignmentUseCase) ResolveConflict(ctx context.Context, orgID, actorID, conflictID string, strategy types.ConflictStrategy) (*ConflictResolution, error) {
	if !strategy.IsValid() {
		return nil, goerr.Wrap(ErrValidation, "invalid conflict strategy", goerr.V("strategy", strategy))
	}
	idA, idB, err := model.ParseConflictID(conflictID)
	if err != nil {
		return nil, goerr.Wrap(ErrValidation, err.Error(), goerr.V(ConflictIDKey, conflictID))
	}

	a, err := uc.repo.Window().Get(ctx, orgID, idA)
	if err != nil {
		return nil, goerr.Wrap(asNotFound(err), "window not found", goerr.V(WindowIDKey, idA))
	}
	b, err := uc.repo.Window().Get(ctx, orgID, idB)
	if err != nil {
		return nil, goerr.Wrap(asNotFound(err), "window not found", goerr.V(WindowIDKey, idB))
	}

	c := model.NewConflict(a, b)
	if c == nil || c.ID != conflictID {
		return nil, goerr.Wrap(ErrNotFound, "conflict not found", goerr.V(ConflictIDKey, conflictID))
	}

	now := uc.clock()
	result := &ConflictResolution{
		ConflictID: conflictID,
		Strategy:   strategy,
		Updated:    []*model.AssignmentWindow{},
		Deleted:    []string{},
	}
	var mutation model.WindowMutation
	mutation.ExpectVersion(c.WindowA)
	mutation.ExpectVersion(c.WindowB)

	switch strategy {
	case types.ConflictStrategyKeepA:
		mutation.Deletes = []string{c.WindowB.ID}
	case types.ConflictStrategyKeepB:
		mutation.Deletes = []string{c.WindowA.ID}
	case types.ConflictStrategySplit:
		trimmedA := *c.WindowA
		trimmedA.EndsAt = c.OverlapStart
		trimmedA.UpdatedAt = now
		trimmedB := *c.WindowB
		trimmedB.StartsAt = c.OverlapEnd
		trimmedB.UpdatedAt = now
		if !trimmedA.StartsAt.Before(trimmedA.EndsAt) || !trimmedB.StartsAt.Before(trimmedB.EndsAt) {
			return nil, goerr.Wrap(ErrValidation, "split would leave an empty window",
				goerr.V(ConflictIDKey, conflictID))
		}
		mutation.Updates = []*model.AssignmentWindow{&trimmedA, &trimmedB}
	}

	if err := uc.repo.Window().Apply(ctx, orgID, mutation); err != nil {
		switch {
		case errors.Is(err, interfaces.ErrNotFound):
			return nil, goerr.Wrap(asNotFound(err), "conflict changed concurrently", goerr.V(ConflictIDKey, conflictID))
		case errors.Is(err, interfaces.ErrStaleWrite):
			return nil, goerr.Wrap(ErrConflict, "window was updated while resolving the conflict",
				goerr.V(ConflictIDKey, conflictID), goerr.V("cause", err.Error()))
		}
		return nil, goerr.Wrap(err, "failed to resolve conflict", goerr.V(ConflictIDKey, conflictID))
	}
	result.Updated = append(result.Updated, mutation.Updates...)
	result.Deleted = append(result.Deleted, mutation.Deletes...)

	uc.audit.record(ctx, &model.AuditEvent{
		OrgID:      orgID,
		ActorType:  types.ActorTypeOwner,
		ActorID:    actorID,
		EntityType: model.EntityThread,
		EntityID:   c.ThreadID,
		EventType:  model.EventConflictResolved,
		CorrelationIDs: map[string]string{
			"threadId":  c.ThreadID,
			"windowAId": c.WindowA.ID,
			"windowBId": c.WindowB.ID,
		},
		Payload: map[string]any{
			"conflictId":   conflictID,
			"strategy":     string(strategy),
			"windowAId":    c.WindowA.ID,
			"windowBId":    c.WindowB.ID,
			"overlapStart": c.OverlapStart.Format(time.RFC3339),
			"overlapEnd":   c.OverlapEnd.Format(time.RFC3339),
		},
	})

	return result, nil
}

// checkOverlap rejects w when it intersects another window of its thread.
func (uc *AssignmentUseCase) checkOverlap(ctx context.Context, orgID string, w *model.AssignmentWindow) error {
	existing, err := uc.repo.Window().List(ctx, orgID, interfaces.WindowQuery{
		ThreadID: w.ThreadID,
		From:     &w.StartsAt,
		To:       &w.EndsAt,
	})
	if err != nil {
		return goerr.Wrap(err, "failed to list windows", goerr.V(ThreadIDKey, w.ThreadID))
	}

	for _, other := range existing {
		if other.ID == w.ID {
			continue
		}
		if _, _, ok := model.Overlap(w, other); ok {
			return goerr.Wrap(ErrConflict, "window overlaps an existing window",
				goerr.V(ThreadIDKey, w.ThreadID), goerr.V(WindowIDKey, other.ID))
		}
	}
	return nil
}

func (uc *AssignmentUseCase) recordWindowEvent(ctx context.Context, orgID, actorID, eventType string, w *model.AssignmentWindow) {
	uc.audit.record(ctx, &model.AuditEvent{
		OrgID:      orgID,
		ActorType:  types.ActorTypeOwner,
		ActorID:    actorID,
		EntityType: model.EntityWindow,
		EntityID:   w.ID,
		EventType:  eventType,
		CorrelationIDs: map[string]string{
			"threadId": w.ThreadID,
			"sitterId": w.SitterID,
		},
		Payload: map[string]any{
			"startsAt":   w.StartsAt.Format(time.RFC3339),
			"endsAt":     w.EndsAt.Format(time.RFC3339),
			"bookingRef": w.BookingRef,
		},
	})
}
