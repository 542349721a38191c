package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
)

// Reasons an inbound message stays unmapped.
const (
	UnmappedUnknownSender      = "sender is not a known client contact"
	UnmappedNoPoolThread       = "no active pool thread for sender"
	UnmappedNoAssignmentThread = "no active assignment thread for sender"
)

type ResolverUseCase struct {
	repo  interfaces.Repository
	clock func() time.Time
}

func newResolverUseCase(repo interfaces.Repository, clock func() time.Time) *ResolverUseCase {
	return &ResolverUseCase{
		repo:  repo,
		clock: clock,
	}
}

// Resolve maps a message between externalE164 and the business number to a
// thread. Only front desk numbers create threads; pool and sitter numbers
// route to existing threads or stay unmapped.
func (uc *ResolverUseCase) Resolve(ctx context.Context, orgID, numberID, externalE164 string, class types.NumberClass) (*model.Resolution, error) {
	contact, err := uc.repo.Contact().FindByE164(ctx, orgID, externalE164)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return &model.Resolution{Unmapped: true, Reason: UnmappedUnknownSender}, nil
		}
		return nil, goerr.Wrap(err, "failed to find contact", goerr.V(OrgIDKey, orgID))
	}

	q := model.ThreadQuery{NumberID: numberID, ClientID: contact.ClientID}

	switch class {
	case types.NumberClassPool:
		q.ThreadType = types.ThreadTypePool
		return uc.findExisting(ctx, orgID, q, UnmappedNoPoolThread)

	case types.NumberClassSitter:
		q.ThreadType = types.ThreadTypeAssignment
		return uc.findExisting(ctx, orgID, q, UnmappedNoAssignmentThread)

	case types.NumberClassFrontDesk:
		q.ThreadType = types.ThreadTypeFrontDesk
		thread, _, err := uc.repo.Thread().FindOrCreate(ctx, orgID, q, uc.clock())
		if err != nil {
			return nil, goerr.Wrap(err, "failed to find or create front desk thread", goerr.V("number_id", numberID))
		}
		return &model.Resolution{Thread: thread}, nil

	default:
		return nil, goerr.Wrap(ErrValidation, "unknown number class", goerr.V("class", class))
	}
}

func (uc *ResolverUseCase) findExisting(ctx context.Context, orgID string, q model.ThreadQuery, unmappedReason string) (*model.Resolution, error) {
	thread, err := uc.repo.Thread().FindActive(ctx, orgID, q)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return &model.Resolution{Unmapped: true, Reason: unmappedReason}, nil
		}
		return nil, goerr.Wrap(err, "failed to find thread", goerr.V("number_id", q.NumberID))
	}
	return &model.Resolution{Thread: thread}, nil
}
