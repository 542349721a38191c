package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/utils/logging"
)

// Error codes recorded for failures that never reached the provider's answer.
const (
	ErrorCodeTimeout     = "TIMEOUT"
	ErrorCodeSendFailed  = "SEND_FAILED"
	ErrorCodeNoRecipient = "NO_RECIPIENT"
)

// sender calls the provider under a bounded timeout and folds transport
// failures into a failed outcome.
type sender struct {
	provider interfaces.Provider
	timeout  time.Duration
}

func (s *sender) send(ctx context.Context, to, from, body string) *model.SendOutcome {
	if s.provider == nil {
		return &model.SendOutcome{ErrorCode: ErrorCodeSendFailed, ErrorMessage: "no provider configured"}
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	outcome, err := s.provider.SendMessage(sendCtx, to, from, body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
			return &model.SendOutcome{ErrorCode: ErrorCodeTimeout, ErrorMessage: "provider did not answer in time"}
		}
		logging.From(ctx).Warn("provider send failed", "error", err.Error())
		return &model.SendOutcome{ErrorCode: ErrorCodeSendFailed, ErrorMessage: err.Error()}
	}
	if outcome == nil {
		return &model.SendOutcome{ErrorCode: ErrorCodeSendFailed, ErrorMessage: "empty provider response"}
	}
	return outcome
}

// recipient resolves the send addresses of a thread: the client's primary
// contact, else its first contact, and the thread's number.
func recipient(ctx context.Context, repo interfaces.Repository, thread *model.Thread) (to, from string, err error) {
	contacts, err := repo.Contact().ListByClient(ctx, thread.OrgID, thread.ClientID)
	if err != nil {
		return "", "", goerr.Wrap(err, "failed to list contacts", goerr.V(ThreadIDKey, thread.ID))
	}
	if len(contacts) == 0 {
		return "", "", goerr.Wrap(ErrValidation, "client has no contact number",
			goerr.V(ThreadIDKey, thread.ID), goerr.V("client_id", thread.ClientID))
	}

	number, err := repo.Number().Get(ctx, thread.OrgID, thread.NumberID)
	if err != nil {
		return "", "", goerr.Wrap(asNotFound(err), "thread number not found",
			goerr.V(ThreadIDKey, thread.ID), goerr.V("number_id", thread.NumberID))
	}

	return contacts[0].E164, number.E164, nil
}
