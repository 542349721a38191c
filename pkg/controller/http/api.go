package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/types"
	"github.com/snoutos/switchboard/pkg/usecase"
	"github.com/snoutos/switchboard/pkg/utils/errutil"
	"github.com/snoutos/switchboard/pkg/utils/logging"
	"github.com/snoutos/switchboard/pkg/utils/safe"
)

const defaultHistoryLimit = 20

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		errutil.HandleHTTP(ctx, w, goerr.Wrap(err, "failed to marshal response"), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	safe.Write(ctx, w, data)
}

// writeError maps use case errors to status codes. A policy block only ever
// exposes the fixed user-facing message.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, usecase.ErrPolicyBlocked):
		logging.From(ctx).Info("message blocked by contact policy")
		http.Error(w, usecase.PolicyBlockedMessage, http.StatusForbidden)
	case errors.Is(err, usecase.ErrForbidden):
		errutil.HandleHTTP(ctx, w, err, http.StatusForbidden)
	case errors.Is(err, usecase.ErrValidation):
		errutil.HandleHTTP(ctx, w, err, http.StatusBadRequest)
	case errors.Is(err, usecase.ErrNotFound):
		errutil.HandleHTTP(ctx, w, err, http.StatusNotFound)
	case errors.Is(err, usecase.ErrConflict):
		errutil.HandleHTTP(ctx, w, err, http.StatusConflict)
	case errors.Is(err, usecase.ErrProvider):
		errutil.HandleHTTP(ctx, w, err, http.StatusBadGateway)
	default:
		errutil.HandleHTTP(ctx, w, err, http.StatusInternalServerError)
	}
}

func decodeJSON(r *http.Request, dst any) error {
	defer safe.Close(r.Context(), r.Body)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return goerr.Wrap(usecase.ErrValidation, "invalid JSON body", goerr.V("cause", err.Error()))
	}
	return nil
}

func queryTime(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, goerr.Wrap(usecase.ErrValidation, "invalid time parameter", goerr.V("param", key), goerr.V("value", v))
	}
	return &t, nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, goerr.Wrap(usecase.ErrValidation, "invalid integer parameter", goerr.V("param", key), goerr.V("value", v))
	}
	return n, nil
}

func queryReviewStatus(r *http.Request) (types.ReviewStatus, error) {
	v := r.URL.Query().Get("status")
	if v == "" {
		return "", nil
	}
	status, err := types.ParseReviewStatus(v)
	if err != nil {
		return "", goerr.Wrap(usecase.ErrValidation, err.Error())
	}
	return status, nil
}

func parseDirection(v string) (types.Direction, error) {
	if v == "" {
		return types.DirectionInbound, nil
	}
	d, err := types.ParseDirection(v)
	if err != nil {
		return "", goerr.Wrap(usecase.ErrValidation, err.Error())
	}
	return d, nil
}

// Routing

func (s *Server) listRoutingRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, s.uc.Routing.Rules())
}

func (s *Server) simulateRouting(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ts, err := queryTime(r, "at")
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	at := time.Now().UTC()
	if ts != nil {
		at = *ts
	}
	direction, err := parseDirection(r.URL.Query().Get("direction"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	decision, err := s.uc.Routing.Simulate(ctx, chi.URLParam(r, "orgID"), chi.URLParam(r, "threadID"), at, direction)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, decision)
}

func (s *Server) evaluateRouting(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		At        *time.Time `json:"at"`
		Direction string     `json:"direction"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	at := time.Now().UTC()
	if req.At != nil {
		at = *req.At
	}
	direction, err := parseDirection(req.Direction)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	decision, err := s.uc.Routing.Evaluate(ctx, chi.URLParam(r, "orgID"), chi.URLParam(r, "threadID"), at, direction)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, decision)
}

func (s *Server) routingHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, err := queryInt(r, "limit", defaultHistoryLimit)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	decisions, err := s.uc.Routing.History(ctx, chi.URLParam(r, "orgID"), chi.URLParam(r, "threadID"), limit)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, decisions)
}

// Messages

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Body       string `json:"body"`
		SenderType string `json:"senderType"`
		ForceSend  bool   `json:"forceSend"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	senderType := types.SenderTypeOwner
	if req.SenderType != "" {
		st, err := types.ParseSenderType(req.SenderType)
		if err != nil {
			writeError(ctx, w, goerr.Wrap(usecase.ErrValidation, err.Error()))
			return
		}
		senderType = st
	}

	result, err := s.uc.Outbound.Send(ctx, usecase.SendInput{
		OrgID:      chi.URLParam(r, "orgID"),
		ThreadID:   chi.URLParam(r, "threadID"),
		Body:       req.Body,
		SenderType: senderType,
		SenderID:   actorFromContext(ctx),
		ForceSend:  req.ForceSend,
	})

	// A provider failure still created the message; report it with the
	// result so the caller can follow the retry.
	if err != nil && result != nil && errors.Is(err, usecase.ErrProvider) {
		_ = errutil.Handle(ctx, err, "outbound send failed at provider")
		writeJSON(ctx, w, http.StatusBadGateway, sendResponse{
			MessageID:          result.MessageID,
			HasPolicyViolation: result.HasPolicyViolation,
			Warnings:           result.Warnings,
			Error:              "provider rejected the message; a retry is scheduled",
		})
		return
	}
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusCreated, sendResponse{
		MessageID:          result.MessageID,
		ProviderMessageSID: result.ProviderMessageSID,
		HasPolicyViolation: result.HasPolicyViolation,
		Warnings:           result.Warnings,
	})
}

func (s *Server) retryMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	d, err := s.uc.Retry.RetryNow(ctx, chi.URLParam(r, "orgID"), chi.URLParam(r, "messageID"), actorFromContext(ctx))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, toDeliveryResponse(d))
}

func (s *Server) ignoreMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.uc.Retry.Ignore(ctx, chi.URLParam(r, "orgID"), chi.URLParam(r, "messageID"), actorFromContext(ctx)); err != nil {
		writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Overrides

func (s *Server) listOverrides(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	activeOnly := r.URL.Query().Get("active") == "true"
	overrides, err := s.uc.Routing.ListOverrides(ctx, chi.URLParam(r, "orgID"), chi.URLParam(r, "threadID"), activeOnly)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, mapSlice(overrides, toOverrideResponse))
}

func (s *Server) createOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		TargetType    string     `json:"targetType"`
		TargetID      string     `json:"targetId"`
		StartsAt      *time.Time `json:"startsAt"`
		EndsAt        *time.Time `json:"endsAt"`
		DurationHours float64    `json:"durationHours"`
		Reason        string     `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}

	o, err := s.uc.Routing.CreateOverride(ctx, chi.URLParam(r, "orgID"), actorFromContext(ctx), usecase.OverrideInput{
		ThreadID:      chi.URLParam(r, "threadID"),
		TargetType:    types.RoutingTarget(req.TargetType),
		TargetID:      req.TargetID,
		StartsAt:      req.StartsAt,
		EndsAt:        req.EndsAt,
		DurationHours: req.DurationHours,
		Reason:        req.Reason,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, toOverrideResponse(o))
}

func (s *Server) removeOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	o, err := s.uc.Routing.RemoveOverride(ctx, chi.URLParam(r, "orgID"), actorFromContext(ctx), chi.URLParam(r, "overrideID"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, toOverrideResponse(o))
}

// Assignment windows

type windowRequest struct {
	ThreadID   string     `json:"threadId"`
	SitterID   *string    `json:"sitterId"`
	StartsAt   *time.Time `json:"startsAt"`
	EndsAt     *time.Time `json:"endsAt"`
	BookingRef *string    `json:"bookingRef"`
}

func (s *Server) listWindows(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	from, err := queryTime(r, "from")
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	views, err := s.uc.Assignment.ListWindows(ctx, chi.URLParam(r, "orgID"), usecase.WindowFilter{
		ThreadID: q.Get("threadId"),
		SitterID: q.Get("sitterId"),
		Status:   types.WindowStatus(q.Get("status")),
		From:     from,
		To:       to,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, toWindowViews(views))
}

func (s *Server) createWindow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req windowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	if req.SitterID == nil || req.StartsAt == nil || req.EndsAt == nil {
		writeError(ctx, w, goerr.Wrap(usecase.ErrValidation, "sitterId, startsAt and endsAt are required"))
		return
	}
	in := usecase.WindowInput{
		ThreadID: req.ThreadID,
		SitterID: *req.SitterID,
		StartsAt: *req.StartsAt,
		EndsAt:   *req.EndsAt,
	}
	if req.BookingRef != nil {
		in.BookingRef = *req.BookingRef
	}

	window, err := s.uc.Assignment.CreateWindow(ctx, chi.URLParam(r, "orgID"), actorFromContext(ctx), in)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, toWindowResponse(window, ""))
}

func (s *Server) getWindow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	view, err := s.uc.Assignment.GetWindow(ctx, chi.URLParam(r, "orgID"), chi.URLParam(r, "windowID"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, toWindowResponse(view.Window, view.Status))
}

func (s *Server) updateWindow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req windowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}

	window, err := s.uc.Assignment.UpdateWindow(ctx, chi.URLParam(r, "orgID"), actorFromContext(ctx), chi.URLParam(r, "windowID"), usecase.WindowPatch{
		SitterID:   req.SitterID,
		StartsAt:   req.StartsAt,
		EndsAt:     req.EndsAt,
		BookingRef: req.BookingRef,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, toWindowResponse(window, ""))
}

func (s *Server) deleteWindow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.uc.Assignment.DeleteWindow(ctx, chi.URLParam(r, "orgID"), actorFromContext(ctx), chi.URLParam(r, "windowID")); err != nil {
		writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listConflicts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conflicts, err := s.uc.Assignment.ListConflicts(ctx, chi.URLParam(r, "orgID"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, mapSlice(conflicts, toConflictResponse))
}

func (s *Server) resolveConflict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Strategy string `json:"strategy"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}

	res, err := s.uc.Assignment.ResolveConflict(ctx, chi.URLParam(r, "orgID"), actorFromContext(ctx),
		chi.URLParam(r, "conflictID"), types.ConflictStrategy(req.Strategy))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, toConflictResolutionResponse(res))
}

// Alerts and policy violations

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	status, err := queryReviewStatus(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	alerts, err := s.uc.Alert.List(ctx, chi.URLParam(r, "orgID"), interfaces.AlertQuery{
		Severity: types.AlertSeverity(q.Get("severity")),
		Type:     q.Get("type"),
		Status:   status,
		Limit:    limit,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, mapSlice(alerts, toAlertResponse))
}

func (s *Server) resolveAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	alert, err := s.uc.Alert.Resolve(ctx, chi.URLParam(r, "orgID"), chi.URLParam(r, "alertID"), actorFromContext(ctx))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, toAlertResponse(alert))
}

func (s *Server) dismissAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	alert, err := s.uc.Alert.Dismiss(ctx, chi.URLParam(r, "orgID"), chi.URLParam(r, "alertID"), actorFromContext(ctx))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, toAlertResponse(alert))
}

func (s *Server) listViolations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	status, err := queryReviewStatus(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	violations, err := s.uc.Policy.List(ctx, chi.URLParam(r, "orgID"), interfaces.ViolationQuery{
		ThreadID:  q.Get("threadId"),
		MessageID: q.Get("messageId"),
		Type:      types.ViolationType(q.Get("type")),
		Status:    status,
		Limit:     limit,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, mapSlice(violations, toViolationResponse))
}

func (s *Server) resolveViolation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	v, err := s.uc.Policy.Resolve(ctx, chi.URLParam(r, "orgID"), chi.URLParam(r, "violationID"), actorFromContext(ctx))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, toViolationResponse(v))
}

func (s *Server) dismissViolation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	v, err := s.uc.Policy.Dismiss(ctx, chi.URLParam(r, "orgID"), chi.URLParam(r, "violationID"), actorFromContext(ctx))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, toViolationResponse(v))
}
