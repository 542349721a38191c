package http

import (
	"time"

	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
	"github.com/snoutos/switchboard/pkg/usecase"
)

type windowResponse struct {
	ID         string             `json:"id"`
	ThreadID   string             `json:"threadId"`
	SitterID   string             `json:"sitterId"`
	StartsAt   time.Time          `json:"startsAt"`
	EndsAt     time.Time          `json:"endsAt"`
	BookingRef string             `json:"bookingRef,omitempty"`
	Status     types.WindowStatus `json:"status,omitempty"`
	CreatedAt  time.Time          `json:"createdAt"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}

func toWindowResponse(w *model.AssignmentWindow, status types.WindowStatus) windowResponse {
	return windowResponse{
		ID:         w.ID,
		ThreadID:   w.ThreadID,
		SitterID:   w.SitterID,
		StartsAt:   w.StartsAt,
		EndsAt:     w.EndsAt,
		BookingRef: w.BookingRef,
		Status:     status,
		CreatedAt:  w.CreatedAt,
		UpdatedAt:  w.UpdatedAt,
	}
}

func toWindowViews(views []*usecase.WindowView) []windowResponse {
	resp := make([]windowResponse, len(views))
	for i, v := range views {
		resp[i] = toWindowResponse(v.Window, v.Status)
	}
	return resp
}

type overrideResponse struct {
	ID         string              `json:"id"`
	ThreadID   string              `json:"threadId"`
	TargetType types.RoutingTarget `json:"targetType"`
	TargetID   string              `json:"targetId,omitempty"`
	StartsAt   time.Time           `json:"startsAt"`
	EndsAt     *time.Time          `json:"endsAt,omitempty"`
	Reason     string              `json:"reason,omitempty"`
	CreatedBy  string              `json:"createdBy"`
	CreatedAt  time.Time           `json:"createdAt"`
	RemovedAt  *time.Time          `json:"removedAt,omitempty"`
}

func toOverrideResponse(o *model.RoutingOverride) overrideResponse {
	return overrideResponse{
		ID:         o.ID,
		ThreadID:   o.ThreadID,
		TargetType: o.TargetType,
		TargetID:   o.TargetID,
		StartsAt:   o.StartsAt,
		EndsAt:     o.EndsAt,
		Reason:     o.Reason,
		CreatedBy:  o.CreatedBy,
		CreatedAt:  o.CreatedAt,
		RemovedAt:  o.RemovedAt,
	}
}

type conflictResponse struct {
	ID           string         `json:"id"`
	ThreadID     string         `json:"threadId"`
	WindowA      windowResponse `json:"windowA"`
	WindowB      windowResponse `json:"windowB"`
	OverlapStart time.Time      `json:"overlapStart"`
	OverlapEnd   time.Time      `json:"overlapEnd"`
}

func toConflictResponse(c *model.Conflict) conflictResponse {
	return conflictResponse{
		ID:           c.ID,
		ThreadID:     c.ThreadID,
		WindowA:      toWindowResponse(c.WindowA, ""),
		WindowB:      toWindowResponse(c.WindowB, ""),
		OverlapStart: c.OverlapStart,
		OverlapEnd:   c.OverlapEnd,
	}
}

type conflictResolutionResponse struct {
	ConflictID string                 `json:"conflictId"`
	Strategy   types.ConflictStrategy `json:"strategy"`
	Updated    []windowResponse       `json:"updated"`
	Deleted    []string               `json:"deleted"`
}

func toConflictResolutionResponse(r *usecase.ConflictResolution) conflictResolutionResponse {
	resp := conflictResolutionResponse{
		ConflictID: r.ConflictID,
		Strategy:   r.Strategy,
		Updated:    make([]windowResponse, len(r.Updated)),
		Deleted:    r.Deleted,
	}
	for i, w := range r.Updated {
		resp.Updated[i] = toWindowResponse(w, "")
	}
	if resp.Deleted == nil {
		resp.Deleted = []string{}
	}
	return resp
}

type sendResponse struct {
	MessageID          string   `json:"messageId"`
	ProviderMessageSID string   `json:"providerMessageSid,omitempty"`
	HasPolicyViolation bool     `json:"hasPolicyViolation"`
	Warnings           []string `json:"warnings,omitempty"`
	Error              string   `json:"error,omitempty"`
}

type deliveryResponse struct {
	ID                   string               `json:"id"`
	MessageID            string               `json:"messageId"`
	AttemptNo            int                  `json:"attemptNo"`
	Status               types.DeliveryStatus `json:"status"`
	ProviderMessageSID   string               `json:"providerMessageSid,omitempty"`
	ProviderErrorCode    string               `json:"providerErrorCode,omitempty"`
	ProviderErrorMessage string               `json:"providerErrorMessage,omitempty"`
	CreatedAt            time.Time            `json:"createdAt"`
}

func toDeliveryResponse(d *model.MessageDelivery) deliveryResponse {
	return deliveryResponse{
		ID:                   d.ID,
		MessageID:            d.MessageID,
		AttemptNo:            d.AttemptNo,
		Status:               d.Status,
		ProviderMessageSID:   d.ProviderMessageSID,
		ProviderErrorCode:    d.ProviderErrorCode,
		ProviderErrorMessage: d.ProviderErrorMessage,
		CreatedAt:            d.CreatedAt,
	}
}

type alertResponse struct {
	ID          string              `json:"id"`
	Severity    types.AlertSeverity `json:"severity"`
	Type        string              `json:"type"`
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	EntityType  string              `json:"entityType"`
	EntityID    string              `json:"entityId"`
	Status      types.ReviewStatus  `json:"status"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
	ResolvedAt  *time.Time          `json:"resolvedAt,omitempty"`
	ResolvedBy  string              `json:"resolvedBy,omitempty"`
}

func toAlertResponse(a *model.Alert) alertResponse {
	return alertResponse{
		ID:          a.ID,
		Severity:    a.Severity,
		Type:        a.Type,
		Title:       a.Title,
		Description: a.Description,
		EntityType:  a.EntityType,
		EntityID:    a.EntityID,
		Status:      a.Status,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
		ResolvedAt:  a.ResolvedAt,
		ResolvedBy:  a.ResolvedBy,
	}
}

// violationResponse never carries the raw detected content, only the
// redacted form.
type violationResponse struct {
	ID               string                `json:"id"`
	ThreadID         string                `json:"threadId"`
	MessageID        string                `json:"messageId,omitempty"`
	Type             types.ViolationType   `json:"type"`
	DetectedSummary  string                `json:"detectedSummary"`
	DetectedRedacted string                `json:"detectedRedacted"`
	ActionTaken      types.ViolationAction `json:"actionTaken"`
	Status           types.ReviewStatus    `json:"status"`
	ReviewedBy       string                `json:"reviewedBy,omitempty"`
	ReviewedAt       *time.Time            `json:"reviewedAt,omitempty"`
	CreatedAt        time.Time             `json:"createdAt"`
}

func toViolationResponse(v *model.PolicyViolation) violationResponse {
	return violationResponse{
		ID:               v.ID,
		ThreadID:         v.ThreadID,
		MessageID:        v.MessageID,
		Type:             v.Type,
		DetectedSummary:  v.DetectedSummary,
		DetectedRedacted: v.DetectedRedacted,
		ActionTaken:      v.ActionTaken,
		Status:           v.Status,
		ReviewedBy:       v.ReviewedBy,
		ReviewedAt:       v.ReviewedAt,
		CreatedAt:        v.CreatedAt,
	}
}

func mapSlice[T, R any](items []T, fn func(T) R) []R {
	resp := make([]R, len(items))
	for i, item := range items {
		resp[i] = fn(item)
	}
	return resp
}
