package http

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/usecase"
	"github.com/snoutos/switchboard/pkg/utils/errutil"
	"github.com/snoutos/switchboard/pkg/utils/logging"
	"github.com/snoutos/switchboard/pkg/utils/safe"
	"github.com/twilio/twilio-go/twiml"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const webhookKey contextKey = "twilio_webhook"

const twilioSignatureHeader = "X-Twilio-Signature"

// Replies sent back to the texter. Failures still answer 200 so the provider
// does not redeliver a message that can never be accepted.
const (
	replyUnverified = "We couldn't verify this message. Please contact support."
	replyUnmatched  = "We couldn't match this message. Please contact support."
)

// webhookRequest is what signature verification needs from a provider
// request.
type webhookRequest struct {
	rawBody   []byte
	signature string
	url       string
}

func webhookFromContext(ctx context.Context) webhookRequest {
	if v, ok := ctx.Value(webhookKey).(webhookRequest); ok {
		return v
	}
	return webhookRequest{}
}

// twilioWebhookMiddleware captures the raw body, signature and signed URL of
// a provider webhook and restores the body for form parsing. Unsigned
// requests are rejected here; the signature itself is checked by the use
// case against the provider credentials.
func twilioWebhookMiddleware(publicURL string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			body, err := io.ReadAll(r.Body)
			if err != nil {
				errutil.HandleHTTP(ctx, w, goerr.Wrap(err, "failed to read request body"), http.StatusBadRequest)
				return
			}
			safe.Close(ctx, r.Body)

			signature := r.Header.Get(twilioSignatureHeader)
			if signature == "" {
				errutil.HandleHTTP(ctx, w, goerr.New("missing webhook signature"), http.StatusForbidden)
				return
			}

			ctx = context.WithValue(ctx, webhookKey, webhookRequest{
				rawBody:   body,
				signature: signature,
				url:       signedURL(publicURL, r),
			})
			r.Body = io.NopCloser(bytes.NewBuffer(body))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// signedURL rebuilds the URL the provider posted to, which is part of the
// signed content.
func signedURL(publicURL string, r *http.Request) string {
	if publicURL != "" {
		return strings.TrimSuffix(publicURL, "/") + r.URL.RequestURI()
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		errutil.HandleHTTP(ctx, w, goerr.Wrap(err, "failed to parse webhook form"), http.StatusBadRequest)
		return
	}
	hook := webhookFromContext(ctx)

	sid := r.PostForm.Get("MessageSid")
	if sid == "" {
		sid = r.PostForm.Get("SmsSid")
	}

	result, err := s.uc.Inbound.HandleInbound(ctx, usecase.InboundPayload{
		MessageSID: sid,
		From:       r.PostForm.Get("From"),
		To:         r.PostForm.Get("To"),
		Body:       r.PostForm.Get("Body"),
		RawBody:    hook.rawBody,
		Signature:  hook.signature,
		URL:        hook.url,
	})
	switch {
	case err == nil:
		logging.From(ctx).Info("inbound webhook handled",
			"sid", sid,
			"processed", result.Processed,
			"reason", result.Reason,
			"thread_id", result.ThreadID,
		)
		writeTwiML(ctx, w, "")
	case errors.Is(err, usecase.ErrForbidden):
		logging.From(ctx).Warn("inbound webhook rejected", "sid", sid, "error", err.Error())
		writeTwiML(ctx, w, replyUnverified)
	case errors.Is(err, usecase.ErrNotFound):
		logging.From(ctx).Warn("inbound webhook for unknown number", "sid", sid, "error", err.Error())
		writeTwiML(ctx, w, replyUnmatched)
	case errors.Is(err, usecase.ErrValidation):
		errutil.HandleHTTP(ctx, w, err, http.StatusBadRequest)
	default:
		errutil.HandleHTTP(ctx, w, err, http.StatusInternalServerError)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		errutil.HandleHTTP(ctx, w, goerr.Wrap(err, "failed to parse webhook form"), http.StatusBadRequest)
		return
	}
	hook := webhookFromContext(ctx)

	result, err := s.uc.Inbound.HandleStatusCallback(ctx, usecase.StatusPayload{
		MessageSID:    r.PostForm.Get("MessageSid"),
		MessageStatus: r.PostForm.Get("MessageStatus"),
		ErrorCode:     r.PostForm.Get("ErrorCode"),
		ErrorMessage:  r.PostForm.Get("ErrorMessage"),
		RawBody:       hook.rawBody,
		Signature:     hook.signature,
		URL:           hook.url,
	})
	switch {
	case err == nil:
		logging.From(ctx).Debug("status callback handled",
			"processed", result.Processed,
			"reason", result.Reason,
		)
		writeTwiML(ctx, w, "")
	case errors.Is(err, usecase.ErrForbidden):
		errutil.HandleHTTP(ctx, w, err, http.StatusForbidden)
	case errors.Is(err, usecase.ErrValidation):
		errutil.HandleHTTP(ctx, w, err, http.StatusBadRequest)
	default:
		errutil.HandleHTTP(ctx, w, err, http.StatusInternalServerError)
	}
}

// writeTwiML answers a webhook with an empty response, or with a single
// reply message when reply is set.
func writeTwiML(ctx context.Context, w http.ResponseWriter, reply string) {
	var verbs []twiml.Element
	if reply != "" {
		verbs = append(verbs, &twiml.MessagingMessage{Body: reply})
	}

	doc, err := twiml.Messages(verbs)
	if err != nil {
		errutil.HandleHTTP(ctx, w, goerr.Wrap(err, "failed to render TwiML"), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	safe.Write(ctx, w, []byte(doc))
}
