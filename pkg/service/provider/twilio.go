package provider

import (
	"context"
	"errors"
	"strconv"

	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
	"github.com/snoutos/switchboard/pkg/utils/logging"
	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// twilioErrors maps Twilio error codes to operator facing messages.
var twilioErrors = map[int]string{
	20003: "authentication failed",
	21211: "invalid 'To' number",
	21608: "unverified number (trial)",
	21610: "recipient unsubscribed",
	21614: "'To' number is not a valid mobile number",
	21617: "message body exceeds max length",
}

type Twilio struct {
	api            *openapi.ApiService
	validator      twilioclient.RequestValidator
	statusCallback string
}

var _ interfaces.Provider = &Twilio{}

type TwilioOption func(*Twilio)

// WithStatusCallback sets the URL Twilio posts delivery status callbacks to.
func WithStatusCallback(url string) TwilioOption {
	return func(t *Twilio) {
		t.statusCallback = url
	}
}

func NewTwilio(accountSID, authToken string, opts ...TwilioOption) (*Twilio, error) {
	if accountSID == "" || authToken == "" {
		return nil, goerr.New("Twilio account SID and auth token are required")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})

	t := &Twilio{
		api:       client.Api,
		validator: twilioclient.NewRequestValidator(authToken),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// SendMessage creates a message through the Twilio REST API. Carrier
// rejections are returned as a failed outcome.
func (t *Twilio) SendMessage(ctx context.Context, to, from, body string) (*model.SendOutcome, error) {
	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetBody(body)
	if t.statusCallback != "" {
		params.SetStatusCallback(t.statusCallback)
	}

	type result struct {
		msg *openapi.ApiV2010Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := t.api.CreateMessage(params)
		done <- result{msg: msg, err: err}
	}()

	var r result
	select {
	case <-ctx.Done():
		return nil, goerr.Wrap(ctx.Err(), "Twilio send did not complete")
	case r = <-done:
	}

	if r.err != nil {
		if outcome := translateError(r.err); outcome != nil {
			logging.From(ctx).Warn("Twilio rejected message",
				"code", outcome.ErrorCode, "message", outcome.ErrorMessage)
			return outcome, nil
		}
		return nil, goerr.Wrap(r.err, "failed to call Twilio")
	}
	if r.msg == nil || r.msg.Sid == nil {
		return &model.SendOutcome{ErrorCode: ErrorCodeSendFailed, ErrorMessage: "Twilio returned no message SID"}, nil
	}

	return &model.SendOutcome{Success: true, MessageSID: *r.msg.Sid}, nil
}

func (t *Twilio) VerifyWebhook(ctx context.Context, rawBody []byte, signature, url string) (bool, error) {
	return verifySignature(&t.validator, rawBody, signature, url)
}

func (t *Twilio) GetDeliveryStatus(ctx context.Context, sid string) (types.DeliveryStatus, error) {
	msg, err := t.api.FetchMessage(sid, &openapi.FetchMessageParams{})
	if err != nil {
		return "", goerr.Wrap(err, "failed to fetch Twilio message", goerr.V("sid", sid))
	}
	if msg.Status == nil {
		return "", goerr.New("Twilio message has no status", goerr.V("sid", sid))
	}
	return types.MapProviderStatus(*msg.Status), nil
}

// translateError converts a Twilio REST error into a failed outcome. Other
// errors are transport failures and yield nil.
func translateError(err error) *model.SendOutcome {
	var restErr *twilioclient.TwilioRestError
	if !errors.As(err, &restErr) {
		return nil
	}

	if msg, ok := twilioErrors[restErr.Code]; ok {
		return &model.SendOutcome{
			ErrorCode:    strconv.Itoa(restErr.Code),
			ErrorMessage: msg,
		}
	}
	return &model.SendOutcome{
		ErrorCode:    ErrorCodeSendFailed,
		ErrorMessage: restErr.Message,
	}
}
