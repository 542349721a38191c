// Package provider holds the SMS carrier integrations.
package provider

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"regexp"
	"sort"

	"github.com/m-mizutani/goerr/v2"
	twilioclient "github.com/twilio/twilio-go/client"
)

// Error codes reported in a failed SendOutcome.
const (
	ErrorCodeSendFailed    = "SEND_FAILED"
	ErrorCodeInvalidNumber = "INVALID_NUMBER"
	ErrorCodeUnknownFrom   = "UNKNOWN_FROM_NUMBER"
)

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// IsE164 reports whether s is an E.164 phone number.
func IsE164(s string) bool {
	return e164Pattern.MatchString(s)
}

// verifySignature checks a Twilio style X-Twilio-Signature: HMAC-SHA1 over the
// request URL followed by the sorted form parameters.
func verifySignature(validator *twilioclient.RequestValidator, rawBody []byte, signature, requestURL string) (bool, error) {
	values, err := url.ParseQuery(string(rawBody))
	if err != nil {
		return false, goerr.Wrap(err, "failed to parse webhook form body")
	}

	params := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}

	return validator.Validate(requestURL, params, signature), nil
}

// SignWebhook computes the signature a provider sends with a webhook posted to
// requestURL with the given form. Local tools use it to post signed requests.
func SignWebhook(authToken, requestURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := []byte(requestURL)
	for _, k := range keys {
		buf = append(buf, k...)
		buf = append(buf, form.Get(k)...)
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write(buf)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
