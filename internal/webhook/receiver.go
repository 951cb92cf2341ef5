// Package webhook verifies and decodes identity provider webhook deliveries.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	svix "github.com/svix/svix-webhooks/go"
)

const (
	HeaderMessageID = "svix-id"
	HeaderTimestamp = "svix-timestamp"
	HeaderSignature = "svix-signature"
)

var (
	// ErrConfiguration indicates the signing secret is missing or unusable.
	ErrConfiguration = errors.New("webhook: signing secret not configured")
	// ErrMissingHeaders indicates one of the signature headers is absent.
	ErrMissingHeaders = errors.New("webhook: missing signature headers")
	// ErrSignatureInvalid indicates the payload does not match its signature.
	ErrSignatureInvalid = errors.New("webhook: signature invalid")
	// ErrMalformedPayload indicates a verified body that is not a provider event.
	ErrMalformedPayload = errors.New("webhook: malformed payload")
)

// Verifier checks a payload against its signature headers.
type Verifier interface {
	Verify(payload []byte, headers http.Header) error
}

// ReceiverConfig configures a Receiver.
type ReceiverConfig struct {
	SigningSecret string
	// Verifier overrides the svix verifier built from SigningSecret.
	Verifier Verifier
}

// Receiver authenticates deliveries and turns them into Events.
type Receiver struct {
	verifier Verifier
	setupErr error
}

// NewReceiver builds a Receiver. A missing or malformed secret is not fatal here;
// every Receive call then reports ErrConfiguration.
func NewReceiver(cfg ReceiverConfig) *Receiver {
	if cfg.Verifier != nil {
		return &Receiver{verifier: cfg.Verifier}
	}
	secret := strings.TrimSpace(cfg.SigningSecret)
	if secret == "" {
		return &Receiver{setupErr: ErrConfiguration}
	}
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return &Receiver{setupErr: fmt.Errorf("%w: %v", ErrConfiguration, err)}
	}
	return &Receiver{verifier: wh}
}

// Receive verifies the delivery and decodes it. Unknown event types return an
// Event of kind EventUnhandled and a nil error.
func (r *Receiver) Receive(headers http.Header, body []byte) (Event, error) {
	if r == nil || r.verifier == nil {
		if r != nil && r.setupErr != nil {
			return Event{}, r.setupErr
		}
		return Event{}, ErrConfiguration
	}

	messageID := strings.TrimSpace(headers.Get(HeaderMessageID))
	if messageID == "" ||
		strings.TrimSpace(headers.Get(HeaderTimestamp)) == "" ||
		strings.TrimSpace(headers.Get(HeaderSignature)) == "" {
		return Event{}, ErrMissingHeaders
	}

	if err := r.verifier.Verify(body, headers); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	return decode(messageID, body)
}

func decode(messageID string, body []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedPayload)
	}

	event := Event{
		ID:   messageID,
		Type: env.Type,
		Kind: kindFromType(env.Type),
		Raw:  json.RawMessage(append([]byte(nil), body...)),
	}
	if !event.Handled() {
		return event, nil
	}

	var data userData
	if len(env.Data) == 0 || json.Unmarshal(env.Data, &data) != nil {
		return Event{}, fmt.Errorf("%w: data is not a user object", ErrMalformedPayload)
	}
	event.ExternalID = strings.TrimSpace(data.ID)
	event.PrimaryEmail = data.primaryEmail()
	event.DisplayName = data.displayName()
	event.AvatarURL = strings.TrimSpace(data.ImageURL)
	return event, nil
}
