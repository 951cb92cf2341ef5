package webhook

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	svix "github.com/svix/svix-webhooks/go"
)

var testSecret = "whsec_" + base64.StdEncoding.EncodeToString([]byte("lankaed-test-signing-secret-0001"))

const createdPayload = `{"type":"user.created","data":{"id":"ext_123","email_addresses":[{"id":"e0","email_address":"old@b.com"},{"id":"e1","email_address":"a@b.com"}],"primary_email_address_id":"e1","first_name":"Nimal","last_name":"Perera","image_url":"https://img.example/ext_123.png"}}`

func signedHeaders(t *testing.T, secret string, messageID string, payload []byte) http.Header {
	t.Helper()
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	timestamp := time.Now()
	signature, err := wh.Sign(messageID, timestamp, payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	headers := http.Header{}
	headers.Set(HeaderMessageID, messageID)
	headers.Set(HeaderTimestamp, strconv.FormatInt(timestamp.Unix(), 10))
	headers.Set(HeaderSignature, signature)
	return headers
}

func TestReceiveDecodesCreatedEvent(t *testing.T) {
	receiver := NewReceiver(ReceiverConfig{SigningSecret: testSecret})
	payload := []byte(createdPayload)

	event, err := receiver.Receive(signedHeaders(t, testSecret, "msg_1", payload), payload)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if event.Kind != EventProfileCreated || !event.Handled() {
		t.Fatalf("expected created event, got %+v", event)
	}
	if event.ID != "msg_1" || event.ExternalID != "ext_123" {
		t.Fatalf("unexpected identifiers %q/%q", event.ID, event.ExternalID)
	}
	if event.PrimaryEmail != "a@b.com" {
		t.Fatalf("expected primary email a@b.com, got %q", event.PrimaryEmail)
	}
	if event.DisplayName != "Nimal Perera" || event.AvatarURL != "https://img.example/ext_123.png" {
		t.Fatalf("unexpected presentation fields %+v", event)
	}
	if string(event.Raw) != createdPayload {
		t.Fatalf("raw payload not preserved")
	}
}

func TestReceiveErrors(t *testing.T) {
	payload := []byte(createdPayload)
	otherSecret := "whsec_" + base64.StdEncoding.EncodeToString([]byte("some-other-secret-value-00000002"))

	testCases := []struct {
		name     string
		receiver *Receiver
		headers  func(t *testing.T) http.Header
		body     []byte
		wantErr  error
	}{
		{
			name:     "missing secret",
			receiver: NewReceiver(ReceiverConfig{}),
			headers:  func(t *testing.T) http.Header { return signedHeaders(t, testSecret, "msg_2", payload) },
			body:     payload,
			wantErr:  ErrConfiguration,
		},
		{
			name:     "malformed secret",
			receiver: NewReceiver(ReceiverConfig{SigningSecret: "whsec_***not-base64***"}),
			headers:  func(t *testing.T) http.Header { return signedHeaders(t, testSecret, "msg_3", payload) },
			body:     payload,
			wantErr:  ErrConfiguration,
		},
		{
			name:     "missing signature header",
			receiver: NewReceiver(ReceiverConfig{SigningSecret: testSecret}),
			headers: func(t *testing.T) http.Header {
				headers := signedHeaders(t, testSecret, "msg_4", payload)
				headers.Del(HeaderSignature)
				return headers
			},
			body:    payload,
			wantErr: ErrMissingHeaders,
		},
		{
			name:     "missing id header",
			receiver: NewReceiver(ReceiverConfig{SigningSecret: testSecret}),
			headers: func(t *testing.T) http.Header {
				headers := signedHeaders(t, testSecret, "msg_5", payload)
				headers.Del(HeaderMessageID)
				return headers
			},
			body:    payload,
			wantErr: ErrMissingHeaders,
		},
		{
			name:     "signed with another secret",
			receiver: NewReceiver(ReceiverConfig{SigningSecret: testSecret}),
			headers:  func(t *testing.T) http.Header { return signedHeaders(t, otherSecret, "msg_6", payload) },
			body:     payload,
			wantErr:  ErrSignatureInvalid,
		},
		{
			name:     "tampered body",
			receiver: NewReceiver(ReceiverConfig{SigningSecret: testSecret}),
			headers:  func(t *testing.T) http.Header { return signedHeaders(t, testSecret, "msg_7", payload) },
			body:     []byte(`{"type":"user.created","data":{"id":"ext_999"}}`),
			wantErr:  ErrSignatureInvalid,
		},
		{
			name:     "verified but not json",
			receiver: NewReceiver(ReceiverConfig{SigningSecret: testSecret}),
			headers:  func(t *testing.T) http.Header { return signedHeaders(t, testSecret, "msg_8", []byte("not json")) },
			body:     []byte("not json"),
			wantErr:  ErrMalformedPayload,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := testCase.receiver.Receive(testCase.headers(t), testCase.body)
			if !errors.Is(err, testCase.wantErr) {
				t.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
		})
	}
}

func TestReceiveUnhandledTypeIsNotAnError(t *testing.T) {
	receiver := NewReceiver(ReceiverConfig{SigningSecret: testSecret})
	payload := []byte(`{"type":"session.created","data":{"id":"sess_1"}}`)

	event, err := receiver.Receive(signedHeaders(t, testSecret, "msg_9", payload), payload)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if event.Kind != EventUnhandled || event.Handled() {
		t.Fatalf("expected unhandled event, got %+v", event)
	}
	if event.Type != "session.created" {
		t.Fatalf("expected original type preserved, got %q", event.Type)
	}
}

func TestReceiveDeletedEventWithoutEmail(t *testing.T) {
	receiver := NewReceiver(ReceiverConfig{SigningSecret: testSecret})
	payload := []byte(`{"type":"user.deleted","data":{"id":"ext_123","deleted":true}}`)

	event, err := receiver.Receive(signedHeaders(t, testSecret, "msg_10", payload), payload)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if event.Kind != EventProfileDeleted || event.ExternalID != "ext_123" || event.PrimaryEmail != "" {
		t.Fatalf("unexpected deleted event %+v", event)
	}
}

type stubVerifier struct {
	err error
}

func (v stubVerifier) Verify([]byte, http.Header) error {
	return v.err
}

func TestReceiveWithInjectedVerifier(t *testing.T) {
	headers := http.Header{}
	headers.Set(HeaderMessageID, "msg_11")
	headers.Set(HeaderTimestamp, "1")
	headers.Set(HeaderSignature, "v1,ignored")
	payload := []byte(`{"type":"user.updated","data":{"id":"ext_1","email_addresses":[],"username":"kasun"}}`)

	event, err := NewReceiver(ReceiverConfig{Verifier: stubVerifier{}}).Receive(headers, payload)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if event.PrimaryEmail != "" {
		t.Fatalf("expected no primary email when pointer is absent, got %q", event.PrimaryEmail)
	}
	if event.DisplayName != "kasun" {
		t.Fatalf("expected username fallback, got %q", event.DisplayName)
	}

	_, err = NewReceiver(ReceiverConfig{Verifier: stubVerifier{err: errors.New("bad")}}).Receive(headers, payload)
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}
