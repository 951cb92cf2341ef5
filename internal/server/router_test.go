package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/lankaed/internal/auth"
	"github.com/MarcoPoloResearchLab/lankaed/internal/identitysync"
	"github.com/MarcoPoloResearchLab/lankaed/internal/onboarding"
	"github.com/MarcoPoloResearchLab/lankaed/internal/profiles"
	"github.com/MarcoPoloResearchLab/lankaed/internal/realtime"
	"github.com/MarcoPoloResearchLab/lankaed/internal/webhook"
	"github.com/MarcoPoloResearchLab/lankaed/internal/xp"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type stubReceiver struct {
	event webhook.Event
	err   error
}

func (s stubReceiver) Receive(http.Header, []byte) (webhook.Event, error) {
	return s.event, s.err
}

type stubSyncer struct {
	err    error
	events []webhook.Event
}

func (s *stubSyncer) Handle(_ context.Context, event webhook.Event) error {
	s.events = append(s.events, event)
	return s.err
}

type stubAwarder struct {
	award xp.Award
	err   error
}

func (s stubAwarder) Award(context.Context, string, string) (xp.Award, error) {
	return s.award, s.err
}

type stubCompleter struct {
	profile profiles.Profile
	err     error
}

func (s stubCompleter) Complete(context.Context, string, onboarding.Request) (profiles.Profile, error) {
	return s.profile, s.err
}

type stubReader struct {
	profile profiles.Profile
	err     error
}

func (s stubReader) Get(context.Context, string) (profiles.Profile, error) {
	return s.profile, s.err
}

func newStubDependencies() Dependencies {
	return Dependencies{
		SessionVerifier:  stubSessionVerifier{claims: auth.Claims{Subject: "ext_123"}},
		WebhookReceiver:  stubReceiver{},
		EventSyncer:      &stubSyncer{},
		XPAwarder:        stubAwarder{},
		ProfileCompleter: stubCompleter{},
		ProfileReader:    stubReader{},
		Realtime:         realtime.NewNotifier(realtime.Config{}),
		Logger:           zap.NewNop(),
	}
}

func serve(t *testing.T, deps Dependencies, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	request := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeError(t *testing.T, recorder *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var payload errorResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode error body %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func TestIdentityWebhookStatusMapping(t *testing.T) {
	handled := webhook.Event{ID: "msg_1", Type: "user.created", Kind: webhook.EventProfileCreated, ExternalID: "ext_1", PrimaryEmail: "a@b.com"}

	testCases := []struct {
		name       string
		receiver   stubReceiver
		syncErr    error
		wantStatus int
		wantBody   string
		wantError  string
	}{
		{name: "missing secret", receiver: stubReceiver{err: webhook.ErrConfiguration}, wantStatus: http.StatusInternalServerError, wantError: errorCodeConfiguration},
		{name: "missing headers", receiver: stubReceiver{err: webhook.ErrMissingHeaders}, wantStatus: http.StatusBadRequest, wantError: errorCodeMissingHeaders},
		{name: "bad signature", receiver: stubReceiver{err: fmt.Errorf("%w: no match", webhook.ErrSignatureInvalid)}, wantStatus: http.StatusBadRequest, wantError: errorCodeInvalidSignature},
		{name: "malformed payload", receiver: stubReceiver{err: webhook.ErrMalformedPayload}, wantStatus: http.StatusBadRequest, wantError: errorCodeInvalidPayload},
		{name: "unhandled type", receiver: stubReceiver{event: webhook.Event{Type: "session.created", Kind: webhook.EventUnhandled}}, wantStatus: http.StatusOK, wantBody: `{"status":"ignored"}`},
		{name: "handled success", receiver: stubReceiver{event: handled}, wantStatus: http.StatusOK, wantBody: `{"status":"ok"}`},
		{name: "missing primary contact", receiver: stubReceiver{event: handled}, syncErr: identitysync.ErrMissingPrimaryContact, wantStatus: http.StatusInternalServerError, wantError: errorCodeMissingContact},
		{name: "missing user id", receiver: stubReceiver{event: handled}, syncErr: identitysync.ErrMissingExternalID, wantStatus: http.StatusInternalServerError, wantError: errorCodeMissingExternalID},
		{name: "sync exhausted", receiver: stubReceiver{event: handled}, syncErr: fmt.Errorf("%w: store down", identitysync.ErrSyncFailed), wantStatus: http.StatusInternalServerError, wantError: errorCodeSyncFailed},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			deps := newStubDependencies()
			syncer := &stubSyncer{err: testCase.syncErr}
			deps.WebhookReceiver = testCase.receiver
			deps.EventSyncer = syncer

			recorder := serve(t, deps, http.MethodPost, "/webhooks/identity", `{}`)

			if recorder.Code != testCase.wantStatus {
				t.Fatalf("expected status %d, got %d (%s)", testCase.wantStatus, recorder.Code, recorder.Body.String())
			}
			if testCase.wantBody != "" && recorder.Body.String() != testCase.wantBody {
				t.Fatalf("unexpected body %s", recorder.Body.String())
			}
			if testCase.wantError != "" && decodeError(t, recorder).Error != testCase.wantError {
				t.Fatalf("unexpected error code in %s", recorder.Body.String())
			}
			if testCase.receiver.err != nil && len(syncer.events) != 0 {
				t.Fatalf("rejected delivery must not reach the syncer")
			}
		})
	}
}

func TestIdentityWebhookRateLimited(t *testing.T) {
	deps := newStubDependencies()
	deps.WebhookReceiver = stubReceiver{event: webhook.Event{Kind: webhook.EventUnhandled}}
	deps.WebhookRatePerSecond = 0.001
	deps.WebhookBurst = 1
	gin.SetMode(gin.TestMode)
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}

	statuses := make([]int, 0, 2)
	for attempt := 0; attempt < 2; attempt++ {
		request := httptest.NewRequest(http.MethodPost, "/webhooks/identity", bytes.NewBufferString(`{}`))
		request.RemoteAddr = "203.0.113.7:443"
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, request)
		statuses = append(statuses, recorder.Code)
	}
	if statuses[0] != http.StatusOK || statuses[1] != http.StatusTooManyRequests {
		t.Fatalf("expected 200 then 429, got %v", statuses)
	}
}

func TestAwardXPStatusMapping(t *testing.T) {
	testCases := []struct {
		name       string
		verifier   stubSessionVerifier
		awarder    stubAwarder
		body       string
		wantStatus int
	}{
		{name: "unauthenticated", verifier: stubSessionVerifier{err: auth.ErrMissingToken}, body: `{"event":"VIDEO_WATCHED"}`, wantStatus: http.StatusUnauthorized},
		{name: "missing event", verifier: stubSessionVerifier{claims: auth.Claims{Subject: "ext_1"}}, body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "malformed json", verifier: stubSessionVerifier{claims: auth.Claims{Subject: "ext_1"}}, body: `{`, wantStatus: http.StatusBadRequest},
		{name: "unknown action", verifier: stubSessionVerifier{claims: auth.Claims{Subject: "ext_1"}}, awarder: stubAwarder{err: xp.ErrInvalidActionKind}, body: `{"event":"HACKED"}`, wantStatus: http.StatusBadRequest},
		{name: "profile not synced", verifier: stubSessionVerifier{claims: auth.Claims{Subject: "ext_1"}}, awarder: stubAwarder{err: xp.ErrProfileNotFound}, body: `{"event":"DAILY_LOGIN"}`, wantStatus: http.StatusNotFound},
		{name: "store failure", verifier: stubSessionVerifier{claims: auth.Claims{Subject: "ext_1"}}, awarder: stubAwarder{err: errors.New("db down")}, body: `{"event":"DAILY_LOGIN"}`, wantStatus: http.StatusInternalServerError},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			deps := newStubDependencies()
			deps.SessionVerifier = testCase.verifier
			deps.XPAwarder = testCase.awarder

			recorder := serve(t, deps, http.MethodPost, "/xp/award", testCase.body)
			if recorder.Code != testCase.wantStatus {
				t.Fatalf("expected status %d, got %d (%s)", testCase.wantStatus, recorder.Code, recorder.Body.String())
			}
		})
	}
}

func TestAwardXPSuccessBody(t *testing.T) {
	deps := newStubDependencies()
	deps.XPAwarder = stubAwarder{award: xp.Award{Action: xp.ActionVideoWatched, Points: 5, NewTotal: 105}}

	recorder := serve(t, deps, http.MethodPost, "/xp/award", `{"event":"VIDEO_WATCHED"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var payload awardResponsePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !payload.Success || payload.XPAwarded != 5 || payload.XPTotal != 105 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestCompleteProfileStatusMapping(t *testing.T) {
	testCases := []struct {
		name       string
		err        error
		body       string
		wantStatus int
	}{
		{name: "success", body: `{"grade":10,"language":"si"}`, wantStatus: http.StatusOK},
		{name: "malformed", body: `{"grade":"ten"}`, wantStatus: http.StatusBadRequest},
		{name: "missing grade", err: onboarding.ErrMissingGrade, body: `{"language":"si"}`, wantStatus: http.StatusBadRequest},
		{name: "missing language", err: onboarding.ErrMissingLanguage, body: `{"grade":3}`, wantStatus: http.StatusBadRequest},
		{name: "invalid grade", err: fmt.Errorf("%w: 20", profiles.ErrInvalidGrade), body: `{"grade":20,"language":"si"}`, wantStatus: http.StatusBadRequest},
		{name: "invalid language", err: profiles.ErrInvalidLanguage, body: `{"grade":2,"language":"fr"}`, wantStatus: http.StatusBadRequest},
		{name: "profile missing", err: profiles.ErrNotFound, body: `{"grade":2,"language":"en"}`, wantStatus: http.StatusNotFound},
		{name: "identity failure", err: fmt.Errorf("%w: 503", onboarding.ErrIdentityUpdate), body: `{"grade":2,"language":"en"}`, wantStatus: http.StatusInternalServerError},
		{name: "profile write after metadata write", err: fmt.Errorf("%w: %v", onboarding.ErrProfileUpdate, profiles.ErrNotFound), body: `{"grade":2,"language":"en"}`, wantStatus: http.StatusInternalServerError},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			deps := newStubDependencies()
			grade := 10
			deps.ProfileCompleter = stubCompleter{
				profile: profiles.Profile{ExternalID: "ext_123", Grade: &grade, PreferredLanguage: profiles.LanguageSinhala, OnboardingCompleted: true},
				err:     testCase.err,
			}

			recorder := serve(t, deps, http.MethodPost, "/profile/complete", testCase.body)
			if recorder.Code != testCase.wantStatus {
				t.Fatalf("expected status %d, got %d (%s)", testCase.wantStatus, recorder.Code, recorder.Body.String())
			}
		})
	}
}

func TestGetProfile(t *testing.T) {
	deps := newStubDependencies()
	deps.ProfileReader = stubReader{profile: profiles.Profile{ExternalID: "ext_123", XPTotal: 42}}
	recorder := serve(t, deps, http.MethodGet, "/profile", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var profile profiles.Profile
	if err := json.Unmarshal(recorder.Body.Bytes(), &profile); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if profile.XPTotal != 42 {
		t.Fatalf("unexpected profile %+v", profile)
	}

	deps.ProfileReader = stubReader{err: profiles.ErrNotFound}
	if recorder := serve(t, deps, http.MethodGet, "/profile", ""); recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	deps := newStubDependencies()
	deps.SessionVerifier = stubSessionVerifier{err: auth.ErrMissingToken}

	if recorder := serve(t, deps, http.MethodGet, "/healthz", ""); recorder.Code != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", recorder.Code)
	}
	if recorder := serve(t, deps, http.MethodGet, "/metrics", ""); recorder.Code != http.StatusOK {
		t.Fatalf("expected metrics 200, got %d", recorder.Code)
	}
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	deps := newStubDependencies()
	deps.XPAwarder = nil
	if _, err := NewHTTPHandler(deps); !errors.Is(err, errMissingXPAwarder) {
		t.Fatalf("expected errMissingXPAwarder, got %v", err)
	}
}
