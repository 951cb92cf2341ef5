package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestUpdatePublicMetadataSendsPatch(t *testing.T) {
	var (
		gotMethod string
		gotPath   string
		gotAuth   string
		gotBody   map[string]map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"ext_123"}`))
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL + "/", APIKey: "sk_test_key", HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("client: %v", err)
	}

	err = client.UpdatePublicMetadata(context.Background(), "ext_123", map[string]any{
		"grade":               10,
		"preferredLanguage":   "si",
		"onboardingCompleted": true,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if gotMethod != http.MethodPatch {
		t.Fatalf("expected PATCH, got %s", gotMethod)
	}
	if gotPath != "/v1/users/ext_123/metadata" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotAuth != "Bearer sk_test_key" {
		t.Fatalf("unexpected authorization header %q", gotAuth)
	}
	metadata := gotBody["public_metadata"]
	if metadata["preferredLanguage"] != "si" || metadata["onboardingCompleted"] != true || metadata["grade"] != float64(10) {
		t.Fatalf("unexpected metadata %+v", metadata)
	}
}

func TestUpdatePublicMetadataReportsStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":[{"code":"resource_not_found"}]}`, http.StatusNotFound)
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL, APIKey: "sk_test_key"})
	if err != nil {
		t.Fatalf("client: %v", err)
	}

	err = client.UpdatePublicMetadata(context.Background(), "ext_missing", map[string]any{"grade": 3})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", statusErr.StatusCode)
	}
}

func TestUpdatePublicMetadataRequiresUserID(t *testing.T) {
	client, err := NewClient(ClientConfig{BaseURL: "https://api.example.test", APIKey: "sk"})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if err := client.UpdatePublicMetadata(context.Background(), "  ", nil); !errors.Is(err, ErrMissingUserID) {
		t.Fatalf("expected ErrMissingUserID, got %v", err)
	}
}

func TestNewClientValidatesConfig(t *testing.T) {
	testCases := []ClientConfig{
		{APIKey: "sk"},
		{BaseURL: "not a url", APIKey: "sk"},
		{BaseURL: "https://api.example.test"},
	}
	for _, cfg := range testCases {
		if _, err := NewClient(cfg); !errors.Is(err, ErrInvalidClientConfig) {
			t.Fatalf("expected ErrInvalidClientConfig for %+v, got %v", cfg, err)
		}
	}
}
