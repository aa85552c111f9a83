package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pysugar/kiro-nexus/internal/db/models"
)

func testClient(srv *httptest.Server) *Client {
	c := NewClient()
	c.CompletionURL = srv.URL + "/generateAssistantResponse"
	c.AuthEndpoint = srv.URL
	c.PortalURL = srv.URL
	c.OIDCBase = srv.URL
	return c
}

func TestRefreshCredentials_SocialPath(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"accessToken":  "new-access",
			"refreshToken": "new-refresh",
			"expiresIn":    1800,
		})
	}))
	defer srv.Close()

	acc := models.Account{ID: "a", Idp: "Github", AuthMethod: "social", RefreshToken: "old-refresh"}
	tok, err := testClient(srv).RefreshCredentials(context.Background(), acc)
	if err != nil {
		t.Fatalf("RefreshCredentials: %v", err)
	}

	if gotPath != "/refreshToken" {
		t.Errorf("expected social refresh path, got %s", gotPath)
	}
	if gotBody["refreshToken"] != "old-refresh" {
		t.Errorf("refresh token not sent: %v", gotBody)
	}
	if tok.AccessToken != "new-access" || tok.RefreshToken != "new-refresh" {
		t.Errorf("unexpected token: %+v", tok)
	}
	if until := time.Until(tok.Expiry); until < 25*time.Minute || until > 31*time.Minute {
		t.Errorf("expiry not derived from expiresIn: %s", tok.Expiry)
	}
}

func TestRefreshCredentials_OIDCPath(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]interface{}{"accessToken": "new-access"})
	}))
	defer srv.Close()

	acc := models.Account{
		ID: "a", Idp: "BuilderId", AuthMethod: "oidc",
		RefreshToken: "old-refresh", ClientID: "cid", ClientSecret: "cs", Region: "eu-west-1",
	}
	tok, err := testClient(srv).RefreshCredentials(context.Background(), acc)
	if err != nil {
		t.Fatalf("RefreshCredentials: %v", err)
	}

	want := map[string]string{
		"clientId":     "cid",
		"clientSecret": "cs",
		"refreshToken": "old-refresh",
		"grantType":    "refresh_token",
	}
	for k, v := range want {
		if gotBody[k] != v {
			t.Errorf("payload %s: expected %q, got %q", k, v, gotBody[k])
		}
	}
	// The service kept the refresh token; the old one must survive.
	if tok.RefreshToken != "old-refresh" {
		t.Errorf("refresh token rotated unexpectedly: %q", tok.RefreshToken)
	}
	// No expiresIn in the answer: the default window applies.
	if until := time.Until(tok.Expiry); until < 55*time.Minute {
		t.Errorf("default expiry not applied: %s", tok.Expiry)
	}
}

func TestRefreshCredentials_RejectionBecomesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"refresh token revoked"}`))
	}))
	defer srv.Close()

	acc := models.Account{ID: "a", AuthMethod: "social", RefreshToken: "dead"}
	_, err := testClient(srv).RefreshCredentials(context.Background(), acc)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if !apiErr.RefreshRejected() {
		t.Errorf("400 invalid_grant should count as rejected: %+v", apiErr)
	}
	if apiErr.Message != "refresh token revoked" {
		t.Errorf("error_description not extracted: %q", apiErr.Message)
	}
}

func TestRefreshCredentials_MissingRefreshToken(t *testing.T) {
	_, err := NewClient().RefreshCredentials(context.Background(), models.Account{ID: "a"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 APIError, got %v", err)
	}
}

func TestSendMessage_HeadersAndBodyNormalization(t *testing.T) {
	var gotHeaders http.Header
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"assistantResponseEvent\":{\"content\":\"hi\"}}\n\n"))
	}))
	defer srv.Close()

	acc := models.Account{ID: "a", AccessToken: "tok", MachineID: "0123456789abcdef0123456789abcdef"}
	body := []byte(`{"conversationState":{"currentMessage":{}}}`)
	resp, err := testClient(srv).SendMessage(context.Background(), acc, body)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	defer resp.Body.Close()

	if got := gotHeaders.Get("Authorization"); got != "Bearer tok" {
		t.Errorf("Authorization = %q", got)
	}
	if got := gotHeaders.Get("x-amzn-kiro-agent-mode"); got != "vibe" {
		t.Errorf("agent mode header = %q", got)
	}
	if ua := gotHeaders.Get("User-Agent"); !strings.Contains(ua, acc.MachineID) {
		t.Errorf("machine id missing from user agent: %q", ua)
	}
	if gotHeaders.Get("amz-sdk-invocation-id") == "" {
		t.Error("invocation id not set")
	}

	if _, ok := gotBody["profileArn"]; !ok {
		t.Error("profileArn not stamped onto the body")
	}
	cs, _ := gotBody["conversationState"].(map[string]interface{})
	if cs["chatTriggerType"] != "MANUAL" {
		t.Errorf("chatTriggerType = %v", cs["chatTriggerType"])
	}
}

func TestSendMessage_Non200ClosesBodyAndErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"message":"throttled"}`))
	}))
	defer srv.Close()

	acc := models.Account{ID: "a", AccessToken: "tok", MachineID: "m"}
	_, err := testClient(srv).SendMessage(context.Background(), acc, []byte(`{}`))

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusTooManyRequests || apiErr.Message != "throttled" {
		t.Errorf("unexpected error: %+v", apiErr)
	}
	if !apiErr.Transient() {
		t.Error("429 should be transient")
	}
}
