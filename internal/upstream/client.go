// Package upstream talks to the Kiro service: token refresh for both auth
// paths, the streaming completion call, and the CBOR usage endpoint.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/oauth2"

	"github.com/pysugar/kiro-nexus/internal/db/models"
	"github.com/pysugar/kiro-nexus/internal/util"
)

const (
	// DefaultCompletionURL is the CodeWhisperer streaming endpoint.
	DefaultCompletionURL = "https://q.us-east-1.amazonaws.com/generateAssistantResponse"
	// DefaultAuthEndpoint refreshes social-login (Github/Google) tokens.
	DefaultAuthEndpoint = "https://prod.us-east-1.auth.desktop.kiro.dev"
	// DefaultPortalURL serves the CBOR usage/limits operations.
	DefaultPortalURL = "https://app.kiro.dev/service/KiroWebPortalService/operation"

	ideVersion       = "0.6.18"
	defaultExpiresIn = 3600
)

// Client handles all communication with the Kiro service. Zero-value URLs
// fall back to the production endpoints; tests point them at a test server.
type Client struct {
	httpClient    *http.Client
	CompletionURL string
	AuthEndpoint  string
	PortalURL     string
	// OIDCBase overrides the per-region AWS OIDC host when set (tests).
	OIDCBase string
}

// NewClient creates an upstream client. The long timeout covers streaming
// completions; refresh calls are bounded by their caller's context.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
		CompletionURL: DefaultCompletionURL,
		AuthEndpoint:  DefaultAuthEndpoint,
		PortalURL:     DefaultPortalURL,
	}
}

func (c *Client) oidcURL(region string) string {
	if c.OIDCBase != "" {
		return c.OIDCBase + "/token"
	}
	if region == "" {
		region = "us-east-1"
	}
	return fmt.Sprintf("https://oidc.%s.amazonaws.com/token", region)
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
}

// RefreshCredentials exchanges the account's refresh token for fresh
// credentials. BuilderId/IdC accounts go through AWS OIDC, social-login
// accounts through the Kiro auth service; both use camelCase JSON bodies.
func (c *Client) RefreshCredentials(ctx context.Context, acc models.Account) (*oauth2.Token, error) {
	if acc.RefreshToken == "" {
		return nil, &APIError{Status: http.StatusBadRequest, Message: "no refresh token available", Operation: "refresh"}
	}

	var url string
	var payload map[string]string
	if acc.AuthMethod == "social" || acc.Idp == "Github" || acc.Idp == "Google" {
		url = c.AuthEndpoint + "/refreshToken"
		payload = map[string]string{"refreshToken": acc.RefreshToken}
	} else {
		if acc.ClientID == "" || acc.ClientSecret == "" {
			return nil, &APIError{Status: http.StatusBadRequest, Message: "missing OIDC client credentials", Operation: "refresh"}
		}
		url = c.oidcURL(acc.Region)
		payload = map[string]string{
			"clientId":     acc.ClientID,
			"clientSecret": acc.ClientSecret,
			"refreshToken": acc.RefreshToken,
			"grantType":    "refresh_token",
		}
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "kiro-nexus/1.0.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			Status:    resp.StatusCode,
			Message:   refreshErrorMessage(respBody),
			Operation: "refresh",
		}
	}

	var parsed refreshResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode refresh response: %w", err)
	}
	if parsed.AccessToken == "" {
		return nil, &APIError{Status: resp.StatusCode, Message: "refresh response missing access token", Operation: "refresh"}
	}
	if parsed.ExpiresIn <= 0 {
		parsed.ExpiresIn = defaultExpiresIn
	}
	// The refresh token only rotates when the service sends a new one.
	if parsed.RefreshToken == "" {
		parsed.RefreshToken = acc.RefreshToken
	}

	return &oauth2.Token{
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second),
	}, nil
}

func refreshErrorMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "error_description").String(); msg != "" {
		return msg
	}
	if msg := gjson.GetBytes(body, "error").String(); msg != "" {
		return msg
	}
	if msg := gjson.GetBytes(body, "message").String(); msg != "" {
		return msg
	}
	return util.TruncateLog(string(body), 200)
}

// SendMessage posts a completion request built by the mappers and returns
// the open SSE response. The caller owns the body and must close it exactly
// once; completion responses always arrive as an event stream.
func (c *Client) SendMessage(ctx context.Context, acc models.Account, body []byte) (*http.Response, error) {
	body = normalizeCompletionBody(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.CompletionURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	setCompletionHeaders(req, acc.AccessToken, acc.MachineID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		log.Debugf("completion rejected with %d: %s", resp.StatusCode, util.TruncateBytes(respBody))
		return nil, &APIError{
			Status:    resp.StatusCode,
			Message:   refreshErrorMessage(respBody),
			Operation: "generateAssistantResponse",
		}
	}
	return resp, nil
}

// normalizeCompletionBody stamps the fields the service insists on without
// disturbing what the mapper built.
func normalizeCompletionBody(body []byte) []byte {
	if !gjson.GetBytes(body, "profileArn").Exists() {
		body, _ = sjson.SetBytes(body, "profileArn", "")
	}
	if !gjson.GetBytes(body, "conversationState.chatTriggerType").Exists() {
		body, _ = sjson.SetBytes(body, "conversationState.chatTriggerType", "MANUAL")
	}
	return body
}

// setCompletionHeaders applies the AWS SDK header set. The machine
// identifier rides in the user agent as the stable device fingerprint for
// the account.
func setCompletionHeaders(req *http.Request, accessToken, machineID string) {
	kiroUA := fmt.Sprintf("KiroIDE-%s-%s", ideVersion, machineID)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-amzn-codewhisperer-optout", "true")
	req.Header.Set("x-amzn-kiro-agent-mode", "vibe")
	req.Header.Set("x-amz-user-agent", "aws-sdk-js/1.0.26 "+kiroUA)
	req.Header.Set("User-Agent", "aws-sdk-js/1.0.26 api/codewhispererstreaming#1.0.26 "+kiroUA)
	req.Header.Set("amz-sdk-invocation-id", uuid.New().String())
	req.Header.Set("amz-sdk-request", "attempt=1; max=3")
	req.Header.Set("Authorization", "Bearer "+accessToken)
}
