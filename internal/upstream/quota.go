package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// cborDec decodes nested maps with string keys so the breakdown walk below
// does not have to deal with interface{} keys.
var cborDec, _ = cbor.DecOptions{
	DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
}.DecMode()

// QuotaSnapshot is the CREDIT usage of one account as reported by the Kiro
// web portal.
type QuotaSnapshot struct {
	Used  float64
	Limit float64
}

// FetchUsageLimits calls GetUserUsageAndLimits over the smithy rpc-v2-cbor
// protocol and extracts the CREDIT breakdown. Used by the refresher to keep
// quota figures roughly current; selection treats a missing snapshot as
// unlimited.
func (c *Client) FetchUsageLimits(ctx context.Context, accessToken, idp string) (*QuotaSnapshot, error) {
	reqBody, err := cbor.Marshal(map[string]interface{}{
		"isEmailRequired": true,
		"origin":          "KIRO_IDE",
	})
	if err != nil {
		return nil, fmt.Errorf("encode usage request: %w", err)
	}

	url := c.PortalURL + "/GetUserUsageAndLimits"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build usage request: %w", err)
	}
	if idp == "" {
		idp = "BuilderId"
	}
	req.Header.Set("Accept", "application/cbor")
	req.Header.Set("Content-Type", "application/cbor")
	req.Header.Set("smithy-protocol", "rpc-v2-cbor")
	req.Header.Set("amz-sdk-invocation-id", uuid.New().String())
	req.Header.Set("amz-sdk-request", "attempt=1; max=1")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Cookie", fmt.Sprintf("Idp=%s; AccessToken=%s", idp, accessToken))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("usage request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		var decoded map[string]interface{}
		if cborDec.Unmarshal(body, &decoded) == nil {
			if m, ok := decoded["message"].(string); ok && m != "" {
				msg = m
			}
		}
		return nil, &APIError{Status: resp.StatusCode, Message: msg, Operation: "GetUserUsageAndLimits"}
	}

	var decoded map[string]interface{}
	if err := cborDec.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode usage response: %w", err)
	}
	return parseQuota(decoded), nil
}

// parseQuota walks the usageBreakdownList for the CREDIT resource. The
// *WithPrecision fields are preferred when present.
func parseQuota(data map[string]interface{}) *QuotaSnapshot {
	snapshot := &QuotaSnapshot{}
	list, ok := data["usageBreakdownList"].([]interface{})
	if !ok {
		return snapshot
	}
	for _, item := range list {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		resource, _ := entry["resourceType"].(string)
		display, _ := entry["displayName"].(string)
		if resource != "CREDIT" && display != "Credits" {
			continue
		}
		snapshot.Limit = numberField(entry, "usageLimitWithPrecision", "usageLimit")
		snapshot.Used = numberField(entry, "currentUsageWithPrecision", "currentUsage")
		break
	}
	return snapshot
}

func numberField(m map[string]interface{}, keys ...string) float64 {
	for _, key := range keys {
		switch v := m[key].(type) {
		case float64:
			return v
		case float32:
			return float64(v)
		case int64:
			return float64(v)
		case uint64:
			return float64(v)
		case int:
			return float64(v)
		}
	}
	return 0
}
