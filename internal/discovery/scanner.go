// Package discovery finds Kiro credentials already present on the local
// machine so an operator can seed the pool without copying tokens by hand.
// The IDE keeps its tokens in the AWS SSO cache directory: social logins in
// kiro-auth-token.json, Builder ID and IdC logins as registration/token file
// pairs.
package discovery

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/pysugar/kiro-nexus/internal/db/models"
	"github.com/pysugar/kiro-nexus/internal/util"
)

// DefaultCacheDir returns the IDE's token cache location.
func DefaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".aws", "sso", "cache")
}

// Scan reads the cache directory and returns importable accounts. Each
// account gets a fresh id and machine identifier; the identifier is bound
// here and never changes. Files that do not parse are skipped, not fatal.
func Scan(dir string) ([]models.Account, error) {
	if dir == "" {
		dir = DefaultCacheDir()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var out []models.Account
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			log.Debugf("discovery: cannot read %s: %v", e.Name(), err)
			continue
		}
		acc, ok := parseCacheFile(e.Name(), raw)
		if !ok {
			continue
		}
		out = append(out, acc)
	}
	return out, nil
}

// parseCacheFile recognizes the two cache shapes. Social tokens carry their
// provider name; OIDC tokens carry client credentials and a region.
func parseCacheFile(name string, raw []byte) (models.Account, bool) {
	doc := gjson.ParseBytes(raw)
	access := doc.Get("accessToken").String()
	refresh := doc.Get("refreshToken").String()
	if access == "" || refresh == "" {
		return models.Account{}, false
	}

	acc := models.Account{
		ID:           uuid.New().String(),
		Label:        strings.TrimSuffix(name, ".json"),
		AccessToken:  access,
		RefreshToken: refresh,
		MachineID:    util.NewMachineID(),
	}
	if exp := doc.Get("expiresAt").String(); exp != "" {
		if t, err := time.Parse(time.RFC3339, exp); err == nil {
			acc.ExpiresAt = t
		}
	}

	if provider := doc.Get("provider").String(); provider != "" {
		acc.Idp = provider
		acc.AuthMethod = "social"
		return acc, true
	}

	clientID := doc.Get("clientId").String()
	clientSecret := doc.Get("clientSecret").String()
	if clientID == "" || clientSecret == "" {
		return models.Account{}, false
	}
	acc.AuthMethod = "oidc"
	acc.Idp = "BuilderId"
	acc.ClientID = clientID
	acc.ClientSecret = clientSecret
	acc.Region = doc.Get("region").String()
	if acc.Region == "" {
		acc.Region = "us-east-1"
	}
	return acc, true
}
