package models

import "time"

// Account is the durable form of one Kiro service account: its OAuth
// credentials, the machine identifier bound at import time, and usage
// counters. The in-memory registry is authoritative while the process runs;
// this record exists for restart recovery.
type Account struct {
	ID    string `gorm:"primaryKey"` // UUID
	Label string

	// Identity provider and refresh path. BuilderId/IdC accounts refresh
	// against AWS OIDC, Github/Google accounts against the Kiro auth service.
	Idp        string
	AuthMethod string // "oidc" or "social"

	AccessToken  string
	RefreshToken string
	ClientID     string // OIDC only
	ClientSecret string // OIDC only
	Region       string // OIDC only, e.g. "us-east-1"
	ExpiresAt    time.Time

	// MachineID is a 32-hex device fingerprint assigned once at import.
	// It never changes for the lifetime of the account.
	MachineID string `gorm:"uniqueIndex"`

	Status    string `gorm:"index"` // active, refreshing, expired, error
	LastError string

	RequestCount int64
	TokenCount   int64
	QuotaUsed    float64
	QuotaLimit   float64
	LastUsedAt   time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
