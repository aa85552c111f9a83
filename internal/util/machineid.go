package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewMachineID returns a 32-character hex device fingerprint. It is bound to
// an account once, at import, and presented to the upstream service on every
// request for that account.
func NewMachineID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
