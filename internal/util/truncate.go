package util

import "fmt"

// DefaultLogMaxLen caps upstream payload excerpts in log output.
const DefaultLogMaxLen = 1024

// TruncateLog shortens long strings for logging.
func TruncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}

// TruncateBytes truncates a byte slice to DefaultLogMaxLen for logging.
func TruncateBytes(b []byte) string {
	return TruncateLog(string(b), DefaultLogMaxLen)
}
