package models

// UsageLog stores one record per completion attempt for the external
// usage-log collaborator. The gateway only appends; reporting lives elsewhere.
type UsageLog struct {
	ID           string `gorm:"primaryKey" json:"id"`
	Timestamp    int64  `gorm:"index" json:"timestamp"` // unix millis
	AccountID    string `gorm:"index" json:"account_id"`
	APIKeyID     string `json:"api_key_id,omitempty"`
	Dialect      string `json:"dialect,omitempty"` // "openai" or "anthropic"
	Model        string `gorm:"index" json:"model,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
	Duration     int64  `json:"duration"` // milliseconds
}

// UsageStats holds aggregated statistics over the usage log.
type UsageStats struct {
	TotalRequests int64 `json:"total_requests"`
	SuccessCount  int64 `json:"success_count"`
	ErrorCount    int64 `json:"error_count"`
}
