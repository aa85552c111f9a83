// Package monitor records the outcome of every completion attempt: registry
// usage counters plus an immutable row for the usage-log collaborator.
package monitor

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/pysugar/kiro-nexus/internal/db/models"
	"github.com/pysugar/kiro-nexus/internal/registry"
)

// Record describes one completion attempt.
type Record struct {
	AccountID    string
	APIKeyID     string
	Dialect      string
	Model        string
	InputTokens  int
	OutputTokens int
	Success      bool
	Error        string
	Duration     time.Duration
}

// Recorder is invoked once per completion attempt, after the attempt is
// known to have started. Everything it does is best effort: a recording
// failure must never fail the request that already completed.
type Recorder struct {
	registry *registry.Registry
	db       *gorm.DB

	logs chan models.UsageLog
	done chan struct{}

	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
}

func NewRecorder(reg *registry.Registry, db *gorm.DB) *Recorder {
	rec := &Recorder{
		registry: reg,
		db:       db,
		logs:     make(chan models.UsageLog, 256),
		done:     make(chan struct{}),
	}
	go rec.drain()
	return rec
}

// drain is the single writer for usage-log rows.
func (rec *Recorder) drain() {
	defer close(rec.done)
	for entry := range rec.logs {
		if rec.db == nil {
			continue
		}
		if err := rec.db.Create(&entry).Error; err != nil {
			log.Warnf("usage log write failed: %v", err)
		}
	}
}

// Close stops accepting new rows and waits for the queued ones to land.
// Call once, during shutdown.
func (rec *Recorder) Close() {
	close(rec.logs)
	<-rec.done
}

// Record updates the account's usage counters and appends a usage-log row
// asynchronously.
func (rec *Recorder) Record(r Record) {
	rec.totalRequests.Add(1)
	if r.Success {
		rec.successCount.Add(1)
	} else {
		rec.errorCount.Add(1)
	}

	if r.AccountID != "" {
		rec.registry.RecordUsage(r.AccountID, int64(r.InputTokens+r.OutputTokens))
	}

	entry := models.UsageLog{
		ID:           uuid.New().String(),
		Timestamp:    time.Now().UnixMilli(),
		AccountID:    r.AccountID,
		APIKeyID:     r.APIKeyID,
		Dialect:      r.Dialect,
		Model:        r.Model,
		InputTokens:  r.InputTokens,
		OutputTokens: r.OutputTokens,
		Success:      r.Success,
		Error:        r.Error,
		Duration:     r.Duration.Milliseconds(),
	}
	select {
	case rec.logs <- entry:
	default:
		log.Warn("usage log queue full, dropping entry")
	}
}

// Stats returns the in-memory counters for the operator endpoint.
func (rec *Recorder) Stats() models.UsageStats {
	return models.UsageStats{
		TotalRequests: rec.totalRequests.Load(),
		SuccessCount:  rec.successCount.Load(),
		ErrorCount:    rec.errorCount.Load(),
	}
}
