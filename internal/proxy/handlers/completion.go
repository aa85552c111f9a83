package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pysugar/kiro-nexus/internal/db/models"
	"github.com/pysugar/kiro-nexus/internal/proxy/mappers"
	"github.com/pysugar/kiro-nexus/internal/proxy/monitor"
	"github.com/pysugar/kiro-nexus/internal/registry"
	"github.com/pysugar/kiro-nexus/internal/tokencount"
	"github.com/pysugar/kiro-nexus/internal/upstream"
)

// serveCompletion is the dialect-neutral completion path: pick an account,
// open the upstream exchange, relay or aggregate the stream, and record the
// outcome. Everything dialect-shaped arrives through the codec.
func (g *Gateway) serveCompletion(w http.ResponseWriter, r *http.Request, req mappers.CompletionRequest, cd codec) {
	reqID := requestID(r)
	logger := log.WithFields(log.Fields{
		"request_id": reqID,
		"dialect":    req.Dialect,
		"model":      req.Model,
	})

	upstreamBody, err := mappers.BuildUpstreamRequest(req)
	if err != nil {
		cd.writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
		return
	}

	acc, err := g.Selector.Select()
	if err != nil {
		logger.Warn("no eligible account available")
		cd.writeError(w, http.StatusServiceUnavailable, "no account is currently able to serve the request", "overloaded_error")
		return
	}
	logger = logger.WithField("account", acc.ID)

	if err := g.Registry.AcquireInFlight(acc.ID); err != nil {
		cd.writeError(w, http.StatusServiceUnavailable, "account disappeared during selection", "overloaded_error")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	start := time.Now()
	resp, err := g.Upstream.SendMessage(ctx, acc, upstreamBody)

	// Exactly one release per exchange, no matter how it ends: normal
	// completion, upstream error, or the client hanging up mid-stream.
	var once sync.Once
	release := func() {
		once.Do(func() {
			cancel()
			if resp != nil {
				resp.Body.Close()
			}
			g.Registry.ReleaseInFlight(acc.ID)
		})
	}
	defer release()

	inputEstimate := estimateInput(req)

	if err != nil {
		logger.Warnf("upstream request failed: %v", err)
		g.handleUpstreamFailure(acc.ID, err)
		g.Recorder.Record(monitor.Record{
			AccountID:   acc.ID,
			Dialect:     string(req.Dialect),
			Model:       req.Model,
			InputTokens: inputEstimate,
			Success:     false,
			Error:       err.Error(),
			Duration:    time.Since(start),
		})
		status, errType := upstreamErrorStatus(err)
		cd.writeError(w, status, "upstream request failed: "+err.Error(), errType)
		return
	}

	var usage mappers.Usage
	var relayErr error
	if req.Stream {
		usage, relayErr = g.relay(w, cd, req.Model, resp.Body, inputEstimate)
	} else {
		usage, relayErr = g.aggregate(w, cd, req.Model, resp.Body, inputEstimate)
	}
	release()

	rec := monitor.Record{
		AccountID:    acc.ID,
		Dialect:      string(req.Dialect),
		Model:        req.Model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		Success:      relayErr == nil,
		Duration:     time.Since(start),
	}
	if relayErr != nil {
		rec.Error = relayErr.Error()
		logger.Warnf("completion ended with error after %s: %v", rec.Duration, relayErr)
	} else {
		logger.WithFields(log.Fields{
			"input_tokens":  usage.InputTokens,
			"output_tokens": usage.OutputTokens,
		}).Info("completion served")
	}
	g.Recorder.Record(rec)
}

// handleUpstreamFailure marks the account on auth rejections so the
// scheduler retries its token instead of the selector handing it out again.
func (g *Gateway) handleUpstreamFailure(accountID string, err error) {
	var apiErr *upstream.APIError
	if !errors.As(err, &apiErr) {
		return
	}
	if apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden {
		g.Registry.Update(accountID, func(acc *models.Account) {
			acc.Status = registry.StatusError
			acc.LastError = apiErr.Error()
		})
	}
}

// upstreamErrorStatus maps an upstream failure onto the client-facing
// status. Rate limits pass through; everything else is a bad gateway.
func upstreamErrorStatus(err error) (int, string) {
	var apiErr *upstream.APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests {
		return http.StatusTooManyRequests, "rate_limit_error"
	}
	return http.StatusBadGateway, "api_error"
}

// estimateInput counts the prompt tokens locally. The service reports exact
// counts in stream metadata; this estimate fills in when it does not.
func estimateInput(req mappers.CompletionRequest) int {
	segments := make([]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		segments = append(segments, m.Content)
	}
	return tokencount.EstimateAll(segments...)
}

// aggregate drains the upstream stream into one dialect response body.
func (g *Gateway) aggregate(w http.ResponseWriter, cd codec, model string, body io.Reader, inputEstimate int) (mappers.Usage, error) {
	var text strings.Builder
	usage := mappers.Usage{}

	sc := upstream.NewEventScanner(body)
	for {
		ev, ok := sc.Next()
		if !ok {
			break
		}
		switch ev.Type {
		case upstream.EventContent:
			text.WriteString(ev.Text)
		case upstream.EventMetadata:
			usage.InputTokens = ev.InputTokens
			usage.OutputTokens = ev.OutputTokens
		case upstream.EventError:
			cd.writeError(w, http.StatusBadGateway, ev.Message, "api_error")
			return usage, errors.New(ev.Message)
		}
	}
	if err := sc.Err(); err != nil {
		cd.writeError(w, http.StatusBadGateway, "upstream stream interrupted", "api_error")
		return usage, err
	}

	fillUsage(&usage, inputEstimate, text.String())

	out, err := cd.encode(model, text.String(), usage)
	if err != nil {
		cd.writeError(w, http.StatusInternalServerError, "response encoding failed", "api_error")
		return usage, err
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(out)
	return usage, nil
}

// fillUsage substitutes local estimates for counts the service omitted.
func fillUsage(usage *mappers.Usage, inputEstimate int, output string) {
	if usage.InputTokens == 0 {
		usage.InputTokens = inputEstimate
	}
	if usage.OutputTokens == 0 && output != "" {
		usage.OutputTokens = tokencount.Estimate(output)
	}
}
