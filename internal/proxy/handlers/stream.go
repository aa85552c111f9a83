package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/pysugar/kiro-nexus/internal/proxy/mappers"
	"github.com/pysugar/kiro-nexus/internal/upstream"
)

// relay forwards the upstream stream to the client in the dialect's event
// framing, flushing after every frame. It translates frames only; the caller
// owns the upstream body and the in-flight marker.
func (g *Gateway) relay(w http.ResponseWriter, cd codec, model string, body io.Reader, inputEstimate int) (mappers.Usage, error) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	flush := func() {
		if canFlush {
			flusher.Flush()
		}
	}

	enc := cd.newEncoder()
	enc.Start(w, model)
	flush()

	var output strings.Builder
	usage := mappers.Usage{}

	sc := upstream.NewEventScanner(body)
	for {
		ev, ok := sc.Next()
		if !ok {
			break
		}
		switch ev.Type {
		case upstream.EventContent:
			output.WriteString(ev.Text)
			enc.Delta(w, ev.Text)
			flush()
		case upstream.EventMetadata:
			usage.InputTokens = ev.InputTokens
			usage.OutputTokens = ev.OutputTokens
		case upstream.EventError:
			enc.Error(w, ev.Message)
			flush()
			return usage, errors.New(ev.Message)
		}
	}
	if err := sc.Err(); err != nil {
		// The upstream connection dropped (or the client's cancellation
		// propagated). Emit a terminal error frame; if the client is gone
		// the write is a no-op.
		enc.Error(w, "upstream stream interrupted")
		flush()
		return usage, err
	}

	fillUsage(&usage, inputEstimate, output.String())
	enc.Finish(w, usage)
	flush()
	return usage, nil
}
