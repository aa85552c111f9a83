package upstream

import (
	"bufio"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

// EventType discriminates the frames the completion stream can carry.
type EventType int

const (
	EventContent EventType = iota
	EventMetadata
	EventError
)

// Event is one parsed frame from the completion stream.
type Event struct {
	Type EventType

	// Text is set for content events.
	Text string

	// Token counts are set on metadata events when the service reports them.
	InputTokens  int
	OutputTokens int

	// Message is set for error events.
	Message string
}

// EventScanner reads the upstream SSE stream line by line and yields the
// events the gateway cares about; code-reference and web-link frames are
// skipped. Frames can be large, so the buffer allows up to 8MB per line.
type EventScanner struct {
	sc *bufio.Scanner
}

func NewEventScanner(r io.Reader) *EventScanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	return &EventScanner{sc: sc}
}

// Next returns the next recognized event. ok is false once the stream ends;
// check Err afterwards to distinguish a clean end from a broken connection.
func (s *EventScanner) Next() (Event, bool) {
	for s.sc.Scan() {
		line := strings.TrimSpace(s.sc.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		if v := gjson.Get(data, "assistantResponseEvent.content"); v.Exists() {
			return Event{Type: EventContent, Text: v.String()}, true
		}
		if v := gjson.Get(data, "messageMetadataEvent"); v.Exists() {
			return Event{
				Type:         EventMetadata,
				InputTokens:  int(v.Get("inputTokenCount").Int()),
				OutputTokens: int(v.Get("outputTokenCount").Int()),
			}, true
		}
		if v := gjson.Get(data, "error"); v.Exists() {
			msg := v.Get("message").String()
			if msg == "" {
				msg = v.Raw
			}
			return Event{Type: EventError, Message: msg}, true
		}
		// Unknown frame type, keep scanning.
	}
	return Event{}, false
}

// Err reports a scanner failure, typically an upstream connection drop.
func (s *EventScanner) Err() error {
	return s.sc.Err()
}
