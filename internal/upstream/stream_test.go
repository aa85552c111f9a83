package upstream

import (
	"strings"
	"testing"
)

func TestEventScanner_ParsesKnownFrames(t *testing.T) {
	input := strings.Join([]string{
		`data: {"assistantResponseEvent":{"content":"Hello"}}`,
		``,
		`data: {"followupPromptEvent":{"followupPrompt":{"content":"ignored"}}}`,
		``,
		`data: {"assistantResponseEvent":{"content":" world"}}`,
		``,
		`data: {"messageMetadataEvent":{"inputTokenCount":42,"outputTokenCount":7}}`,
		``,
	}, "\n")

	sc := NewEventScanner(strings.NewReader(input))

	var texts []string
	var meta Event
	for {
		ev, ok := sc.Next()
		if !ok {
			break
		}
		switch ev.Type {
		case EventContent:
			texts = append(texts, ev.Text)
		case EventMetadata:
			meta = ev
		}
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scanner error: %v", err)
	}

	if got := strings.Join(texts, ""); got != "Hello world" {
		t.Errorf("content = %q", got)
	}
	if meta.InputTokens != 42 || meta.OutputTokens != 7 {
		t.Errorf("metadata = %+v", meta)
	}
}

func TestEventScanner_ErrorFrame(t *testing.T) {
	sc := NewEventScanner(strings.NewReader(`data: {"error":{"message":"content blocked"}}` + "\n"))

	ev, ok := sc.Next()
	if !ok {
		t.Fatal("expected an event")
	}
	if ev.Type != EventError || ev.Message != "content blocked" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestEventScanner_SkipsNonDataLines(t *testing.T) {
	input := ": keepalive\nevent: message\ndata: {\"assistantResponseEvent\":{\"content\":\"x\"}}\n"
	sc := NewEventScanner(strings.NewReader(input))

	ev, ok := sc.Next()
	if !ok || ev.Text != "x" {
		t.Fatalf("expected content event, got %+v (ok=%v)", ev, ok)
	}
	if _, ok := sc.Next(); ok {
		t.Fatal("expected end of stream")
	}
}
