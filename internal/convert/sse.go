package convert

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// Event is one parsed SSE frame.
type Event struct {
	// Type is the event type, from the `event:` field or the JSON `type` key.
	Type string
	// Raw is the frame's data payload, verbatim.
	Raw json.RawMessage
	// Data is the decoded payload for map-style access. Nil when the payload
	// is not a JSON object.
	Data map[string]any
	// NamedEvent records whether the frame carried an explicit `event:` line,
	// so passthrough forwarding can reconstruct the original framing.
	NamedEvent bool
}

// ErrStreamDone is returned by SSEReader.Next on the `[DONE]` sentinel.
var ErrStreamDone = io.EOF

// SSEReader incrementally parses text/event-stream frames. Comment lines are
// skipped; payloads that are not JSON objects are returned with Raw set and
// Data nil.
type SSEReader struct {
	scanner   *bufio.Scanner
	eventName string
}

// NewSSEReader wraps r. The internal buffer allows frames up to 1 MiB,
// enough for large tool-argument deltas.
func NewSSEReader(r io.Reader) *SSEReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)
	return &SSEReader{scanner: scanner}
}

// Next returns the next event, or io.EOF at end of stream / on `[DONE]`.
func (r *SSEReader) Next() (*Event, error) {
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "event:") {
			r.eventName = strings.TrimSpace(line[len("event:"):])
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(line[len("data:"):])
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return nil, ErrStreamDone
		}

		evt := &Event{Type: r.eventName, Raw: json.RawMessage(data), NamedEvent: r.eventName != ""}
		r.eventName = ""

		var parsed map[string]any
		if err := json.Unmarshal([]byte(data), &parsed); err == nil {
			evt.Data = parsed
			if evt.Type == "" {
				evt.Type, _ = parsed["type"].(string)
			}
		}
		return evt, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
