package analytics

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strconv"
)

// ExportJSON serializes events as a JSON array.
func ExportJSON(events []*Event) ([]byte, error) {
	if events == nil {
		events = []*Event{}
	}
	return json.Marshal(events)
}

// ExportCSV serializes events as CSV with a fixed header row, one event per
// line, flattening the nested metadata into columns.
func ExportCSV(events []*Event) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"id", "timestamp", "endpoint", "method", "model", "stream",
		"request_bytes", "status", "response_bytes", "success", "error",
		"duration_ms", "ttfb_ms", "authenticated", "key_id", "backend",
		"upstream_mode", "prompt_tokens", "completion_tokens",
		"cached_tokens", "reasoning_tokens", "cost_micros",
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, e := range events {
		var usage Usage
		if e.Usage != nil {
			usage = *e.Usage
		}
		var cost Cost
		if e.Cost != nil {
			cost = *e.Cost
		}
		row := []string{
			e.ID,
			strconv.FormatInt(e.Timestamp, 10),
			e.Request.Endpoint,
			e.Request.Method,
			e.Request.Model,
			strconv.FormatBool(e.Request.Stream),
			strconv.Itoa(e.Request.SizeBytes),
			strconv.Itoa(e.Response.Status),
			strconv.Itoa(e.Response.SizeBytes),
			strconv.FormatBool(e.Response.Success),
			e.Response.Error,
			strconv.FormatInt(e.Performance.DurationMs, 10),
			strconv.FormatInt(e.Performance.TTFBMs, 10),
			strconv.FormatBool(e.Auth.Authenticated),
			e.Auth.KeyID,
			e.Routing.Backend,
			e.Routing.UpstreamMode,
			strconv.Itoa(usage.PromptTokens),
			strconv.Itoa(usage.CompletionTokens),
			strconv.Itoa(usage.CachedTokens),
			strconv.Itoa(usage.ReasoningTokens),
			strconv.FormatInt(cost.TotalMicros, 10),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
