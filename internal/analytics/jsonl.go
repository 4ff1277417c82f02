package analytics

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONLBackend appends events to a newline-delimited JSON file, the default
// durable backend: zero dependencies, greppable, log-shipper friendly.
type JSONLBackend struct {
	mu    sync.Mutex
	path  string
	file  *os.File
	count int
}

// NewJSONLBackend opens (creating if needed) the file at path in append
// mode and counts existing events.
func NewJSONLBackend(path string) (*JSONLBackend, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("analytics: mkdir %s: %w", dir, err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("analytics: open %s: %w", path, err)
	}
	b := &JSONLBackend{path: path, file: file}
	b.count = b.countLines()
	return b, nil
}

func (b *JSONLBackend) countLines() int {
	f, err := os.Open(b.path)
	if err != nil {
		return 0
	}
	defer f.Close()
	n := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			n++
		}
	}
	return n
}

func (b *JSONLBackend) Append(_ context.Context, events []*Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	w := bufio.NewWriter(b.file)
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	b.count += len(events)
	return nil
}

func (b *JSONLBackend) Query(_ context.Context, start, end int64, limit int) ([]*Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.Open(b.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []*Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			continue // tolerate a torn or foreign line
		}
		if e.Timestamp >= start && e.Timestamp <= end {
			out = append(out, &e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, scanner.Err()
}

func (b *JSONLBackend) Clear(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.file.Close(); err != nil {
		return err
	}
	file, err := os.OpenFile(b.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	b.file = file
	b.count = 0
	return nil
}

func (b *JSONLBackend) Stats(_ context.Context) (map[string]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	stats := map[string]any{
		"backend":      "jsonl",
		"path":         b.path,
		"total_events": b.count,
	}
	if info, err := os.Stat(b.path); err == nil {
		stats["size_bytes"] = info.Size()
	}
	return stats, nil
}

func (b *JSONLBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}
