// Command upstream runs a lightweight HTTP mock that simulates an
// OpenAI-compatible provider speaking both API surfaces. It is used for
// E2E testing of the gateway without real credentials.
//
//	POST /v1/chat/completions  — Chat Completions, JSON or SSE
//	POST /v1/responses         — Responses API, JSON or SSE
//
// Environment:
//
//	PORT              — listen port (default 19001)
//	MOCK_LATENCY_MS   — artificial latency added to every response (default 0)
//	MOCK_STREAM_WORDS — words in streaming responses (default 10)
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

type mockConfig struct {
	Port        int
	LatencyMS   int
	StreamWords int
}

func loadConfig() mockConfig {
	c := mockConfig{Port: 19001, StreamWords: 10}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := os.Getenv("MOCK_LATENCY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LatencyMS = n
		}
	}
	if v := os.Getenv("MOCK_STREAM_WORDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.StreamWords = n
		}
	}
	return c
}

func main() {
	cfg := loadConfig()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", handleChat(cfg))
	mux.HandleFunc("/v1/responses", handleResponses(cfg))

	addr := fmt.Sprintf(":%d", cfg.Port)
	slog.Info("mock upstream listening", slog.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("mock upstream stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func handleChat(cfg mockConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Duration(cfg.LatencyMS) * time.Millisecond)

		var req struct {
			Model  string `json:"model"`
			Stream bool   `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		id := fmt.Sprintf("chatcmpl-mock%x", rand.Int64())
		content := fakeSentence(cfg.StreamWords)

		if req.Stream {
			serveChatStream(w, id, req.Model, content)
			return
		}

		writeJSON(w, map[string]any{
			"id":      id,
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{
				"prompt_tokens":     10,
				"completion_tokens": cfg.StreamWords,
				"total_tokens":      10 + cfg.StreamWords,
			},
		})
	}
}

func handleResponses(cfg mockConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Duration(cfg.LatencyMS) * time.Millisecond)

		var req struct {
			Model  string `json:"model"`
			Stream bool   `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		id := fmt.Sprintf("resp_mock%x", rand.Int64())
		content := fakeSentence(cfg.StreamWords)

		if req.Stream {
			serveResponsesStream(w, id, req.Model, content)
			return
		}

		writeJSON(w, map[string]any{
			"id":         id,
			"object":     "response",
			"created_at": time.Now().Unix(),
			"model":      req.Model,
			"status":     "completed",
			"output": []map[string]any{{
				"type":   "message",
				"role":   "assistant",
				"status": "completed",
				"content": []map[string]string{{
					"type": "output_text",
					"text": content,
				}},
			}},
			"usage": map[string]int{
				"input_tokens":  10,
				"output_tokens": cfg.StreamWords,
				"total_tokens":  10 + cfg.StreamWords,
			},
		})
	}
}

func serveChatStream(w http.ResponseWriter, id, model, content string) {
	flusher := sseHeaders(w)
	created := time.Now().Unix()
	for _, word := range strings.SplitAfter(content, " ") {
		writeFrame(w, flusher, map[string]any{
			"id": id, "object": "chat.completion.chunk", "created": created, "model": model,
			"choices": []map[string]any{{
				"index": 0, "delta": map[string]string{"content": word}, "finish_reason": nil,
			}},
		})
	}
	writeFrame(w, flusher, map[string]any{
		"id": id, "object": "chat.completion.chunk", "created": created, "model": model,
		"choices": []map[string]any{{
			"index": 0, "delta": map[string]any{}, "finish_reason": "stop",
		}},
	})
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func serveResponsesStream(w http.ResponseWriter, id, model, content string) {
	flusher := sseHeaders(w)
	writeFrame(w, flusher, map[string]any{
		"type":     "response.created",
		"response": map[string]any{"id": id, "model": model, "status": "in_progress"},
	})
	for _, word := range strings.SplitAfter(content, " ") {
		writeFrame(w, flusher, map[string]any{
			"type": "response.output_text.delta", "output_index": 0, "delta": word,
		})
	}
	writeFrame(w, flusher, map[string]any{
		"type": "response.completed",
		"response": map[string]any{
			"id": id, "model": model, "status": "completed",
			"usage": map[string]int{
				"input_tokens":  10,
				"output_tokens": len(strings.Fields(content)),
			},
		},
	})
}

func sseHeaders(w http.ResponseWriter) http.Flusher {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	return w.(http.Flusher)
}

func writeFrame(w http.ResponseWriter, flusher http.Flusher, v any) {
	data, _ := json.Marshal(v)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"message": msg, "type": "invalid_request_error"},
	})
}

var words = []string{
	"alpha", "bravo", "charlie", "delta", "echo", "foxtrot", "golf",
	"hotel", "india", "juliett", "kilo", "lima", "mike", "november",
}

func fakeSentence(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = words[rand.IntN(len(words))]
	}
	return strings.Join(parts, " ")
}
