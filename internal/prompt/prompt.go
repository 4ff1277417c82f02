// Package prompt loads and serves the system-prompt injection configuration.
//
// The config file is JSON:
//
//	{
//	  "global": "You are helpful.",
//	  "per_model": {"gpt-4o": "…", "claude-": "…"},
//	  "per_api": {"chat": "…", "responses": "…"},
//	  "injection_mode": "prepend",
//	  "enabled": true
//	}
//
// Precedence: per_model (longest matching prefix) > per_api > global.
package prompt

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Injection modes.
const (
	ModePrepend = "prepend"
	ModeAppend  = "append"
	ModeReplace = "replace"
)

// Config is an immutable system-prompt configuration snapshot.
type Config struct {
	Global        string            `json:"global,omitempty"`
	PerModel      map[string]string `json:"per_model,omitempty"`
	PerAPI        map[string]string `json:"per_api,omitempty"`
	InjectionMode string            `json:"injection_mode,omitempty"`
	Enabled       bool              `json:"enabled"`
}

// LoadFile reads and validates a config file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("prompt: read %s: %w", path, err)
	}
	cfg := &Config{Enabled: true, InjectionMode: ModePrepend}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("prompt: parse %s: %w", path, err)
	}
	switch cfg.InjectionMode {
	case "", ModePrepend:
		cfg.InjectionMode = ModePrepend
	case ModeAppend, ModeReplace:
	default:
		return nil, fmt.Errorf("prompt: invalid injection_mode %q", cfg.InjectionMode)
	}
	return cfg, nil
}

// Empty returns a disabled configuration.
func Empty() *Config {
	return &Config{InjectionMode: ModePrepend}
}

// PromptFor returns the effective prompt for a model and API surface, or ""
// when nothing applies.
func (c *Config) PromptFor(model, api string) string {
	if c == nil || !c.Enabled {
		return ""
	}
	if model != "" {
		best := ""
		for prefix := range c.PerModel {
			if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
				best = prefix
			}
		}
		if best != "" {
			return c.PerModel[best]
		}
	}
	if api != "" {
		if p, ok := c.PerAPI[api]; ok {
			return p
		}
	}
	return c.Global
}

// Store holds the live configuration snapshot. Reads are lock-brief pointer
// loads; Reload swaps the pointer under a writer lock, so in-flight requests
// keep the snapshot they already read.
type Store struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewStore creates a store. path may be "" for a fixed config.
func NewStore(cfg *Config, path string) *Store {
	if cfg == nil {
		cfg = Empty()
	}
	return &Store{cfg: cfg, path: path}
}

// Current returns the active snapshot.
func (s *Store) Current() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Path returns the configured file path ("" when not reloadable).
func (s *Store) Path() string { return s.path }

// Reload re-reads the config file and swaps the snapshot.
func (s *Store) Reload() (*Config, error) {
	if s.path == "" {
		return nil, fmt.Errorf("prompt: no config path configured")
	}
	cfg, err := LoadFile(s.path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return cfg, nil
}
