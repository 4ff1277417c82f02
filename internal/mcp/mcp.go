// Package mcp federates tool definitions from Model Context Protocol
// servers into outbound payloads.
//
// The package owns configuration, tool enumeration, and name prefixing.
// Process spawning and the JSON-RPC transport live behind the Conn
// interface and are provided by the embedding application.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"
)

// ServerConfig describes how to start one MCP server, mcp.json shape:
//
//	{"mcpServers": {"filesystem": {"command": "npx", "args": […], "env": {…}}}}
type ServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Config is the parsed mcp.json.
type Config struct {
	Servers map[string]ServerConfig `json:"mcpServers"`
}

// LoadFile reads and parses an mcp.json file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mcp: read %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("mcp: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ServerNames returns the configured server names, sorted.
func (c *Config) ServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for n := range c.Servers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Tool is one tool advertised by a server. InputSchema is the tool's
// JSON-Schema, forwarded verbatim into tool definitions.
type Tool struct {
	Server      string
	Name        string
	Description string
	InputSchema json.RawMessage
}

// QualifiedName returns the collision-safe federated name, "<server>_<name>".
func (t Tool) QualifiedName() string {
	return t.Server + "_" + t.Name
}

// Conn is a live connection to one MCP server.
type Conn interface {
	Name() string
	ListTools(ctx context.Context) ([]Tool, error)
	Close() error
}

// Dialer establishes a Conn for a configured server.
type Dialer func(ctx context.Context, name string, cfg ServerConfig) (Conn, error)

// Manager holds the live set of server connections. Reads take a brief
// reader lock; Reload swaps the connection set under a writer lock.
type Manager struct {
	dial Dialer
	path string
	log  *slog.Logger

	mu    sync.RWMutex
	conns []Conn
}

// NewManager dials every configured server. Servers that fail to dial are
// skipped with a warning; the gateway still starts.
func NewManager(ctx context.Context, cfg *Config, path string, dial Dialer, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{dial: dial, path: path, log: log}
	if cfg != nil {
		m.conns = m.dialAll(ctx, cfg)
	}
	return m
}

func (m *Manager) dialAll(ctx context.Context, cfg *Config) []Conn {
	var conns []Conn
	for _, name := range cfg.ServerNames() {
		conn, err := m.dial(ctx, name, cfg.Servers[name])
		if err != nil {
			m.log.Warn("mcp_server_unavailable",
				slog.String("server", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		conns = append(conns, conn)
	}
	return conns
}

// Path returns the configured file path ("" when not reloadable).
func (m *Manager) Path() string { return m.path }

// ServerNames returns the names of currently connected servers.
func (m *Manager) ServerNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.conns))
	for _, c := range m.conns {
		names = append(names, c.Name())
	}
	return names
}

// ListAllTools enumerates tools across all connected servers with names
// prefixed by their server. A server whose enumeration fails is skipped;
// its tools are simply omitted.
func (m *Manager) ListAllTools(ctx context.Context) []Tool {
	m.mu.RLock()
	conns := m.conns
	m.mu.RUnlock()

	var tools []Tool
	for _, conn := range conns {
		listCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		serverTools, err := conn.ListTools(listCtx)
		cancel()
		if err != nil {
			m.log.Warn("mcp_list_tools_failed",
				slog.String("server", conn.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, t := range serverTools {
			t.Server = conn.Name()
			tools = append(tools, t)
		}
	}
	return tools
}

// Reload re-reads the config file, dials the new server set, and swaps it
// in. Old connections are closed after the swap.
func (m *Manager) Reload(ctx context.Context) ([]string, error) {
	if m.path == "" {
		return nil, fmt.Errorf("mcp: no config path configured")
	}
	cfg, err := LoadFile(m.path)
	if err != nil {
		return nil, err
	}
	fresh := m.dialAll(ctx, cfg)

	m.mu.Lock()
	old := m.conns
	m.conns = fresh
	m.mu.Unlock()

	for _, c := range old {
		if err := c.Close(); err != nil {
			m.log.Debug("mcp_close_failed", slog.String("server", c.Name()))
		}
	}
	return m.ServerNames(), nil
}

// Close shuts down all connections.
func (m *Manager) Close() {
	m.mu.Lock()
	conns := m.conns
	m.conns = nil
	m.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}
