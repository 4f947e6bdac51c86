// Package mcp exposes the completion engine over the MCP protocol.
package mcp

import (
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/server"

	"github.com/acolita/remote-shell-mcp/internal/adapters/realdialog"
	"github.com/acolita/remote-shell-mcp/internal/adapters/realfs"
	"github.com/acolita/remote-shell-mcp/internal/config"
	"github.com/acolita/remote-shell-mcp/internal/engine"
	"github.com/acolita/remote-shell-mcp/internal/ports"
)

// Version is the server version reported during the MCP handshake.
const Version = "1.0.0"

// Server wires the engine to MCP tools over stdio.
type Server struct {
	mcpServer  *server.MCPServer
	engine     *engine.Engine
	configPath string

	mu     sync.RWMutex
	config *config.Config

	fs     ports.FileSystem
	dialog ports.DialogProvider
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithFileSystem sets the filesystem used for config writes.
func WithFileSystem(fs ports.FileSystem) ServerOption {
	return func(s *Server) { s.fs = fs }
}

// WithDialogProvider sets the interactive dialog implementation.
func WithDialogProvider(d ports.DialogProvider) ServerOption {
	return func(s *Server) { s.dialog = d }
}

// WithConfigPath enables config-mutating tools.
func WithConfigPath(path string) ServerOption {
	return func(s *Server) { s.configPath = path }
}

// NewServer creates an MCP server around an engine.
func NewServer(cfg *config.Config, eng *engine.Engine, opts ...ServerOption) *Server {
	mcpServer := server.NewMCPServer(
		"remote-shell-mcp",
		Version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)

	s := &Server{
		mcpServer: mcpServer,
		engine:    eng,
		config:    cfg,
		fs:        realfs.New(),
		dialog:    realdialog.New(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerTools()
	return s
}

// Run serves MCP over stdio until the client disconnects.
func (s *Server) Run() error {
	slog.Info("starting MCP server on stdio transport")
	return server.ServeStdio(s.mcpServer)
}

// UpdateConfig applies a hot-reloaded configuration. Connection settings
// only affect future sessions; detection settings reach a live session
// through the engine.
func (s *Server) UpdateConfig(cfg *config.Config) {
	slog.Debug("applying config update")
	s.mu.Lock()
	s.config = cfg
	s.mu.Unlock()
	s.engine.UpdateConfig(cfg)
}

func (s *Server) cfg() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Shutdown disconnects the engine session, if any.
func (s *Server) Shutdown() {
	if err := s.engine.Disconnect(); err != nil {
		slog.Warn("disconnect on shutdown", slog.String("error", err.Error()))
	}
}
