package mcp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/acolita/remote-shell-mcp/internal/config"
	"github.com/acolita/remote-shell-mcp/internal/ports"
)

func (s *Server) registerConfigTools() {
	s.mcpServer.AddTool(shellServerAddTool(), s.handleShellServerAdd)
}

func shellServerAddTool() mcp.Tool {
	return mcp.NewTool("shell_server_add",
		mcp.WithDescription(`Add a server entry to the configuration interactively.

Opens a TUI form on the user's terminal pre-filled with the given values.
The user can edit or cancel; credential environment variable names stay
under user control and never pass through the LLM context. The entry is
available immediately via config hot-reload.

Requires a config file path (-config flag at startup).`),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Short name for the server (e.g. 'production')"),
		),
		mcp.WithString("host",
			mcp.Required(),
			mcp.Description("Hostname, IP, or glob pattern (e.g. '*.prod.internal')"),
		),
		mcp.WithNumber("port",
			mcp.Description("SSH port (default: 22)"),
		),
		mcp.WithString("user",
			mcp.Required(),
			mcp.Description("SSH username"),
		),
		mcp.WithString("password_env",
			mcp.Description("Environment variable holding the SSH password (optional)"),
		),
		mcp.WithString("sudo_password_env",
			mcp.Description("Environment variable holding the sudo password (optional)"),
		),
	)
}

func (s *Server) handleShellServerAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.configPath == "" {
		return mcp.NewToolResultError(
			"No config file path set. Start the server with the -config flag to enable config management.",
		), nil
	}

	name := mcp.ParseString(req, "name", "")
	host := mcp.ParseString(req, "host", "")
	user := mcp.ParseString(req, "user", "")
	if name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}
	if host == "" {
		return mcp.NewToolResultError("host is required"), nil
	}
	if user == "" {
		return mcp.NewToolResultError("user is required"), nil
	}

	cfg := s.cfg()
	for _, srv := range cfg.Servers {
		if srv.Name == name {
			return mcp.NewToolResultError(
				fmt.Sprintf("server %q already exists in config", name),
			), nil
		}
	}

	prefill := ports.ServerFormData{
		Name:            name,
		Host:            host,
		Port:            mcp.ParseInt(req, "port", 22),
		User:            user,
		PasswordEnv:     mcp.ParseString(req, "password_env", ""),
		SudoPasswordEnv: mcp.ParseString(req, "sudo_password_env", ""),
	}

	slog.Info("showing server config form", slog.String("server_name", name))

	result, err := s.dialog.ServerConfigForm(prefill)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("dialog error: %v", err)), nil
	}
	if !result.Confirmed {
		slog.Info("server configuration cancelled by user", slog.String("server_name", name))
		return jsonResult(map[string]any{
			"status":  "cancelled",
			"message": "User cancelled the configuration",
		})
	}

	newServer := config.ServerConfig{
		Name:            result.Name,
		Host:            result.Host,
		Port:            result.Port,
		User:            result.User,
		PasswordEnv:     result.PasswordEnv,
		SudoPasswordEnv: result.SudoPasswordEnv,
	}
	if err := cfg.AddServer(s.configPath, newServer, s.fs); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("add server: %v", err)), nil
	}

	slog.Info("server configuration saved",
		slog.String("server_name", result.Name),
		slog.String("host", result.Host),
		slog.String("config_path", s.configPath),
	)

	return jsonResult(map[string]any{
		"status":      "saved",
		"server_name": result.Name,
		"host":        result.Host,
		"port":        result.Port,
		"user":        result.User,
	})
}
