package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/acolita/remote-shell-mcp/internal/engine"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTool(shellConnectTool(), s.handleShellConnect)
	s.mcpServer.AddTool(shellExecuteTool(), s.handleShellExecute)
	s.mcpServer.AddTool(shellCheckStatusTool(), s.handleShellCheckStatus)
	s.mcpServer.AddTool(shellCancelTool(), s.handleShellCancel)
	s.mcpServer.AddTool(shellRawOutputTool(), s.handleShellRawOutput)
	s.mcpServer.AddTool(shellListCommandsTool(), s.handleShellListCommands)
	s.mcpServer.AddTool(shellDisconnectTool(), s.handleShellDisconnect)
	s.registerConfigTools()
}

// Tool definitions

func shellConnectTool() mcp.Tool {
	return mcp.NewTool("shell_connect",
		mcp.WithDescription("Connect to a remote host over SSH with an interactive shell. Waits for the initial prompt before returning."),
		mcp.WithString("host",
			mcp.Required(),
			mcp.Description("Hostname or IP address"),
		),
		mcp.WithNumber("port",
			mcp.Description("SSH port (default: 22)"),
		),
		mcp.WithString("user",
			mcp.Required(),
			mcp.Description("SSH username"),
		),
		mcp.WithString("key_path",
			mcp.Description("Path to SSH private key (optional)"),
		),
		mcp.WithBoolean("use_agent",
			mcp.Description("Use the SSH agent for authentication (default: true)"),
		),
		mcp.WithBoolean("local",
			mcp.Description("Run a local shell instead of SSH (for testing)"),
		),
	)
}

func shellExecuteTool() mcp.Tool {
	return mcp.NewTool("shell_execute",
		mcp.WithDescription("Execute a command on the connected shell. Completion is detected from the prompt's return; password prompts and pagers are answered automatically. On timeout the command keeps running and can be polled with shell_check_status."),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("The command to execute"),
		),
		mcp.WithNumber("timeout_ms",
			mcp.Description("How long to wait for completion in milliseconds (default: 30000)"),
		),
		mcp.WithString("expected_prompt",
			mcp.Description("Regex overriding the expected prompt pattern for this command only (optional)"),
		),
	)
}

func shellCheckStatusTool() mcp.Tool {
	return mcp.NewTool("shell_check_status",
		mcp.WithDescription("Check the status and output of a previously issued command"),
		mcp.WithString("command_id",
			mcp.Required(),
			mcp.Description("The command ID returned by shell_execute"),
		),
	)
}

func shellCancelTool() mcp.Tool {
	return mcp.NewTool("shell_cancel",
		mcp.WithDescription("Interrupt a running command with Ctrl+C"),
		mcp.WithString("command_id",
			mcp.Required(),
			mcp.Description("The command ID to cancel"),
		),
	)
}

func shellRawOutputTool() mcp.Tool {
	return mcp.NewTool("shell_raw_output",
		mcp.WithDescription("Read raw session output: everything one command printed (by command_id), or an absolute line range including output produced between commands"),
		mcp.WithString("command_id",
			mcp.Description("Return the full output of this command, including its echoed command line (optional)"),
		),
		mcp.WithNumber("start_line",
			mcp.Description("First line index (default: 0; ignored when command_id is set)"),
		),
		mcp.WithNumber("end_line",
			mcp.Description("Line index to stop before; -1 reads through the end (default: -1; ignored when command_id is set)"),
		),
	)
}

func shellListCommandsTool() mcp.Tool {
	return mcp.NewTool("shell_list_commands",
		mcp.WithDescription("List all commands issued in this session with their statuses"),
	)
}

func shellDisconnectTool() mcp.Tool {
	return mcp.NewTool("shell_disconnect",
		mcp.WithDescription("Close the shell session"),
	)
}

// Tool handlers

func (s *Server) handleShellConnect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	host := mcp.ParseString(req, "host", "")
	user := mcp.ParseString(req, "user", "")
	local := mcp.ParseBoolean(req, "local", false)

	if !local && host == "" {
		return mcp.NewToolResultError("host is required"), nil
	}
	if !local && user == "" {
		return mcp.NewToolResultError("user is required"), nil
	}

	opts := engine.ConnectOptions{
		Host:     host,
		Port:     mcp.ParseInt(req, "port", 22),
		User:     user,
		KeyPath:  mcp.ParseString(req, "key_path", ""),
		UseAgent: mcp.ParseBoolean(req, "use_agent", true),
		Local:    local,
	}

	if err := s.engine.Connect(ctx, opts); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return jsonResult(map[string]any{
		"status": "connected",
		"host":   s.engine.Host(),
	})
}

func (s *Server) handleShellExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cmdText := mcp.ParseString(req, "command", "")
	timeoutMs := mcp.ParseInt(req, "timeout_ms", 0)

	if cmdText == "" {
		return mcp.NewToolResultError("command is required"), nil
	}

	override := mcp.ParseString(req, "expected_prompt", "")

	result, err := s.engine.Execute(ctx, cmdText, time.Duration(timeoutMs)*time.Millisecond, override)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

func (s *Server) handleShellCheckStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(req, "command_id", "")
	if id == "" {
		return mcp.NewToolResultError("command_id is required"), nil
	}

	result, err := s.engine.CheckStatus(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

func (s *Server) handleShellCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(req, "command_id", "")
	if id == "" {
		return mcp.NewToolResultError("command_id is required"), nil
	}

	result, err := s.engine.Cancel(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

func (s *Server) handleShellRawOutput(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if id := mcp.ParseString(req, "command_id", ""); id != "" {
		output, err := s.engine.RawOutputFor(id)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]any{
			"command_id": id,
			"output":     output,
		})
	}

	start := mcp.ParseInt(req, "start_line", 0)
	end := mcp.ParseInt(req, "end_line", -1)

	output, err := s.engine.RawOutput(start, end)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"start_line": start,
		"end_line":   end,
		"output":     output,
	})
}

func (s *Server) handleShellListCommands(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{
		"commands": s.engine.ListCommands(),
	})
}

func (s *Server) handleShellDisconnect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.engine.Disconnect(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Session closed"), nil
}

// jsonResult converts a value to a JSON tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
