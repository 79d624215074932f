package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// registerTools registers the relay tool API
func (s *Server) registerTools() {
	s.registerRelayDecode()
	s.registerRelaySend()
	s.registerRelayUnblock()
	s.registerRelayStop()
	s.registerLaunchConfigurations()
}

func (s *Server) registerRelayDecode() {
	tool := mcp.NewTool("relay_decode",
		mcp.WithDescription("Decode a hook message (start|{...}|end) into the launch configuration the controller would start. Returns the configuration, or the error that would make the controller drop the message."),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("The complete hook message, including the start| header and |end trailer."),
		),
		mcp.WithString("queue",
			mcp.Description("Launcher queue to inject into the configuration environment, as the controller does. Optional."),
		),
	)
	s.mcpServer.AddTool(tool, s.handleRelayDecode)
}

func (s *Server) registerRelaySend() {
	tool := mcp.NewTool("relay_send",
		mcp.WithDescription("Send a start message to a launcher queue so that its controller starts a child debug session."),
		mcp.WithString("queue",
			mcp.Required(),
			mcp.Description("Launcher queue name or socket path (the value of DEEPDEBUGGER_LAUNCHER_QUEUE)."),
		),
		mcp.WithString("program",
			mcp.Required(),
			mcp.Description("Program to debug. Bare names are searched in PATH."),
		),
		mcp.WithString("cwd",
			mcp.Description("Working directory of the program."),
		),
		mcp.WithString("type",
			mcp.Description("Backend type tag (cppdbg, python, node, bashdb...). Inferred from the program when omitted."),
		),
		mcp.WithString("name",
			mcp.Description("Session name. Defaults to the program's base name."),
		),
		mcp.WithArray("args",
			mcp.Description("Program arguments."),
			mcp.WithStringItems(),
		),
		mcp.WithString("parentSessionId",
			mcp.Description("Relay session id of the parent session."),
		),
	)
	s.mcpServer.AddTool(tool, s.handleRelaySend)
}

func (s *Server) registerRelayUnblock() {
	tool := mcp.NewTool("relay_unblock",
		mcp.WithDescription("Send 'stopped' to a hook block channel, releasing the hook as if its session had ended."),
		mcp.WithString("channel",
			mcp.Required(),
			mcp.Description("Block channel socket path (deepDbgHookPipe of the session)."),
		),
	)
	s.mcpServer.AddTool(tool, s.handleRelayUnblock)
}

func (s *Server) registerRelayStop() {
	tool := mcp.NewTool("relay_stop",
		mcp.WithDescription("Send 'stop' to a relay server, ending it."),
		mcp.WithString("queue",
			mcp.Required(),
			mcp.Description("Launcher queue name or socket path."),
		),
	)
	s.mcpServer.AddTool(tool, s.handleRelayStop)
}

func (s *Server) registerLaunchConfigurations() {
	tool := mcp.NewTool("launch_configurations",
		mcp.WithDescription("List the configurations in a VS Code launch.json, as accepted by the adapter's \"launch\" argument."),
		mcp.WithString("workspace",
			mcp.Description("Workspace folder to discover .vscode/launch.json from."),
		),
		mcp.WithString("configPath",
			mcp.Description("Explicit path to a launch.json file."),
		),
	)
	s.mcpServer.AddTool(tool, s.handleLaunchConfigurations)
}
