// Package mcp provides the Model Context Protocol (MCP) server implementation.
//
// This package exposes the relay plumbing as MCP tools so that assistants
// and scripts can inspect and drive a running session tree:
//
//   - relay_decode: Decode a hook message into the launch configuration it produces
//   - relay_send: Send a start message for a configuration to a launcher queue
//   - relay_unblock: Release a hook waiting on its block channel
//   - relay_stop: Shut a relay server down
//   - launch_configurations: List the configurations of a launch.json
package mcp

import (
	"time"

	"github.com/go-logr/logr"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ctagard/deepdbg/internal/codec"
	"github.com/ctagard/deepdbg/internal/platform"
	"github.com/ctagard/deepdbg/internal/relay"
	"github.com/ctagard/deepdbg/internal/version"
)

// Server wraps the MCP server with the relay tools
type Server struct {
	mcpServer   *server.MCPServer
	codec       *codec.Codec
	caps        platform.Capabilities
	dialTimeout time.Duration
	log         logr.Logger
}

// NewServer creates a new deepdbg MCP server
func NewServer(c *codec.Codec, caps platform.Capabilities, dialTimeout time.Duration, log logr.Logger) *Server {
	mcpServer := server.NewMCPServer(
		"deepdbg",
		version.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	if dialTimeout <= 0 {
		dialTimeout = relay.DefaultDialTimeout
	}

	s := &Server{
		mcpServer:   mcpServer,
		codec:       c,
		caps:        caps,
		dialTimeout: dialTimeout,
		log:         log.WithName("mcp"),
	}

	s.registerTools()

	return s
}

// ServeStdio starts the server using stdio transport
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// MCPServer returns the underlying MCP server
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}
