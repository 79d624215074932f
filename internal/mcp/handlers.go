package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/samber/lo"

	"github.com/ctagard/deepdbg/internal/errors"
	"github.com/ctagard/deepdbg/internal/hook"
	"github.com/ctagard/deepdbg/internal/launchconfig"
	"github.com/ctagard/deepdbg/internal/relay"
	"github.com/ctagard/deepdbg/internal/wire"
)

func (s *Server) handleRelayDecode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message, err := request.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError("message is required"), nil
	}

	msg, err := wire.Parse([]byte(message))
	if err != nil {
		return toolError(err), nil
	}

	var inject []launchconfig.EnvEntry
	if queue := request.GetString("queue", ""); queue != "" {
		inject = append(inject, launchconfig.EnvEntry{Name: hook.EnvLauncherQueue, Value: s.caps.ChannelPath(queue)})
	}

	cfg, err := s.codec.Decode(ctx, msg, inject)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(cfg)
}

func (s *Server) handleRelaySend(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	queue, err := request.RequireString("queue")
	if err != nil {
		return mcp.NewToolResultError("queue is required"), nil
	}
	program, err := request.RequireString("program")
	if err != nil {
		return mcp.NewToolResultError("program is required"), nil
	}

	payload := wire.Payload{
		Type:            request.GetString("type", ""),
		Name:            request.GetString("name", ""),
		Program:         program,
		Cwd:             request.GetString("cwd", ""),
		Args:            request.GetStringSlice("args", nil),
		ParentSessionID: request.GetString("parentSessionId", ""),
	}
	data, err := wire.EncodeStart(payload)
	if err != nil {
		return toolError(err), nil
	}

	path := s.caps.ChannelPath(queue)
	if err := relay.Send(ctx, path, data, s.dialTimeout); err != nil {
		return toolError(err), nil
	}
	s.log.Info("Sent start message", "queue", path, "program", program)

	return jsonResult(map[string]interface{}{
		"queue":   path,
		"message": string(data),
	})
}

func (s *Server) handleRelayUnblock(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	channel, err := request.RequireString("channel")
	if err != nil {
		return mcp.NewToolResultError("channel is required"), nil
	}
	if err := relay.Unblock(ctx, channel, s.dialTimeout); err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]interface{}{"channel": channel, "sent": wire.CommandStopped})
}

func (s *Server) handleRelayStop(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	queue, err := request.RequireString("queue")
	if err != nil {
		return mcp.NewToolResultError("queue is required"), nil
	}
	path := s.caps.ChannelPath(queue)
	if err := relay.Stop(ctx, path, s.dialTimeout); err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]interface{}{"queue": path, "sent": wire.CommandStop})
}

func (s *Server) handleLaunchConfigurations(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var (
		lj   *launchconfig.LaunchJSON
		path string
		err  error
	)
	if path = request.GetString("configPath", ""); path != "" {
		lj, err = launchconfig.LoadFromPath(path)
	} else {
		lj, path, err = launchconfig.LoadAndDiscover(request.GetString("workspace", ""))
	}
	if err != nil {
		return toolError(err), nil
	}

	configs := lo.Map(lj.Configurations, func(c launchconfig.Configuration, _ int) map[string]interface{} {
		return map[string]interface{}{
			"name":    c.Name,
			"type":    string(c.Type),
			"request": c.Request,
		}
	})
	return jsonResult(map[string]interface{}{
		"path":           path,
		"configurations": configs,
	})
}

// toolError renders err with its code and hint so the caller can act on it.
func toolError(err error) *mcp.CallToolResult {
	de := errors.FromError(err)
	return mcp.NewToolResultError(fmt.Sprintf("[%s] %s", de.Code, de.Error()))
}

func jsonResult(data interface{}) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
