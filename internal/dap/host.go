package dap

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"

	"github.com/ctagard/deepdbg/internal/controller"
	"github.com/ctagard/deepdbg/internal/errors"
	"github.com/ctagard/deepdbg/internal/launchconfig"
	"github.com/ctagard/deepdbg/internal/platform"
)

// Host starts sessions by sending reverse requests to the front-end.
type Host struct {
	transport *Transport
	caps      platform.Capabilities
	log       logr.Logger

	mu      sync.Mutex
	pending map[int]chan envelope
}

// NewHost creates a host that talks to the front-end over t.
func NewHost(t *Transport, caps platform.Capabilities, log logr.Logger) *Host {
	return &Host{
		transport: t,
		caps:      caps,
		log:       log.WithName("host"),
		pending:   make(map[int]chan envelope),
	}
}

var _ controller.Host = (*Host)(nil)

// StartDebugging asks the front-end to start a session for cfg. The
// relay-private keys in cfg tell the front-end which session is the parent.
func (h *Host) StartDebugging(ctx context.Context, cfg *launchconfig.Configuration, parent *controller.Session) error {
	m, err := cfg.ToMap()
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}

	seq := h.transport.NextSeq()
	req := &dap.StartDebuggingRequest{
		Request: newRequest(seq, "startDebugging"),
		Arguments: dap.StartDebuggingRequestArguments{
			Configuration: m,
			Request:       "launch",
		},
	}
	if parent != nil {
		h.log.V(1).Info("Starting child session", "session", cfg.SessionID, "parent", parent.ID)
	}
	return h.call(ctx, seq, req)
}

// RunInTerminal asks the front-end to run a command line in its integrated
// terminal.
func (h *Host) RunInTerminal(ctx context.Context, tr controller.TerminalRequest) error {
	seq := h.transport.NextSeq()
	req := &dap.RunInTerminalRequest{
		Request: newRequest(seq, "runInTerminal"),
		Arguments: dap.RunInTerminalRequestArguments{
			Kind:  "integrated",
			Title: tr.Title,
			Cwd:   tr.Cwd,
			Args:  h.shellArgs(tr.Command),
		},
	}
	return h.call(ctx, seq, req)
}

func (h *Host) shellArgs(command string) []string {
	if h.caps.OS == "windows" {
		return []string{"cmd.exe", "/d", "/c", command}
	}
	return []string{"/bin/sh", "-c", command}
}

// call sends a reverse request and waits for the front-end's answer.
func (h *Host) call(ctx context.Context, seq int, req dap.RequestMessage) error {
	command := req.GetRequest().Command
	ch := make(chan envelope, 1)

	h.mu.Lock()
	h.pending[seq] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.pending, seq)
		h.mu.Unlock()
	}()

	h.log.V(1).Info("Sending reverse request", "command", command, "seq", seq)
	if err := h.transport.Send(req); err != nil {
		return err
	}

	select {
	case resp := <-ch:
		if !resp.Success {
			return errors.HostRejected(command, resp.Message)
		}
		return nil
	case <-ctx.Done():
		return errors.Timeout(command, ctx.Err())
	}
}

// resolve delivers a front-end response to the waiting reverse request.
// It reports false for responses nobody waits for.
func (h *Host) resolve(resp envelope) bool {
	h.mu.Lock()
	ch, ok := h.pending[resp.RequestSeq]
	h.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- resp:
	default:
	}
	return true
}

func newRequest(seq int, command string) dap.Request {
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Seq: seq, Type: "request"},
		Command:         command,
	}
}
