package dap

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"

	"github.com/ctagard/deepdbg/internal/controller"
	"github.com/ctagard/deepdbg/internal/errors"
	"github.com/ctagard/deepdbg/internal/hook"
	"github.com/ctagard/deepdbg/internal/launchconfig"
	"github.com/ctagard/deepdbg/internal/platform"
)

// Custom requests the front-end sends to report child session lifecycle.
// Both carry {"configuration": {...}}.
const (
	CommandSessionStarted    = "deepdbgSessionStarted"
	CommandSessionTerminated = "deepdbgSessionTerminated"
)

// LaunchArguments are the launch request arguments deepdbg understands.
// They override file and environment settings for one launch.
type LaunchArguments struct {
	Launch           interface{} `json:"launch,omitempty"`
	PythonHook       string      `json:"pythonHook,omitempty"`
	CppHook          string      `json:"cppHook,omitempty"`
	BashHook         string      `json:"bashHook,omitempty"`
	Queue            string      `json:"queue,omitempty"`
	TrackHierarchy   *bool       `json:"trackHierarchy,omitempty"`
	BinaryExtensions *bool       `json:"binaryExtensions,omitempty"`
	WorkspaceFolder  string      `json:"workspaceFolder,omitempty"`
	LaunchJSON       string      `json:"launchJSON,omitempty"`
	LogFile          string      `json:"logFile,omitempty"`
	Trace            bool        `json:"trace,omitempty"`
}

// Apply returns base with the arguments layered on top.
func (a LaunchArguments) Apply(base controller.Options) controller.Options {
	o := base
	o.Launch = a.Launch
	if o.HookVars.Python == "" && o.HookVars.Cpp == "" && o.HookVars.Bash == "" {
		o.HookVars = hook.DefaultHookVars()
	}
	if a.PythonHook != "" {
		o.HookVars.Python = a.PythonHook
	}
	if a.CppHook != "" {
		o.HookVars.Cpp = a.CppHook
	}
	if a.BashHook != "" {
		o.HookVars.Bash = a.BashHook
	}
	if a.Queue != "" {
		o.Queue = a.Queue
	}
	if a.TrackHierarchy != nil {
		o.TrackHierarchy = *a.TrackHierarchy
	}
	if a.BinaryExtensions != nil {
		o.BinaryExtensions = *a.BinaryExtensions
	}
	if a.WorkspaceFolder != "" {
		o.WorkspaceFolder = a.WorkspaceFolder
	}
	if a.LaunchJSON != "" {
		o.LaunchJSON = a.LaunchJSON
	}
	return o
}

// ServerOptions configures an adapter server.
type ServerOptions struct {
	Caps platform.Capabilities

	// Base holds the settings launch arguments are applied to.
	Base controller.Options

	// NewController builds the controller driven by this adapter.
	NewController func(host controller.Host) *controller.Controller

	// OnLaunch, when set, sees the raw arguments before the launch starts.
	OnLaunch func(args LaunchArguments)
}

// Server is the adapter side of one front-end connection.
type Server struct {
	transport *Transport
	host      *Host
	ctrl      *controller.Controller
	opts      ServerOptions
	log       logr.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewServer creates an adapter serving the front-end on t.
func NewServer(t *Transport, opts ServerOptions, log logr.Logger) *Server {
	host := NewHost(t, opts.Caps, log)
	return &Server{
		transport: t,
		host:      host,
		ctrl:      opts.NewController(host),
		opts:      opts,
		log:       log.WithName("adapter"),
	}
}

// Controller returns the controller driven by this adapter.
func (s *Server) Controller() *controller.Controller {
	return s.ctrl
}

// Serve handles requests until the front-end disconnects or closes the
// stream.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.wg.Wait()
	}()

	for {
		raw, err := s.transport.Receive()
		if err != nil {
			s.closeController(context.Background())
			if stderrors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read DAP message: %w", err)
		}

		done, err := s.dispatch(ctx, raw)
		if err != nil {
			s.log.Error(err, "Failed to handle DAP message")
		}
		if done {
			return nil
		}
	}
}

// dispatch handles one message and reports whether the session is over.
func (s *Server) dispatch(ctx context.Context, raw []byte) (bool, error) {
	env, err := peek(raw)
	if err != nil {
		return false, err
	}

	switch env.Type {
	case "response":
		if !s.host.resolve(env) {
			s.log.V(1).Info("Ignoring unmatched response", "command", env.Command, "request_seq", env.RequestSeq)
		}
		return false, nil
	case "request":
	default:
		return false, fmt.Errorf("unexpected message type %q", env.Type)
	}

	s.log.V(1).Info("Received request", "command", env.Command, "seq", env.Seq)

	switch env.Command {
	case CommandSessionStarted, CommandSessionTerminated:
		return false, s.onSessionEvent(env)
	}

	msg, err := dap.DecodeProtocolMessage(raw)
	if err != nil {
		return false, s.sendError(env.Seq, env.Command, fmt.Sprintf("unsupported request %q", env.Command))
	}

	switch req := msg.(type) {
	case *dap.InitializeRequest:
		return false, s.onInitialize(req)
	case *dap.LaunchRequest:
		return false, s.onLaunch(ctx, req)
	case *dap.ConfigurationDoneRequest:
		err := s.transport.Send(&dap.ConfigurationDoneResponse{Response: s.newResponse(req.Seq, req.Command)})
		s.ctrl.ConfigurationDone()
		return false, err
	case *dap.ThreadsRequest:
		resp := &dap.ThreadsResponse{Response: s.newResponse(req.Seq, req.Command)}
		resp.Body.Threads = []dap.Thread{{Id: 1, Name: "deepdbg"}}
		return false, s.transport.Send(resp)
	case *dap.TerminateRequest:
		s.closeController(ctx)
		if err := s.transport.Send(&dap.TerminateResponse{Response: s.newResponse(req.Seq, req.Command)}); err != nil {
			return false, err
		}
		return false, s.sendTerminated()
	case *dap.DisconnectRequest:
		s.closeController(ctx)
		return true, s.transport.Send(&dap.DisconnectResponse{Response: s.newResponse(req.Seq, req.Command)})
	default:
		return false, s.sendError(env.Seq, env.Command, fmt.Sprintf("unsupported request %q", env.Command))
	}
}

func (s *Server) onInitialize(req *dap.InitializeRequest) error {
	s.log.Info("Front-end connected", "clientID", req.Arguments.ClientID, "adapterID", req.Arguments.AdapterID)
	if !req.Arguments.SupportsRunInTerminalRequest {
		s.log.Info("Front-end does not announce runInTerminal support; command line launches may fail")
	}

	resp := &dap.InitializeResponse{Response: s.newResponse(req.Seq, req.Command)}
	resp.Body.SupportsConfigurationDoneRequest = true
	resp.Body.SupportsTerminateRequest = true
	if err := s.transport.Send(resp); err != nil {
		return err
	}
	return s.transport.Send(&dap.InitializedEvent{Event: s.newEvent("initialized")})
}

// onLaunch starts the relayed launch in the background; it waits for
// configurationDone, which arrives on this same loop.
func (s *Server) onLaunch(ctx context.Context, req *dap.LaunchRequest) error {
	var args LaunchArguments
	if len(req.Arguments) > 0 {
		if err := json.Unmarshal(req.Arguments, &args); err != nil {
			return s.sendError(req.Seq, req.Command, fmt.Sprintf("invalid launch arguments: %v", err))
		}
	}
	if s.opts.OnLaunch != nil {
		s.opts.OnLaunch(args)
	}
	opts := args.Apply(s.opts.Base)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if err := s.ctrl.Launch(ctx, opts); err != nil {
			s.log.Error(err, "Launch failed")
			msg := err.Error()
			if errors.CodeOf(err) == errors.CodeConfigNotFound {
				msg = controller.MissingConfigurationMessage
			}
			if err := s.sendError(req.Seq, req.Command, msg); err != nil {
				s.log.Error(err, "Failed to send launch error")
			}
			if err := s.sendTerminated(); err != nil {
				s.log.Error(err, "Failed to send terminated event")
			}
			return
		}

		if err := s.transport.Send(&dap.LaunchResponse{Response: s.newResponse(req.Seq, req.Command)}); err != nil {
			s.log.Error(err, "Failed to send launch response")
		}
	}()
	return nil
}

type sessionEventArguments struct {
	Configuration map[string]interface{} `json:"configuration"`
}

func (s *Server) onSessionEvent(env envelope) error {
	var args sessionEventArguments
	if err := json.Unmarshal(env.Arguments, &args); err != nil || args.Configuration == nil {
		return s.sendError(env.Seq, env.Command, "missing configuration")
	}
	cfg, err := launchconfig.FromMap(args.Configuration)
	if err != nil {
		return s.sendError(env.Seq, env.Command, fmt.Sprintf("invalid configuration: %v", err))
	}

	if env.Command == CommandSessionStarted {
		s.ctrl.SessionStarted(cfg)
	} else {
		s.ctrl.SessionTerminated(cfg)
	}

	resp := s.newResponse(env.Seq, env.Command)
	return s.transport.Send(&resp)
}

func (s *Server) closeController(ctx context.Context) {
	s.closeOnce.Do(func() {
		if err := s.ctrl.Close(ctx); err != nil {
			s.log.Error(err, "Failed to close controller")
		}
	})
}

func (s *Server) sendTerminated() error {
	return s.transport.Send(&dap.TerminatedEvent{Event: s.newEvent("terminated")})
}

func (s *Server) sendError(requestSeq int, command, message string) error {
	resp := &dap.ErrorResponse{Response: s.newResponse(requestSeq, command)}
	resp.Success = false
	resp.Message = message
	resp.Body.Error = &dap.ErrorMessage{Id: 1, Format: message, ShowUser: true}
	return s.transport.Send(resp)
}

func (s *Server) newResponse(requestSeq int, command string) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: s.transport.NextSeq(), Type: "response"},
		RequestSeq:      requestSeq,
		Success:         true,
		Command:         command,
	}
}

func (s *Server) newEvent(event string) dap.Event {
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Seq: s.transport.NextSeq(), Type: "event"},
		Event:           event,
	}
}
