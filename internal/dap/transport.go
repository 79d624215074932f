// Package dap implements the debug adapter side of the Debug Adapter
// Protocol (DAP) for deepdbg.
//
// The front-end launches deepdbg as an adapter. This package provides:
//   - Transport: message framing over stdio or a socket
//   - Server: the adapter request loop (initialize, launch, configurationDone, disconnect)
//   - Host: a controller.Host that starts child sessions through reverse requests
//
// The protocol is described at: https://microsoft.github.io/debug-adapter-protocol/
package dap

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/go-dap"
)

// Transport handles communication with a DAP front-end
type Transport struct {
	closer io.Closer
	reader *bufio.Reader
	writer *bufio.Writer
	mu     sync.Mutex
	seq    int
}

// NewTransport creates a transport reading from r and writing to w. Close
// closes w when it is an io.Closer.
func NewTransport(r io.Reader, w io.Writer) *Transport {
	t := &Transport{
		reader: bufio.NewReader(r),
		writer: bufio.NewWriter(w),
		seq:    1,
	}
	if c, ok := w.(io.Closer); ok {
		t.closer = c
	}
	return t
}

// NewConnTransport creates a transport over an accepted connection
func NewConnTransport(conn net.Conn) *Transport {
	t := NewTransport(conn, conn)
	t.closer = conn
	return t
}

// NextSeq returns the next sequence number
func (t *Transport) NextSeq() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	seq := t.seq
	t.seq++
	return seq
}

// Send sends a DAP message
func (t *Transport) Send(msg dap.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := dap.WriteProtocolMessage(t.writer, msg); err != nil {
		return fmt.Errorf("failed to write DAP message: %w", err)
	}

	if err := t.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush DAP message: %w", err)
	}

	return nil
}

// Receive reads one message body. Custom requests are not known to the
// go-dap decoder, so decoding is left to the caller.
func (t *Transport) Receive() ([]byte, error) {
	return dap.ReadBaseMessage(t.reader)
}

// Close closes the transport
func (t *Transport) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}

// envelope holds the fields shared by every protocol message.
type envelope struct {
	Seq        int             `json:"seq"`
	Type       string          `json:"type"`
	Command    string          `json:"command,omitempty"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	RequestSeq int             `json:"request_seq,omitempty"`
	Success    bool            `json:"success,omitempty"`
	Message    string          `json:"message,omitempty"`
}

func peek(raw []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("invalid DAP message: %w", err)
	}
	return env, nil
}
