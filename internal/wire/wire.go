// Package wire defines the messages exchanged between hooks, the relay
// server and the session controller.
//
// A message is a command word optionally followed by a JSON payload and the
// end sentinel:
//
//	start|{"v":1,"program":"L3Vzci9iaW4vbHM=",...}|end
//	stopped
//
// The relay carries messages over byte streams, so a message may arrive in
// several chunks. Assembler rebuilds complete messages from such a stream.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ctagard/deepdbg/internal/errors"
)

// Commands understood on relay channels.
const (
	// CommandStart announces a child process that wants a debug session.
	CommandStart = "start"
	// CommandStarted is accepted as an alias of CommandStart.
	CommandStarted = "started"
	// CommandStopped releases a hook waiting on its block channel.
	CommandStopped = "stopped"
	// CommandStop shuts a relay server down.
	CommandStop = "stop"
)

const (
	separator  = "|"
	terminator = "|end"
)

// Message is one decoded envelope.
type Message struct {
	Command string
	Payload json.RawMessage
}

// Bare reports whether the message is a command without payload.
func (m Message) Bare() bool {
	return len(m.Payload) == 0
}

// Encode renders the message in its wire form.
func (m Message) Encode() []byte {
	if m.Bare() {
		return []byte(m.Command)
	}
	buf := make([]byte, 0, len(m.Command)+len(m.Payload)+len(separator)+len(terminator))
	buf = append(buf, m.Command...)
	buf = append(buf, separator...)
	buf = append(buf, m.Payload...)
	buf = append(buf, terminator...)
	return buf
}

// IsStart reports whether the message announces a child launch.
func (m Message) IsStart() bool {
	return m.Command == CommandStart || m.Command == CommandStarted
}

// Parse decodes one complete message. Surrounding whitespace is ignored.
func Parse(data []byte) (Message, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Message{}, errors.MessageMalformed("empty message", nil)
	}

	cmd, rest, found := bytes.Cut(data, []byte(separator))
	if !found {
		switch string(data) {
		case CommandStart, CommandStarted, CommandStopped, CommandStop:
			return Message{Command: string(data)}, nil
		}
		return Message{}, errors.MessageMalformed(fmt.Sprintf("unknown command %q", data), nil)
	}

	switch string(cmd) {
	case CommandStart, CommandStarted:
	default:
		return Message{}, errors.MessageMalformed(fmt.Sprintf("command %q does not take a payload", cmd), nil)
	}

	rest = skipHeaders(rest)
	payload, ok := bytes.CutSuffix(rest, []byte(terminator))
	if !ok {
		return Message{}, errors.MessageMalformed("missing end sentinel", nil)
	}
	if !json.Valid(payload) {
		return Message{}, errors.MessageMalformed("payload is not valid JSON", nil)
	}

	return Message{Command: string(cmd), Payload: json.RawMessage(payload)}, nil
}

// EncodeStart builds the start message for a payload, encoded with the
// current schema version.
func EncodeStart(p Payload) ([]byte, error) {
	raw, err := json.Marshal(p.Encoded())
	if err != nil {
		return nil, errors.MessageMalformed("cannot marshal payload", err)
	}
	return Message{Command: CommandStart, Payload: raw}.Encode(), nil
}

// skipHeaders drops repeated command headers. Older relay servers prefix
// the hook's own start message with another one.
func skipHeaders(b []byte) []byte {
	for {
		trimmed := b
		for _, h := range headers {
			if bytes.HasPrefix(b, h) {
				trimmed = b[len(h):]
				break
			}
		}
		if len(trimmed) == len(b) {
			return b
		}
		b = trimmed
	}
}
