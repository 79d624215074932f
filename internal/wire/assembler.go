package wire

import (
	"bytes"
	"encoding/json"
)

// MaxPending bounds how many bytes the assembler keeps while waiting for a
// message to complete. A stream that exceeds it without producing a valid
// message is resynchronized on the next header.
const MaxPending = 1 << 20

var headers = [][]byte{
	[]byte(CommandStart + separator),
	[]byte(CommandStarted + separator),
}

// Assembler rebuilds start messages from a relay byte stream. Bytes that do
// not belong to a message are discarded.
//
// A "|end" inside a JSON string does not end a message: a candidate
// boundary is accepted only when the bytes before it form a valid JSON
// value. A message whose payload never becomes valid is dropped as soon as
// the next header follows one of its boundaries, so it cannot hold back the
// messages behind it. Assembler is not safe for concurrent use.
type Assembler struct {
	// Malformed, if set, receives the payload of every dropped message.
	Malformed func(payload []byte)

	buf []byte
}

// Write appends a chunk and returns every message it completed, in stream
// order.
func (a *Assembler) Write(chunk []byte) []Message {
	a.buf = append(a.buf, chunk...)

	var out []Message
	for {
		msg, ok := a.next()
		if !ok {
			return out
		}
		out = append(out, msg)
	}
}

// Pending returns the number of buffered bytes.
func (a *Assembler) Pending() int {
	return len(a.buf)
}

func (a *Assembler) next() (Message, bool) {
	for {
		start, header := findHeader(a.buf)
		if start < 0 {
			a.keepTail()
			return Message{}, false
		}
		a.buf = a.buf[start:]

		body := skipHeaders(a.buf[len(header):])
		offset := len(a.buf) - len(body)

		// First boundary that is directly followed by another header.
		dropAt := -1
		for from := 0; ; {
			i := bytes.Index(body[from:], []byte(terminator))
			if i < 0 {
				break
			}
			end := from + i
			if payload := bytes.TrimSpace(body[:end]); json.Valid(payload) {
				msg := Message{
					Command: string(header[:len(header)-len(separator)]),
					Payload: append(json.RawMessage(nil), payload...),
				}
				a.buf = a.buf[offset+end+len(terminator):]
				return msg, true
			}
			from = end + len(terminator)
			if dropAt < 0 && startsWithHeader(body[from:]) {
				dropAt = end
			}
		}

		switch {
		case dropAt >= 0:
			a.drop(bytes.TrimSpace(body[:dropAt]))
			a.buf = a.buf[offset+dropAt+len(terminator):]
		case len(a.buf) > MaxPending:
			a.drop(nil)
			a.resync(len(header))
		default:
			return Message{}, false
		}
	}
}

func (a *Assembler) drop(payload []byte) {
	if a.Malformed != nil {
		a.Malformed(payload)
	}
}

func startsWithHeader(b []byte) bool {
	b = bytes.TrimLeft(b, " \t\r\n")
	for _, h := range headers {
		if bytes.HasPrefix(b, h) {
			return true
		}
	}
	return false
}

// keepTail drops everything except a suffix that may still grow into a header.
func (a *Assembler) keepTail() {
	keep := len(CommandStarted + separator)
	if len(a.buf) > keep {
		a.buf = append([]byte(nil), a.buf[len(a.buf)-keep:]...)
	}
}

// resync abandons the current message and moves to the next header, if any.
func (a *Assembler) resync(skip int) {
	next, _ := findHeader(a.buf[skip:])
	if next < 0 {
		a.buf = nil
		return
	}
	a.buf = a.buf[skip+next:]
}

func findHeader(b []byte) (int, []byte) {
	pos, found := -1, []byte(nil)
	for _, h := range headers {
		if i := bytes.Index(b, h); i >= 0 && (pos < 0 || i < pos) {
			pos, found = i, h
		}
	}
	return pos, found
}
