package wire

import (
	"encoding/base64"
	"encoding/json"
	"regexp"

	"github.com/ctagard/deepdbg/internal/errors"
	"github.com/ctagard/deepdbg/internal/launchconfig"
)

// CurrentVersion is the payload schema version written by this build.
//
// Version 0 (no "v" key) carries every field as plain text. Version 1
// carries cwd, program and type base64 encoded so that they survive shell
// quoting; cmdline stays raw.
const CurrentVersion = 1

// Payload is the body of a start message.
type Payload struct {
	Version         int                     `json:"v,omitempty"`
	Type            string                  `json:"type,omitempty"`
	Name            string                  `json:"name,omitempty"`
	Program         string                  `json:"program,omitempty"`
	Cwd             string                  `json:"cwd,omitempty"`
	Cmdline         string                  `json:"cmdline,omitempty"`
	Args            []string                `json:"args,omitempty"`
	Environment     []launchconfig.EnvEntry `json:"environment,omitempty"`
	ParentSessionID string                  `json:"deepDbgParentSessionID,omitempty"`
	HookPipe        string                  `json:"deepDbgHookPipe,omitempty"`
}

// DecodePayload unmarshals a raw payload and returns it with every field in
// plain text, whatever version it was written with.
func DecodePayload(raw json.RawMessage) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.MessageMalformed("payload does not match the start schema", err)
	}
	return p.Decoded()
}

// Decoded returns a copy of p with the version specific encodings removed.
func (p Payload) Decoded() (*Payload, error) {
	switch {
	case p.Version < 0:
		return nil, errors.MessageMalformed("negative payload version", nil)
	case p.Version > CurrentVersion:
		return nil, errors.UnsupportedVersion(p.Version, CurrentVersion)
	case p.Version == 0:
		return &p, nil
	}

	fields := []struct {
		name  string
		value *string
	}{
		{"cwd", &p.Cwd},
		{"program", &p.Program},
		{"type", &p.Type},
	}
	for _, f := range fields {
		if *f.value == "" {
			continue
		}
		b, err := base64.StdEncoding.DecodeString(*f.value)
		if err != nil {
			return nil, errors.BadEncoding(f.name, err)
		}
		*f.value = string(b)
	}

	p.Version = 0
	return &p, nil
}

// Encoded returns a copy of p in the current schema version. p must hold
// plain text.
func (p Payload) Encoded() Payload {
	p.Version = CurrentVersion
	p.Cwd = encodeField(p.Cwd)
	p.Program = encodeField(p.Program)
	p.Type = encodeField(p.Type)
	return p
}

func encodeField(s string) string {
	if s == "" {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(s))
}

var hookPipePattern = regexp.MustCompile(`"deepDbgHookPipe"\s*:\s*"((?:[^"\\]|\\.)*)"`)

// HookPipeOf returns the block channel named by a payload, even when the
// payload is not valid JSON. It returns "" when none is named.
func HookPipeOf(payload []byte) string {
	var p struct {
		HookPipe string `json:"deepDbgHookPipe"`
	}
	if err := json.Unmarshal(payload, &p); err == nil {
		return p.HookPipe
	}
	m := hookPipePattern.FindSubmatch(payload)
	if m == nil {
		return ""
	}
	var pipe string
	if err := json.Unmarshal(append(append([]byte{'"'}, m[1]...), '"'), &pipe); err != nil {
		return ""
	}
	return pipe
}
