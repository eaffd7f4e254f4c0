// Package hotserver implements spec.md §4.J: the hot-reload WebSocket core.
// Browser clients identify themselves by target name and a short token
// minted at startup; the server tracks one subscription registry per
// target and broadcasts compile results, matching the wire shape the
// injected client-side runtime (internal/inject) expects.
package hotserver

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Inbound message tags (client -> server), §4.J.
const (
	InboundChangedCompilationMode   = "ChangedCompilationMode"
	InboundChangedBrowserUiPosition = "ChangedBrowserUiPosition"
	InboundChangedOpenErrorOverlay  = "ChangedOpenErrorOverlay"
	InboundFocusedTab               = "FocusedTab"
	InboundPressedOpenEditor        = "PressedOpenEditor"
)

// Outbound message tags (server -> client), §4.J.
const (
	OutboundFocusedTabAcknowledged                  = "FocusedTabAcknowledged"
	OutboundOpenEditorFailed                        = "OpenEditorFailed"
	OutboundStatusChanged                           = "StatusChanged"
	OutboundSuccessfullyCompiled                    = "SuccessfullyCompiled"
	OutboundSuccessfullyCompiledButRecordFieldsChanged = "SuccessfullyCompiledButRecordFieldsChanged"
)

// OpenEditorFailed reasons, §4.J.
const (
	OpenEditorFailedEnvNotSet    = "EnvNotSet"
	OpenEditorFailedCommandFailed = "CommandFailed"
)

// InboundMessage is the decoded shape of every client->server message; only
// the fields relevant to Tag are populated.
type InboundMessage struct {
	Tag               string `json:"tag"`
	CompilationMode   string `json:"compilationMode,omitempty"`
	BrowserUiPosition string `json:"browserUiPosition,omitempty"`
	Open              bool   `json:"open,omitempty"`
	File              string `json:"file,omitempty"`
	Line              int    `json:"line,omitempty"`
	Column            int    `json:"column,omitempty"`
}

// DecodeInbound parses one client->server JSON message.
func DecodeInbound(data []byte) (InboundMessage, error) {
	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return InboundMessage{}, err
	}
	return msg, nil
}

// StatusPayload is the server's view of one target's current status, as
// reported in a StatusChanged message.
type StatusPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message,omitempty"`
}

// outboundEnvelope is the JSON shape shared by every server->client message
// except SuccessfullyCompiled, whose code is carried out-of-band (see
// EncodeSuccessfullyCompiled).
type outboundEnvelope struct {
	Tag               string         `json:"tag"`
	Reason            string         `json:"reason,omitempty"`
	Status            *StatusPayload `json:"status,omitempty"`
	CompiledTimestamp int64          `json:"compiledTimestamp,omitempty"`
	CompilationMode   string         `json:"compilationMode,omitempty"`
	BrowserUiPosition string         `json:"browserUiPosition,omitempty"`
}

// EncodeFocusedTabAcknowledged encodes a plain acknowledgement message.
func EncodeFocusedTabAcknowledged() ([]byte, error) {
	return json.Marshal(outboundEnvelope{Tag: OutboundFocusedTabAcknowledged})
}

// EncodeOpenEditorFailed encodes an OpenEditorFailed{reason} message.
func EncodeOpenEditorFailed(reason string) ([]byte, error) {
	return json.Marshal(outboundEnvelope{Tag: OutboundOpenEditorFailed, Reason: reason})
}

// EncodeStatusChanged encodes a StatusChanged{status} message.
func EncodeStatusChanged(status StatusPayload) ([]byte, error) {
	return json.Marshal(outboundEnvelope{Tag: OutboundStatusChanged, Status: &status})
}

// EncodeSuccessfullyCompiledButRecordFieldsChanged encodes the reload
// instruction sent when the accessed-record-field set changed between two
// optimize-mode compiles (§4.J "Reload-vs-patch decision").
func EncodeSuccessfullyCompiledButRecordFieldsChanged() ([]byte, error) {
	return json.Marshal(outboundEnvelope{Tag: OutboundSuccessfullyCompiledButRecordFieldsChanged})
}

// EncodeSuccessfullyCompiled produces the special wire encoding for
// SuccessfullyCompiled (§4.J "Wire encoding"): a JS line comment carrying
// the envelope as JSON, a newline, then the raw compiled code — so the
// browser never has to JSON.stringify megabytes of JS, and the envelope
// stays parseable by slicing off everything up to the first '\n'.
func EncodeSuccessfullyCompiled(compiledTimestamp int64, compilationMode, browserUiPosition, code string) ([]byte, error) {
	envelope, err := json.Marshal(outboundEnvelope{
		Tag:               OutboundSuccessfullyCompiled,
		CompiledTimestamp: compiledTimestamp,
		CompilationMode:   compilationMode,
		BrowserUiPosition: browserUiPosition,
	})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString("//")
	buf.Write(envelope)
	buf.WriteByte('\n')
	buf.WriteString(code)
	return buf.Bytes(), nil
}

// DecodeSuccessfullyCompiled splits the special encoding back into its
// envelope and code, accepting the plain-JSON form too (a message with no
// leading "//" and no embedded code) per §4.J "Decoder must accept both
// forms".
func DecodeSuccessfullyCompiled(data []byte) (timestamp int64, compilationMode, browserUiPosition, code string, err error) {
	if !bytes.HasPrefix(data, []byte("//")) {
		var env outboundEnvelope
		if err = json.Unmarshal(data, &env); err != nil {
			return 0, "", "", "", err
		}
		return env.CompiledTimestamp, env.CompilationMode, env.BrowserUiPosition, "", nil
	}

	rest := data[2:]
	idx := bytes.IndexByte(rest, '\n')
	if idx < 0 {
		return 0, "", "", "", fmt.Errorf("hotserver: malformed SuccessfullyCompiled message: no newline after envelope")
	}

	var env outboundEnvelope
	if err = json.Unmarshal(rest[:idx], &env); err != nil {
		return 0, "", "", "", err
	}
	return env.CompiledTimestamp, env.CompilationMode, env.BrowserUiPosition, string(rest[idx+1:]), nil
}
