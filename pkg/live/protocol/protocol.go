// Package protocol defines the wire frames exchanged between a livelink
// client and its relay. Frames are JSON objects discriminated by a "type"
// field. The relay forwards setup and realtime-media frames upstream,
// forwards upstream responses back verbatim, and silently discards
// heartbeat frames.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	ProtocolVersion1 = "1"

	// Outbound frame discriminants.
	TypeSetup         = "setup"
	TypeSetupUpdate   = "setup_update"
	TypeRealtimeInput = "realtime_input"
	TypeHeartbeat     = "heartbeat"

	// Inbound frame discriminants.
	TypeSetupComplete       = "setup_complete"
	TypeAudio               = "audio"
	TypeText                = "text"
	TypeTurnComplete        = "turn_complete"
	TypeInterrupted         = "interrupted"
	TypeInputTranscription  = "input_transcription"
	TypeOutputTranscription = "output_transcription"
	TypeToolCall            = "tool_call"
	TypeError               = "error"
)

// knownVoices are the synthesis voices the upstream service accepts.
var knownVoices = []string{"Aoede", "Charon", "Fenrir", "Kore", "Leda", "Orus", "Puck", "Zephyr"}

// KnownVoices returns the accepted synthesis voice names.
func KnownVoices() []string {
	return append([]string(nil), knownVoices...)
}

// ValidVoice reports whether name is an accepted synthesis voice.
func ValidVoice(name string) bool {
	for _, v := range knownVoices {
		if v == name {
			return true
		}
	}
	return false
}

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// SetupFeatures carries the negotiated per-session feature flags.
type SetupFeatures struct {
	GoogleGrounding     bool `json:"google_grounding,omitempty"`
	InputTranscription  bool `json:"input_transcription,omitempty"`
	OutputTranscription bool `json:"output_transcription,omitempty"`
	ProactiveAudio      bool `json:"proactive_audio,omitempty"`
}

// ClientSetup is the handshake request. The session is not usable until the
// relay answers with a setup_complete frame.
type ClientSetup struct {
	Type               string        `json:"type"`
	ProtocolVersion    string        `json:"protocol_version"`
	ProjectID          string        `json:"project_id"`
	Model              string        `json:"model"`
	SystemInstructions string        `json:"system_instructions,omitempty"`
	Voice              string        `json:"voice,omitempty"`
	Features           SetupFeatures `json:"features,omitempty"`
}

// ClientSetupUpdate re-negotiates a subset of the session configuration
// mid-session. project_id is deliberately absent: it cannot change while
// connected.
type ClientSetupUpdate struct {
	Type                string  `json:"type"`
	Model               *string `json:"model,omitempty"`
	SystemInstructions  *string `json:"system_instructions,omitempty"`
	Voice               *string `json:"voice,omitempty"`
	GoogleGrounding     *bool   `json:"google_grounding,omitempty"`
	InputTranscription  *bool   `json:"input_transcription,omitempty"`
	OutputTranscription *bool   `json:"output_transcription,omitempty"`
	ProactiveAudio      *bool   `json:"proactive_audio,omitempty"`
}

// MediaChunk is one unit of outbound realtime media.
type MediaChunk struct {
	MimeType string `json:"mime_type"`
	DataB64  string `json:"data_b64"`
}

type ClientRealtimeInput struct {
	Type   string       `json:"type"`
	Chunks []MediaChunk `json:"chunks"`
}

// ClientHeartbeat defeats idle-timeout middleboxes. The relay recognizes it
// by type and never forwards it upstream.
type ClientHeartbeat struct {
	Type string `json:"type"`
}

// DecodeClientMessage parses and validates one client frame. The relay (and
// the fake relay used in tests) routes on the returned concrete type.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case TypeSetup:
		var msg ClientSetup
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid setup frame", "")
		}
		if err := ValidateSetup(msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeSetupUpdate:
		var msg ClientSetupUpdate
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid setup_update frame", "")
		}
		if msg.Voice != nil && !ValidVoice(strings.TrimSpace(*msg.Voice)) {
			return nil, unsupported("unknown voice", "voice")
		}
		return msg, nil
	case TypeRealtimeInput:
		var msg ClientRealtimeInput
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid realtime_input frame", "")
		}
		if len(msg.Chunks) == 0 {
			return nil, badRequest("realtime_input.chunks must not be empty", "chunks")
		}
		for i, chunk := range msg.Chunks {
			if strings.TrimSpace(chunk.MimeType) == "" {
				return nil, badRequest("realtime_input chunk mime_type is required", fmt.Sprintf("chunks[%d].mime_type", i))
			}
			if strings.TrimSpace(chunk.DataB64) == "" {
				return nil, badRequest("realtime_input chunk data_b64 is required", fmt.Sprintf("chunks[%d].data_b64", i))
			}
		}
		return msg, nil
	case TypeHeartbeat:
		return ClientHeartbeat{Type: TypeHeartbeat}, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

// ValidateSetup enforces the handshake contract.
func ValidateSetup(msg ClientSetup) error {
	if strings.TrimSpace(msg.ProtocolVersion) == "" {
		return badRequest("setup.protocol_version is required", "protocol_version")
	}
	if strings.TrimSpace(msg.ProjectID) == "" {
		return badRequest("setup.project_id is required", "project_id")
	}
	if strings.TrimSpace(msg.Model) == "" {
		return badRequest("setup.model is required", "model")
	}
	if voice := strings.TrimSpace(msg.Voice); voice != "" && !ValidVoice(voice) {
		return unsupported("unknown voice", "voice")
	}
	return nil
}

// Inbound frames, forwarded verbatim by the relay from the upstream service.

type ServerSetupComplete struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
}

type ServerAudio struct {
	Type    string `json:"type"`
	DataB64 string `json:"data_b64"`
}

type ServerText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ServerTurnComplete struct {
	Type string `json:"type"`
}

type ServerInterrupted struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

type ServerTranscription struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Finished bool   `json:"finished,omitempty"`
}

type ServerToolCall struct {
	Type string         `json:"type"`
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Close   bool   `json:"close,omitempty"`
}
