package livelink

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/livelink-dev/livelink/pkg/live/protocol"
)

// InboundEvent is a tagged variant received from the relay. Events are
// transient: consumed immediately, never persisted.
type InboundEvent interface {
	inboundEventType() string
}

// SetupCompleteEvent acknowledges the handshake. The session transitions to
// connected on it; it is not forwarded to content listeners.
type SetupCompleteEvent struct {
	SessionID string
}

func (e SetupCompleteEvent) inboundEventType() string { return protocol.TypeSetupComplete }

// AudioEvent carries one decoded synthesized audio segment.
type AudioEvent struct {
	Data []byte
}

func (e AudioEvent) inboundEventType() string { return protocol.TypeAudio }

type TextEvent struct {
	Text string
}

func (e TextEvent) inboundEventType() string { return protocol.TypeText }

type TurnCompleteEvent struct{}

func (e TurnCompleteEvent) inboundEventType() string { return protocol.TypeTurnComplete }

// InterruptedEvent signals that the remote model preempted its own prior
// utterance (barge-in). Playback must flush immediately.
type InterruptedEvent struct {
	Reason string
}

func (e InterruptedEvent) inboundEventType() string { return protocol.TypeInterrupted }

type InputTranscriptionEvent struct {
	Text     string
	Finished bool
}

func (e InputTranscriptionEvent) inboundEventType() string { return protocol.TypeInputTranscription }

type OutputTranscriptionEvent struct {
	Text     string
	Finished bool
}

func (e OutputTranscriptionEvent) inboundEventType() string { return protocol.TypeOutputTranscription }

type ToolCallEvent struct {
	ID   string
	Name string
	Args map[string]any
}

func (e ToolCallEvent) inboundEventType() string { return protocol.TypeToolCall }

// ServerErrorEvent is an error reported by the relay or upstream service.
type ServerErrorEvent struct {
	Code    string
	Message string
	Close   bool
}

func (e ServerErrorEvent) inboundEventType() string { return protocol.TypeError }

type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (e UnknownEvent) inboundEventType() string { return e.Type }

// decodeServerFrame parses one inbound frame into a tagged event. A decode
// failure is local to that frame: callers log and drop, never tear down.
func decodeServerFrame(data []byte) (InboundEvent, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode frame envelope: %w", err)
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, fmt.Errorf("frame missing type")
	}

	switch typ {
	case protocol.TypeSetupComplete:
		var msg protocol.ServerSetupComplete
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode setup_complete: %w", err)
		}
		return SetupCompleteEvent{SessionID: msg.SessionID}, nil
	case protocol.TypeAudio:
		var msg protocol.ServerAudio
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode audio: %w", err)
		}
		pcm, err := base64.StdEncoding.DecodeString(msg.DataB64)
		if err != nil {
			return nil, fmt.Errorf("decode audio payload: %w", err)
		}
		return AudioEvent{Data: pcm}, nil
	case protocol.TypeText:
		var msg protocol.ServerText
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode text: %w", err)
		}
		return TextEvent{Text: msg.Text}, nil
	case protocol.TypeTurnComplete:
		return TurnCompleteEvent{}, nil
	case protocol.TypeInterrupted:
		var msg protocol.ServerInterrupted
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode interrupted: %w", err)
		}
		return InterruptedEvent{Reason: msg.Reason}, nil
	case protocol.TypeInputTranscription:
		var msg protocol.ServerTranscription
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode input_transcription: %w", err)
		}
		return InputTranscriptionEvent{Text: msg.Text, Finished: msg.Finished}, nil
	case protocol.TypeOutputTranscription:
		var msg protocol.ServerTranscription
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode output_transcription: %w", err)
		}
		return OutputTranscriptionEvent{Text: msg.Text, Finished: msg.Finished}, nil
	case protocol.TypeToolCall:
		var msg protocol.ServerToolCall
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode tool_call: %w", err)
		}
		return ToolCallEvent{ID: msg.ID, Name: msg.Name, Args: msg.Args}, nil
	case protocol.TypeError:
		var msg protocol.ServerError
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode error frame: %w", err)
		}
		return ServerErrorEvent{Code: msg.Code, Message: msg.Message, Close: msg.Close}, nil
	default:
		return UnknownEvent{
			Type: typ,
			Raw:  append(json.RawMessage(nil), data...),
		}, nil
	}
}
