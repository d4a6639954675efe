package livelink

import (
	"encoding/base64"
	"reflect"
	"testing"
)

func TestDecodeServerFrame(t *testing.T) {
	t.Parallel()

	audio := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})

	tests := []struct {
		name string
		data string
		want InboundEvent
	}{
		{
			name: "setup complete",
			data: `{"type":"setup_complete","session_id":"sess_9"}`,
			want: SetupCompleteEvent{SessionID: "sess_9"},
		},
		{
			name: "audio decodes payload",
			data: `{"type":"audio","data_b64":"` + audio + `"}`,
			want: AudioEvent{Data: []byte{1, 2, 3}},
		},
		{
			name: "text",
			data: `{"type":"text","text":"hi"}`,
			want: TextEvent{Text: "hi"},
		},
		{
			name: "turn complete",
			data: `{"type":"turn_complete"}`,
			want: TurnCompleteEvent{},
		},
		{
			name: "interrupted",
			data: `{"type":"interrupted","reason":"barge_in"}`,
			want: InterruptedEvent{Reason: "barge_in"},
		},
		{
			name: "input transcription",
			data: `{"type":"input_transcription","text":"hello","finished":true}`,
			want: InputTranscriptionEvent{Text: "hello", Finished: true},
		},
		{
			name: "output transcription partial",
			data: `{"type":"output_transcription","text":"wor"}`,
			want: OutputTranscriptionEvent{Text: "wor"},
		},
		{
			name: "tool call",
			data: `{"type":"tool_call","id":"tc_1","name":"lookup","args":{"q":"go"}}`,
			want: ToolCallEvent{ID: "tc_1", Name: "lookup", Args: map[string]any{"q": "go"}},
		},
		{
			name: "server error",
			data: `{"type":"error","code":"rate_limited","message":"slow down","close":false}`,
			want: ServerErrorEvent{Code: "rate_limited", Message: "slow down"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := decodeServerFrame([]byte(tt.data))
			if err != nil {
				t.Fatalf("decodeServerFrame error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("decodeServerFrame = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecodeServerFrame_UnknownTypeForwardedRaw(t *testing.T) {
	t.Parallel()

	data := `{"type":"usage_report","tokens":12}`
	got, err := decodeServerFrame([]byte(data))
	if err != nil {
		t.Fatalf("decodeServerFrame error: %v", err)
	}
	unknown, ok := got.(UnknownEvent)
	if !ok {
		t.Fatalf("decodeServerFrame = %T, want UnknownEvent", got)
	}
	if unknown.Type != "usage_report" || string(unknown.Raw) != data {
		t.Fatalf("unknown event = %+v", unknown)
	}
}

func TestDecodeServerFrame_Malformed(t *testing.T) {
	t.Parallel()

	for _, data := range []string{
		`{not json`,
		`{"text":"no type"}`,
		`{"type":"audio","data_b64":"%%%"}`,
	} {
		if _, err := decodeServerFrame([]byte(data)); err == nil {
			t.Errorf("decodeServerFrame(%q) succeeded, want error", data)
		}
	}
}
