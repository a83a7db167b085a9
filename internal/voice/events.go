package voice

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/ashureev/onboarding-voice/internal/domain"
)

// EventKind discriminates client events.
type EventKind int

// Event kinds delivered by a Client.
const (
	EventConnect EventKind = iota + 1
	EventDisconnect
	EventMessage
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is one item on a Client's event channel.
type Event struct {
	Kind EventKind
	// Payload is the raw message for EventMessage.
	Payload json.RawMessage
	// Err is set for EventError, and for EventDisconnect when the
	// connection dropped abnormally.
	Err error
}

// ActionKind says what to do with a classified message.
type ActionKind int

// Actions.
const (
	ActionIgnore ActionKind = iota
	ActionAppend
	ActionCorrect
)

// Action is the outcome of Classify.
type Action struct {
	Kind    ActionKind
	Speaker domain.Speaker
	Text    string
	// AgentError marks an error reported in-band by the agent.
	AgentError bool
}

const unknownAgentError = "Unknown error from agent"

// Classify maps a raw message payload onto a log action. Unknown shapes,
// unknown fields and malformed payloads are ignored.
func Classify(payload []byte) Action {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return Action{}
	}

	typ := jsonString(fields["type"])
	if typ == "error" || truthy(fields["error_type"]) {
		text := jsonText(fields["message"])
		if text == "" {
			text = jsonText(fields["error_message"])
		}
		if text == "" {
			text = unknownAgentError
		}
		return Action{Kind: ActionAppend, Speaker: domain.SpeakerAgent, Text: "Error: " + text, AgentError: true}
	}

	switch typ {
	case "user_transcript":
		if text := nestedString(fields["user_transcription_event"], "user_transcript"); text != "" {
			return Action{Kind: ActionAppend, Speaker: domain.SpeakerNewHire, Text: text}
		}
	case "agent_response":
		if text := nestedString(fields["agent_response_event"], "agent_response"); text != "" {
			return Action{Kind: ActionAppend, Speaker: domain.SpeakerAgent, Text: text}
		}
	case "agent_response_correction":
		if text := nestedString(fields["agent_response_correction_event"], "corrected_agent_response"); text != "" {
			return Action{Kind: ActionCorrect, Speaker: domain.SpeakerAgent, Text: text}
		}
	}
	return Action{}
}

func nestedString(raw json.RawMessage, key string) string {
	if len(raw) == 0 {
		return ""
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	return jsonString(obj[key])
}

func jsonString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// jsonText renders a truthy value as text: strings verbatim, anything else as
// compact JSON.
func jsonText(raw json.RawMessage) string {
	if !truthy(raw) {
		return ""
	}
	if s := jsonString(raw); s != "" {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return strings.TrimSpace(string(raw))
	}
	return buf.String()
}

func truthy(raw json.RawMessage) bool {
	v := strings.TrimSpace(string(raw))
	switch v {
	case "", "null", "false", "0", `""`:
		return false
	}
	return true
}
