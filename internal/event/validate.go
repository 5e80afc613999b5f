package event

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// maxIDLen bounds sessionId, agentId and toolCallId.
const maxIDLen = 256

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

var stopStatuses = map[string]bool{
	"success":   true,
	"failure":   true,
	"cancelled": true,
}

// ValidationError describes a rejected ingress event. The receiver maps it
// to a 400 response.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "event: " + e.Reason }

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ValidID reports whether id is a well-formed identifier: non-empty,
// at most 256 chars, and limited to [A-Za-z0-9._-].
func ValidID(id string) bool {
	return id != "" && len(id) <= maxIDLen && idPattern.MatchString(id)
}

// validOptionalID accepts empty (field absent) or a well-formed identifier.
func validOptionalID(id string) bool {
	return id == "" || ValidID(id)
}

// Validate parses raw JSON into the matching ingress event variant.
// It enforces the recognized discriminator set, the timestamp being a
// string, and the shape of all ID fields. Validation is idempotent: a
// validated event re-marshalled and re-validated is accepted again.
func Validate(raw []byte) (Event, error) {
	var probe struct {
		Type      Type            `json:"type"`
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, invalid("malformed JSON")
	}

	if !ingressTypes[probe.Type] {
		return nil, invalid("unrecognized event type %q", probe.Type)
	}

	var ts string
	if probe.Timestamp == nil || json.Unmarshal(probe.Timestamp, &ts) != nil || ts == "" {
		return nil, invalid("timestamp must be a non-empty string")
	}

	switch probe.Type {
	case TypeToolStart:
		var ev ToolStart
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, invalid("invalid tool_start payload")
		}
		if !validOptionalID(ev.SessionID) || !validOptionalID(ev.AgentID) || !validOptionalID(ev.ToolCallID) {
			return nil, invalid("invalid ID field")
		}
		return &ev, nil

	case TypeToolEnd:
		var ev ToolEnd
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, invalid("invalid tool_end payload")
		}
		if !validOptionalID(ev.ToolCallID) {
			return nil, invalid("invalid ID field")
		}
		return &ev, nil

	case TypeThinking:
		var ev Thinking
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, invalid("invalid thinking payload")
		}
		if !validOptionalID(ev.SessionID) || !validOptionalID(ev.AgentID) {
			return nil, invalid("invalid ID field")
		}
		return &ev, nil

	case TypeAgentStart:
		var ev AgentStart
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, invalid("invalid agent_start payload")
		}
		if !ValidID(ev.AgentID) {
			return nil, invalid("agent_start requires a valid agentId")
		}
		if !validOptionalID(ev.SessionID) || !validOptionalID(ev.ParentAgentID) {
			return nil, invalid("invalid ID field")
		}
		return &ev, nil

	case TypeAgentStop:
		var ev AgentStop
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, invalid("invalid agent_stop payload")
		}
		if !ValidID(ev.AgentID) {
			return nil, invalid("agent_stop requires a valid agentId")
		}
		if ev.Status != "" && !stopStatuses[ev.Status] {
			return nil, invalid("invalid agent_stop status %q", ev.Status)
		}
		return &ev, nil

	case TypeSessionStart:
		var ev SessionStart
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, invalid("invalid session_start payload")
		}
		if !ValidID(ev.SessionID) {
			return nil, invalid("session_start requires a valid sessionId")
		}
		return &ev, nil

	case TypeSessionStop:
		var ev SessionStop
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, invalid("invalid session_stop payload")
		}
		if !ValidID(ev.SessionID) {
			return nil, invalid("session_stop requires a valid sessionId")
		}
		return &ev, nil
	}

	return nil, invalid("unrecognized event type %q", probe.Type)
}
