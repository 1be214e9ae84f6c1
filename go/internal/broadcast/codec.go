package broadcast

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the wire form of every room message.
type Envelope struct {
	Type    Kind            `json:"type"`
	Sender  string          `json:"sender"`
	SentAt  time.Time       `json:"sent_at"`
	Payload json.RawMessage `json:"payload"`
}

// Encode validates msg and wraps it in an envelope.
func Encode(sender string, sentAt time.Time, msg Message) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msg.Kind(), err)
	}
	data, err := json.Marshal(Envelope{
		Type:    msg.Kind(),
		Sender:  sender,
		SentAt:  sentAt.UTC(),
		Payload: payload,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// Decode parses an envelope and its payload into the matching variant and
// validates it. Nothing that fails here may reach local state.
func Decode(data []byte) (Envelope, Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("%w: unmarshal envelope: %v", ErrInvalidMessage, err)
	}
	if env.Sender == "" {
		return env, nil, fmt.Errorf("%w: missing sender", ErrInvalidMessage)
	}

	msg, err := parsePayload(env.Type, env.Payload)
	if err != nil {
		return env, nil, err
	}
	if err := msg.Validate(); err != nil {
		return env, nil, err
	}
	if pa, ok := msg.(PlayerAnswers); ok && pa.PlayerID != env.Sender {
		return env, nil, invalid(KindPlayerAnswers, "sender %q submitted answers for %q", env.Sender, pa.PlayerID)
	}
	return env, msg, nil
}

func parsePayload(kind Kind, payload json.RawMessage) (Message, error) {
	switch kind {
	case KindGameState:
		var m GameState
		return unmarshal(kind, payload, &m)
	case KindPlayerAnswers:
		var m PlayerAnswers
		if _, err := unmarshal(kind, payload, &m); err != nil {
			return nil, err
		}
		if m.Result.PlayerID == "" {
			m.Result.PlayerID = m.PlayerID
		}
		return m, nil
	case KindVote:
		var m Vote
		return unmarshal(kind, payload, &m)
	case KindFinalScores:
		var m FinalScores
		return unmarshal(kind, payload, &m)
	case KindChat:
		var m Chat
		return unmarshal(kind, payload, &m)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// unmarshal decodes into a pointer to a variant and returns the value.
func unmarshal[T Message](kind Kind, payload json.RawMessage, m *T) (Message, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: %s: empty payload", ErrInvalidMessage, kind)
	}
	if err := json.Unmarshal(payload, m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMessage, kind, err)
	}
	return *m, nil
}
