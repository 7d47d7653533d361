package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/carrental/booking-hold/internal/models"
)

// ErrUnknownMessageType is returned when an envelope carries a type this build does not know
var ErrUnknownMessageType = errors.New("unknown message type")

// Envelope is the wire frame shared by events and commands
type Envelope struct {
	Type    string          `json:"type"`
	Room    string          `json:"room,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeEvent frames an event for a room
func EncodeEvent(room string, ev models.Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", ev.EventType(), err)
	}
	return json.Marshal(Envelope{Type: string(ev.EventType()), Room: room, Payload: payload})
}

// DecodeEvent parses a framed event and returns its room
func DecodeEvent(data []byte) (string, models.Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("failed to decode envelope: %w", err)
	}

	var ev models.Event
	switch models.EventType(env.Type) {
	case models.EventHoldWarning:
		var w models.HoldWarning
		if err := unmarshalPayload(env.Payload, &w); err != nil {
			return "", nil, err
		}
		ev = w
	case models.EventHoldExpired:
		ev = models.HoldExpired{}
	case models.EventPaymentStatusUpdated:
		var p models.PaymentStatusUpdated
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return "", nil, err
		}
		if p.Status != models.PaymentStatusPaid && p.Status != models.PaymentStatusFailed {
			return "", nil, fmt.Errorf("invalid payment status %q", p.Status)
		}
		ev = p
	default:
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}
	return env.Room, ev, nil
}

// EncodeCommand frames a client command
func EncodeCommand(cmd models.Command) ([]byte, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", cmd.CommandType(), err)
	}
	env := Envelope{Type: string(cmd.CommandType()), Payload: payload}
	if ext, ok := cmd.(models.ExtendHold); ok {
		env.Room = ext.Room
	}
	return json.Marshal(env)
}

// DecodeCommand parses a framed command
func DecodeCommand(data []byte) (models.Command, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}

	switch models.CommandType(env.Type) {
	case models.CommandExtendHold:
		var ext models.ExtendHold
		if err := unmarshalPayload(env.Payload, &ext); err != nil {
			return nil, err
		}
		if ext.Room == "" {
			ext.Room = env.Room
		}
		if ext.Room == "" {
			return nil, errors.New("extend_hold requires a room")
		}
		return ext, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}
}

func unmarshalPayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}
