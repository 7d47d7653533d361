package models

import "time"

// EventType names an inbound channel event
type EventType string

const (
	EventHoldWarning          EventType = "hold_warning"
	EventHoldExpired          EventType = "hold_expired"
	EventPaymentStatusUpdated EventType = "payment_status_updated"
)

// CommandType names an outbound channel command
type CommandType string

const (
	CommandExtendHold CommandType = "extend_hold"
)

// Event is the union of everything the server pushes to a room
type Event interface {
	EventType() EventType
}

// HoldWarning tells the client its hold is about to lapse
type HoldWarning struct {
	SecondsRemaining int        `json:"secondsRemaining"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`
}

func (HoldWarning) EventType() EventType { return EventHoldWarning }

// HoldExpired is the authoritative end of a hold
type HoldExpired struct{}

func (HoldExpired) EventType() EventType { return EventHoldExpired }

// PaymentStatusUpdated relays the gateway verdict learned from a webhook
type PaymentStatusUpdated struct {
	BookingID string        `json:"bookingId"`
	Status    PaymentStatus `json:"status"`
	PaymentID string        `json:"paymentId,omitempty"`
	Amount    *float64      `json:"amount,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}

func (PaymentStatusUpdated) EventType() EventType { return EventPaymentStatusUpdated }

// Command is the union of everything the client sends to the server
type Command interface {
	CommandType() CommandType
}

// ExtendHold asks the server to renew the hold of a room
type ExtendHold struct {
	Room string `json:"room"`
}

func (ExtendHold) CommandType() CommandType { return CommandExtendHold }
