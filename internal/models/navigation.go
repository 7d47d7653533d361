package models

import (
	"net/url"
	"strconv"
	"time"
)

// Application routes the client can be sent to
const (
	RouteEntry            = "/"
	RoutePaymentSuccess   = "/payment/success"
	RoutePaymentFailed    = "/payment/failed"
	RoutePaymentCancelled = "/payment/cancelled"
	RoutePaymentWaiting   = "/payment/waiting"
)

// Failure reasons surfaced on the failed view
const (
	ReasonPaymentFailed       = "payment_failed"
	ReasonConfirmationTimeout = "confirmation_timeout"
)

// Route is a navigation target; External routes leave the application
type Route struct {
	Path     string            `json:"path"`
	Query    map[string]string `json:"query,omitempty"`
	External bool              `json:"external,omitempty"`
}

// String renders the route as a URL with a stable query order
func (r Route) String() string {
	if len(r.Query) == 0 {
		return r.Path
	}
	values := url.Values{}
	for k, v := range r.Query {
		values.Set(k, v)
	}
	return r.Path + "?" + values.Encode()
}

// EntryRoute is the application entry point
func EntryRoute() Route {
	return Route{Path: RouteEntry}
}

// ExpiredRoute sends the customer back to the entry point after an expiry
func ExpiredRoute() Route {
	return Route{Path: RouteEntry, Query: map[string]string{"hold": "expired"}}
}

// SuccessRoute carries {booking_id, payment_id, amount}
func SuccessRoute(bookingID, paymentID string, amount float64) Route {
	return Route{
		Path: RoutePaymentSuccess,
		Query: map[string]string{
			"booking_id": bookingID,
			"payment_id": paymentID,
			"amount":     FormatAmount(amount),
		},
	}
}

// FailedRoute carries {booking_id, reason}
func FailedRoute(bookingID, reason string) Route {
	return Route{
		Path:  RoutePaymentFailed,
		Query: map[string]string{"booking_id": bookingID, "reason": reason},
	}
}

// CancelledRoute is the gateway cancel target
func CancelledRoute(bookingID string) Route {
	return Route{Path: RoutePaymentCancelled, Query: map[string]string{"booking_id": bookingID}}
}

// WaitingRoute carries {bookingId}
func WaitingRoute(bookingID string) Route {
	return Route{Path: RoutePaymentWaiting, Query: map[string]string{"bookingId": bookingID}}
}

// ExternalRoute hands control to a URL outside the application
func ExternalRoute(target string) Route {
	return Route{Path: target, External: true}
}

// FormatAmount renders an amount without trailing zeros ("500", "499.5")
func FormatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}

// ============================================================================
// VIEW UPDATES (pushed to the browser over SSE)
// ============================================================================

// ViewUpdateKind names a UI instruction
type ViewUpdateKind string

const (
	ViewPromptOpen   ViewUpdateKind = "prompt_open"
	ViewPromptUpdate ViewUpdateKind = "prompt_update"
	ViewPromptClose  ViewUpdateKind = "prompt_close"
	ViewNavigate     ViewUpdateKind = "navigate"
	ViewError        ViewUpdateKind = "error"
)

// ViewUpdate is one instruction for the thin client
type ViewUpdate struct {
	Kind             ViewUpdateKind `json:"kind"`
	SecondsRemaining *int           `json:"seconds_remaining,omitempty"`
	Route            *Route         `json:"route,omitempty"`
	URL              string         `json:"url,omitempty"`
	Message          string         `json:"message,omitempty"`
	At               time.Time      `json:"at"`
}
