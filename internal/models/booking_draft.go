package models

import (
	"errors"
	"strings"
	"time"
)

// FulfillmentType is how the customer receives the car
type FulfillmentType string

const (
	FulfillmentPickup   FulfillmentType = "pickup"
	FulfillmentDelivery FulfillmentType = "delivery"
)

// PersonalInfo holds the renter's contact details
type PersonalInfo struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Address  string `json:"address,omitempty"`
}

// PricingSnapshot stores the price computed when the draft was created
type PricingSnapshot struct {
	DailyRate    float64   `json:"daily_rate"`
	Days         int       `json:"days"`
	Subtotal     float64   `json:"subtotal"`
	DeliveryFee  float64   `json:"delivery_fee"`
	Total        float64   `json:"total"`
	Currency     string    `json:"currency"`
	CalculatedAt time.Time `json:"calculated_at"`
}

// NewPricingSnapshot prices a rental of the given length
func NewPricingSnapshot(dailyRate float64, days int, deliveryFee float64, currency string, now time.Time) PricingSnapshot {
	subtotal := dailyRate * float64(days)
	return PricingSnapshot{
		DailyRate:    dailyRate,
		Days:         days,
		Subtotal:     subtotal,
		DeliveryFee:  deliveryFee,
		Total:        subtotal + deliveryFee,
		Currency:     currency,
		CalculatedAt: now,
	}
}

// BookingDraft is the customer's in-progress reservation
type BookingDraft struct {
	CarID           string          `json:"car_id"`
	DateRange       DateRange       `json:"date_range"`
	Fulfillment     FulfillmentType `json:"fulfillment"`
	DeliveryAddress string          `json:"delivery_address,omitempty"`
	PersonalInfo    PersonalInfo    `json:"personal_info"`
	Pricing         PricingSnapshot `json:"pricing"`
}

// CreateDraftRequest is posted by the client when the customer fills the booking form
type CreateDraftRequest struct {
	CarID           string          `json:"car_id" binding:"required"`
	StartDate       string          `json:"start_date" binding:"required"`
	EndDate         string          `json:"end_date" binding:"required"`
	Fulfillment     FulfillmentType `json:"fulfillment"`
	DeliveryAddress string          `json:"delivery_address,omitempty"`
	PersonalInfo    PersonalInfo    `json:"personal_info"`
	DailyRate       float64         `json:"daily_rate" binding:"required"`
	DeliveryFee     float64         `json:"delivery_fee"`
}

// Validate validates the draft request
func (r *CreateDraftRequest) Validate() error {
	if strings.TrimSpace(r.CarID) == "" {
		return errors.New("car_id is required")
	}
	if r.DailyRate <= 0 {
		return errors.New("daily_rate must be positive")
	}
	if r.DeliveryFee < 0 {
		return errors.New("delivery_fee must not be negative")
	}
	switch r.Fulfillment {
	case "":
		r.Fulfillment = FulfillmentPickup
	case FulfillmentPickup:
	case FulfillmentDelivery:
		if strings.TrimSpace(r.DeliveryAddress) == "" {
			return errors.New("delivery_address is required for delivery")
		}
	default:
		return errors.New("fulfillment must be pickup or delivery")
	}
	if strings.TrimSpace(r.PersonalInfo.FullName) == "" {
		return errors.New("personal_info.full_name is required")
	}
	return nil
}

// ToDraft builds the draft, pricing it at the given instant
func (r *CreateDraftRequest) ToDraft(currency string, now time.Time) (*BookingDraft, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	dates, err := ParseDateRange(r.StartDate, r.EndDate)
	if err != nil {
		return nil, err
	}

	fee := r.DeliveryFee
	if r.Fulfillment == FulfillmentPickup {
		fee = 0
	}

	return &BookingDraft{
		CarID:           r.CarID,
		DateRange:       dates,
		Fulfillment:     r.Fulfillment,
		DeliveryAddress: r.DeliveryAddress,
		PersonalInfo:    r.PersonalInfo,
		Pricing:         NewPricingSnapshot(r.DailyRate, dates.Days(), fee, currency, now),
	}, nil
}
