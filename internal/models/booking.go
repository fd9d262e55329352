package models

import "time"

type BookingType string

const (
	BookingTypeStandard BookingType = "standard"
	BookingTypeGroup    BookingType = "group"
	BookingTypeWebinar  BookingType = "webinar"
)

const (
	BookingStatusPending                 = "pending"
	BookingStatusPendingMinimumAttendees = "pending_minimum_attendees"
	BookingStatusScheduled               = "scheduled"
	BookingStatusConfirmed               = "confirmed"
	BookingStatusCompleted               = "completed"
	BookingStatusDeclined                = "declined"
	BookingStatusCancelled               = "cancelled"
)

const (
	AttendeeStatusConfirmed     = "confirmed"
	AttendeeStatusPaymentFailed = "payment_failed"
	AttendeeStatusCancelled     = "cancelled"
	AttendeeStatusRefunded      = "refunded"
)

// BookingPayment mirrors the payment state on the booking document.
type BookingPayment struct {
	Status          string  `json:"status"`
	PaymentID       *int64  `json:"payment_id,omitempty"`
	PaymentIntentID *string `json:"payment_intent_id,omitempty"`
}

type Attendee struct {
	UserID    int64     `json:"user_id"`
	Status    string    `json:"status"`
	PaymentID *int64    `json:"payment_id,omitempty"`
	JoinedAt  time.Time `json:"joined_at"`
}

type Booking struct {
	ID                int64          `json:"id"`
	UserID            int64          `json:"user_id"`
	CoachID           int64          `json:"coach_id"`
	Type              BookingType    `json:"type"`
	Status            string         `json:"status"`
	ScheduledAt       time.Time      `json:"scheduled_at"`
	DurationMinutes   int            `json:"duration_minutes"`
	PriceMinor        int64          `json:"price"`
	OvertimeRateMinor int64          `json:"overtime_rate_per_minute"`
	Currency          string         `json:"currency"`
	MaxAttendees      int            `json:"max_attendees"`
	MinAttendees      int            `json:"min_attendees"`
	Payment           BookingPayment `json:"payment"`
	Attendees         []Attendee     `json:"attendees,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func (b *Booking) ConfirmedAttendees() int {
	count := 0
	for _, attendee := range b.Attendees {
		if attendee.Status == AttendeeStatusConfirmed {
			count++
		}
	}
	return count
}

func (b *Booking) Attendee(userID int64) (*Attendee, bool) {
	for i := range b.Attendees {
		if b.Attendees[i].UserID == userID {
			return &b.Attendees[i], true
		}
	}
	return nil, false
}

const (
	SessionStateRequested = "requested"
	SessionStateConfirmed = "confirmed"
	SessionStateActive    = "active"
	SessionStateCompleted = "completed"
	SessionStateCancelled = "cancelled"
)

// Session is the in-progress document of a booking and owns its overtime segments.
type Session struct {
	ID               int64             `json:"id"`
	BookingID        int64             `json:"booking_id"`
	State            string            `json:"state"`
	OvertimeSegments []OvertimeSegment `json:"overtime_segments"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

type OvertimeStatus string

const (
	OvertimeStatusRequested           OvertimeStatus = "requested"
	OvertimeStatusPendingConfirmation OvertimeStatus = "pending_confirmation"
	OvertimeStatusAuthorized          OvertimeStatus = "authorized"
	OvertimeStatusFailed              OvertimeStatus = "failed"
	OvertimeStatusCaptured            OvertimeStatus = "captured"
	OvertimeStatusCanceled            OvertimeStatus = "canceled"
	OvertimeStatusExpired             OvertimeStatus = "expired"
)

type CaptureResult struct {
	Success        bool   `json:"success"`
	Status         string `json:"status"`
	ChargeID       string `json:"charge_id,omitempty"`
	CapturedAmount int64  `json:"captured_amount"`
}

type OvertimeSegment struct {
	ID                 int64          `json:"id"`
	SessionID          int64          `json:"session_id"`
	Status             OvertimeStatus `json:"status"`
	RequestedMinutes   int            `json:"requested_minutes"`
	CalculatedMaxPrice int64          `json:"calculated_max_price"`
	Currency           string         `json:"currency"`
	PaymentIntentID    *string        `json:"payment_intent_id,omitempty"`
	PaymentID          *int64         `json:"payment_id,omitempty"`
	CaptureResult      *CaptureResult `json:"capture_result,omitempty"`
	RequestedAt        time.Time      `json:"requested_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}
