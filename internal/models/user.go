package models

import "time"

const (
	RoleUser  = "user"
	RoleCoach = "coach"
	RoleAdmin = "admin"
)

type User struct {
	ID                     int64     `json:"id"`
	Email                  string    `json:"email"`
	Role                   string    `json:"role"`
	FullName               *string   `json:"full_name,omitempty"`
	StripeCustomerID       *string   `json:"-"`
	StripeAccountID        *string   `json:"-"`
	DefaultPaymentMethodID *string   `json:"-"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

func (u *User) DisplayName() string {
	if u.FullName != nil && *u.FullName != "" {
		return *u.FullName
	}
	return u.Email
}

const (
	RefundRequestStatusOpen     = "open"
	RefundRequestStatusApproved = "approved"
	RefundRequestStatusRejected = "rejected"
)

// RefundRequest is a ticket a payer opens and the coach answers.
type RefundRequest struct {
	ID           int64     `json:"id"`
	PaymentID    int64     `json:"payment_id"`
	RequesterID  int64     `json:"requester_id"`
	CoachID      int64     `json:"coach_id"`
	AmountMinor  int64     `json:"amount"`
	Currency     string    `json:"currency"`
	Reason       string    `json:"reason"`
	Status       string    `json:"status"`
	ResponseNote *string   `json:"response_note,omitempty"`
	RefundID     *string   `json:"refund_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type PaginationMeta struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasMore    bool `json:"has_more"`
}
