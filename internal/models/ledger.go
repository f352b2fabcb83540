package models

import "time"

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Fees are the deductions computed from one gross amount.
type Fees struct {
	StripeFee   int64 `json:"stripe_fee"`
	PlatformFee int64 `json:"platform_fee"`
	TaxFee      int64 `json:"tax_fee"`
}

func (f Fees) Sum() int64 {
	return f.StripeFee + f.PlatformFee + f.TaxFee
}

// Payment is the client charge for a booking.
type Payment struct {
	ID                    int64         `json:"id" db:"id"`
	BookingID             int64         `json:"booking_id" db:"booking_id"`
	GrossAmount           int64         `json:"gross_amount" db:"gross_amount"`
	StripeFee             int64         `json:"stripe_fee" db:"stripe_fee"`
	PlatformFee           int64         `json:"platform_fee" db:"platform_fee"`
	TaxFee                int64         `json:"tax_fee" db:"tax_fee"`
	TotalAmount           int64         `json:"total_amount" db:"total_amount"`
	Currency              string        `json:"currency" db:"currency"`
	StripePaymentIntentID string        `json:"stripe_payment_intent_id" db:"stripe_payment_intent_id"`
	ClientSecret          string        `json:"client_secret,omitempty" db:"client_secret"`
	Status                PaymentStatus `json:"status" db:"status"`
	Attempt               int           `json:"attempt" db:"attempt"`
	Superseded            bool          `json:"superseded" db:"superseded"`
	CreatedAt             time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at" db:"updated_at"`
}

func (p *Payment) Fees() Fees {
	return Fees{StripeFee: p.StripeFee, PlatformFee: p.PlatformFee, TaxFee: p.TaxFee}
}

// NetAmount is what the host earns from this payment.
func (p *Payment) NetAmount() int64 {
	return p.GrossAmount - p.Fees().Sum()
}

type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "pending"
	PayoutProcessing PayoutStatus = "processing"
	PayoutCompleted  PayoutStatus = "completed"
	PayoutFailed     PayoutStatus = "failed"
)

// Payout aggregates net earnings for one host payout account.
type Payout struct {
	ID         int64        `json:"id" db:"id"`
	HostID     int64        `json:"host_id" db:"host_id"`
	AccountID  string       `json:"account_id" db:"account_id"`
	Amount     int64        `json:"amount" db:"amount"`
	Currency   string       `json:"currency" db:"currency"`
	Status     PayoutStatus `json:"status" db:"status"`
	Attempts   int          `json:"attempts" db:"attempts"`
	TransferID string       `json:"transfer_id,omitempty" db:"transfer_id"`
	LastError  string       `json:"last_error,omitempty" db:"last_error"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at" db:"updated_at"`
}

// PayoutItem is one booking's contribution to a payout.
type PayoutItem struct {
	ID          int64     `json:"id" db:"id"`
	PayoutID    int64     `json:"payout_id" db:"payout_id"`
	BookingID   int64     `json:"booking_id" db:"booking_id"`
	GrossAmount int64     `json:"gross_amount" db:"gross_amount"`
	StripeFee   int64     `json:"stripe_fee" db:"stripe_fee"`
	PlatformFee int64     `json:"platform_fee" db:"platform_fee"`
	TaxFee      int64     `json:"tax_fee" db:"tax_fee"`
	NetAmount   int64     `json:"net_amount" db:"net_amount"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
