package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	FullName    string `json:"full_name"`
	ExpiresAt   string `json:"expires_at"`
}

// SaleProductLineRequest is one product line of a sale. UnitPrice, when set,
// overrides the catalog selling price for this line (negotiated price,
// promotion rung up by hand); nil means charge the current catalog price.
type SaleProductLineRequest struct {
	ProductID       string           `json:"product_id"`
	Quantity        int              `json:"quantity"`
	UnitPrice       *decimal.Decimal `json:"unit_price,omitempty"`
	DiscountPercent decimal.Decimal  `json:"discount_percent"`
}

type SaleMembershipLineRequest struct {
	PlanID     string `json:"plan_id"`
	CustomerID string `json:"customer_id"`
}

// SaleCreateRequest creates a multi-line sale. DiscountAmount is a flat
// sale-level discount applied on top of the per-line percentage discounts;
// CustomerID optionally ties the whole ticket to a customer.
type SaleCreateRequest struct {
	PaymentChannel string                      `json:"payment_channel"`
	AmountPaid     decimal.Decimal             `json:"amount_paid"`
	DiscountAmount decimal.Decimal             `json:"discount_amount"`
	CustomerID     string                      `json:"customer_id,omitempty"`
	Notes          string                      `json:"notes,omitempty"`
	Products       []SaleProductLineRequest    `json:"products,omitempty"`
	Memberships    []SaleMembershipLineRequest `json:"memberships,omitempty"`
}

type SaleReversalRequest struct {
	Reason string `json:"reason"`
}

// ChannelAmountsRequest mirrors ChannelAmounts for JSON input. Absent fields
// decode as zero, which is a legitimate count.
type ChannelAmountsRequest struct {
	Cash        decimal.Decimal `json:"cash"`
	Nequi       decimal.Decimal `json:"nequi"`
	Bancolombia decimal.Decimal `json:"bancolombia"`
	Daviplata   decimal.Decimal `json:"daviplata"`
	Card        decimal.Decimal `json:"card"`
	Transfer    decimal.Decimal `json:"transfer"`
}

func (r ChannelAmountsRequest) Amounts() ChannelAmounts {
	return ChannelAmounts{
		Cash:        r.Cash,
		Nequi:       r.Nequi,
		Bancolombia: r.Bancolombia,
		Daviplata:   r.Daviplata,
		Card:        r.Card,
		Transfer:    r.Transfer,
	}
}

type ClosureRequest struct {
	ShiftDate string                `json:"shift_date"`
	Counted   ChannelAmountsRequest `json:"counted"`
	Notes     string                `json:"notes,omitempty"`
}

type ClosureReviewRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes,omitempty"`
}

type SaleListFilter struct {
	SellerID string
	Status   SaleStatus
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

type ClosureListFilter struct {
	SellerID string
	Status   ClosureStatus
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}
