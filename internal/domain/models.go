package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	CurrentStock int             `json:"current_stock"`
	Active       bool            `json:"active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type MembershipPlan struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Price         decimal.Decimal  `json:"price"`
	DiscountPrice *decimal.Decimal `json:"discount_price,omitempty"`
	DurationDays  int              `json:"duration_days"`
	Active        bool             `json:"active"`
}

// EffectivePrice is the price charged at the register: the promotional
// discount price when one is configured, the list price otherwise.
func (p MembershipPlan) EffectivePrice() decimal.Decimal {
	if p.DiscountPrice != nil {
		return *p.DiscountPrice
	}
	return p.Price
}

type Customer struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Document string `json:"document"`
	Active   bool   `json:"active"`
}

type StaffUser struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	FullName     string `json:"full_name"`
	Role         string `json:"role"`
	PasswordHash string `json:"-"`
	Active       bool   `json:"active"`
}

type Sale struct {
	ID             string               `json:"id"`
	SaleNumber     string               `json:"sale_number"`
	SellerID       string               `json:"seller_id"`
	CustomerID     string               `json:"customer_id,omitempty"`
	Type           SaleType             `json:"sale_type"`
	Status         SaleStatus           `json:"status"`
	PaymentChannel PaymentChannel       `json:"payment_channel"`
	Subtotal       decimal.Decimal      `json:"subtotal"`
	DiscountTotal  decimal.Decimal      `json:"discount_total"`
	Tax            decimal.Decimal      `json:"tax"`
	Total          decimal.Decimal      `json:"total"`
	AmountPaid     decimal.Decimal      `json:"amount_paid"`
	Change         decimal.Decimal      `json:"change"`
	Notes          string               `json:"notes,omitempty"`
	Products       []SaleProductLine    `json:"products,omitempty"`
	Memberships    []SaleMembershipLine `json:"memberships,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
	ReversedAt     *time.Time           `json:"reversed_at,omitempty"`
}

// SaleProductLine is a catalog snapshot: name and unit price are frozen at
// sale time so later catalog edits never change historical totals.
type SaleProductLine struct {
	ID              string          `json:"id"`
	SaleID          string          `json:"sale_id"`
	ProductID       string          `json:"product_id"`
	ProductName     string          `json:"product_name"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	LineTotal       decimal.Decimal `json:"line_total"`
}

type SaleMembershipLine struct {
	ID           string          `json:"id"`
	SaleID       string          `json:"sale_id"`
	PlanID       string          `json:"plan_id"`
	PlanName     string          `json:"plan_name"`
	CustomerID   string          `json:"customer_id"`
	MembershipID string          `json:"membership_id"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	LineTotal    decimal.Decimal `json:"line_total"`
}

type Membership struct {
	ID         string          `json:"id"`
	CustomerID string          `json:"customer_id"`
	PlanID     string          `json:"plan_id"`
	PlanName   string          `json:"plan_name"`
	Price      decimal.Decimal `json:"price"`
	StartDate  time.Time       `json:"start_date"`
	EndDate    time.Time       `json:"end_date"`
	Active     bool            `json:"active"`
	SaleID     string          `json:"sale_id"`
	CreatedAt  time.Time       `json:"created_at"`
}

type StockMovement struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"product_id"`
	Type        string    `json:"type"`
	Quantity    int       `json:"quantity"`
	StockBefore int       `json:"stock_before"`
	StockAfter  int       `json:"stock_after"`
	Reference   string    `json:"reference"`
	Notes       string    `json:"notes,omitempty"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

type RestockedProduct struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
}

type CancelledMembership struct {
	MembershipID string `json:"membership_id"`
	CustomerID   string `json:"customer_id"`
	PlanName     string `json:"plan_name"`
}

type ReversalRecord struct {
	ID                   string                `json:"id"`
	SaleID               string                `json:"sale_id"`
	SaleNumber           string                `json:"sale_number"`
	Reason               string                `json:"reason"`
	RefundedAmount       decimal.Decimal       `json:"refunded_amount"`
	RestockedProducts    []RestockedProduct    `json:"restocked_products"`
	CancelledMemberships []CancelledMembership `json:"cancelled_memberships"`
	ReversedBy           string                `json:"reversed_by"`
	CreatedAt            time.Time             `json:"created_at"`
}

// ChannelAmounts holds one monetary amount per payment channel. The closure
// engine uses the same shape three times: recorded by the system, counted by
// the seller, and the per-channel differences.
type ChannelAmounts struct {
	Cash        decimal.Decimal `json:"cash"`
	Nequi       decimal.Decimal `json:"nequi"`
	Bancolombia decimal.Decimal `json:"bancolombia"`
	Daviplata   decimal.Decimal `json:"daviplata"`
	Card        decimal.Decimal `json:"card"`
	Transfer    decimal.Decimal `json:"transfer"`
}

func (c ChannelAmounts) Get(ch PaymentChannel) decimal.Decimal {
	switch ch {
	case ChannelCash:
		return c.Cash
	case ChannelNequi:
		return c.Nequi
	case ChannelBancolombia:
		return c.Bancolombia
	case ChannelDaviplata:
		return c.Daviplata
	case ChannelCard:
		return c.Card
	case ChannelTransfer:
		return c.Transfer
	}
	return decimal.Zero
}

func (c *ChannelAmounts) Add(ch PaymentChannel, amount decimal.Decimal) {
	switch ch {
	case ChannelCash:
		c.Cash = c.Cash.Add(amount)
	case ChannelNequi:
		c.Nequi = c.Nequi.Add(amount)
	case ChannelBancolombia:
		c.Bancolombia = c.Bancolombia.Add(amount)
	case ChannelDaviplata:
		c.Daviplata = c.Daviplata.Add(amount)
	case ChannelCard:
		c.Card = c.Card.Add(amount)
	case ChannelTransfer:
		c.Transfer = c.Transfer.Add(amount)
	}
}

func (c ChannelAmounts) Total() decimal.Decimal {
	total := decimal.Zero
	for _, ch := range PaymentChannels {
		total = total.Add(c.Get(ch))
	}
	return total
}

type CashClosure struct {
	ID                   string          `json:"id"`
	SellerID             string          `json:"seller_id"`
	SellerName           string          `json:"seller_name,omitempty"`
	ShiftDate            time.Time       `json:"shift_date"`
	ShiftStart           time.Time       `json:"shift_start"`
	ShiftEnd             time.Time       `json:"shift_end"`
	Recorded             ChannelAmounts  `json:"recorded"`
	Counted              ChannelAmounts  `json:"counted"`
	Differences          ChannelAmounts  `json:"differences"`
	TotalRecorded        decimal.Decimal `json:"total_recorded"`
	TotalCounted         decimal.Decimal `json:"total_counted"`
	TotalDifferences     decimal.Decimal `json:"total_differences"`
	HasDiscrepancies     bool            `json:"has_discrepancies"`
	DiscrepancyNotes     string          `json:"discrepancy_notes,omitempty"`
	Notes                string          `json:"notes,omitempty"`
	Status               ClosureStatus   `json:"status"`
	SalesCount           int             `json:"sales_count"`
	TotalProductsSold    int             `json:"total_products_sold"`
	TotalMembershipsSold int             `json:"total_memberships_sold"`
	TotalDailyAccessSold int             `json:"total_daily_access_sold"`
	ReviewedBy           string          `json:"reviewed_by,omitempty"`
	ReviewedAt           *time.Time      `json:"reviewed_at,omitempty"`
	ReviewNotes          string          `json:"review_notes,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

type ShiftSummary struct {
	SellerID             string          `json:"seller_id"`
	ShiftStart           time.Time       `json:"shift_start"`
	ShiftEnd             time.Time       `json:"shift_end"`
	SalesCount           int             `json:"sales_count"`
	ProductSalesCount    int             `json:"product_sales_count"`
	MembershipSalesCount int             `json:"membership_sales_count"`
	DailyAccessCount     int             `json:"daily_access_count"`
	TotalRevenue         decimal.Decimal `json:"total_revenue"`
	ByChannel            ChannelAmounts  `json:"by_channel"`
}

type ShiftItem struct {
	ProductID    string          `json:"product_id"`
	ProductName  string          `json:"product_name"`
	QuantitySold int             `json:"quantity_sold"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	CurrentStock int             `json:"current_stock"`
}

type SalesSummary struct {
	From           time.Time       `json:"from"`
	To             time.Time       `json:"to"`
	SalesCount     int             `json:"sales_count"`
	RefundedCount  int             `json:"refunded_count"`
	GrossRevenue   decimal.Decimal `json:"gross_revenue"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	NetRevenue     decimal.Decimal `json:"net_revenue"`
	ByChannel      ChannelAmounts  `json:"by_channel"`
}

type AuditLog struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actor_id"`
	Action    string    `json:"action"`
	Entity    string    `json:"entity"`
	EntityID  string    `json:"entity_id"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Actor struct {
	UserID   string
	Username string
	Role     string
}
