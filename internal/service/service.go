package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fitpos/backend/internal/cache"
	"fitpos/backend/internal/domain"
	"fitpos/backend/internal/reconcile"
	"fitpos/backend/internal/store"
	"fitpos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// closureWindowPastDays and closureWindowFutureDays bound which shift dates a
// closure may be registered for, relative to today.
const (
	closureWindowPastDays   = 7
	closureWindowFutureDays = 1
)

var oneHundred = decimal.NewFromInt(100)

type Service struct {
	repo       store.Repository
	summaries  cache.ShiftSummaryCache
	logger     *zap.Logger
	summaryTTL time.Duration
	now        func() time.Time
}

func New(repo store.Repository, summaries cache.ShiftSummaryCache, logger *zap.Logger, summaryTTL time.Duration) *Service {
	if summaries == nil {
		summaries = cache.NoopShiftSummaryCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if summaryTTL <= 0 {
		summaryTTL = 30 * time.Second
	}

	return &Service{
		repo:       repo,
		summaries:  summaries,
		logger:     logger,
		summaryTTL: summaryTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// --- catalog ---

func (s *Service) ListProducts(ctx context.Context, search string) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, search, true)
}

func (s *Service) ListMembershipPlans(ctx context.Context) ([]domain.MembershipPlan, error) {
	return s.repo.ListMembershipPlans(ctx, true)
}

func (s *Service) ListStockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	return s.repo.ListStockMovements(ctx, productID, limit)
}

// --- sales ---

// CreateSale registers a multi-line sale for the acting seller. Prices and
// names are snapshotted from the catalog here; the store performs the
// stock-checked write atomically so a failed line leaves nothing behind.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (*domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("missing actor: %w", store.ErrInvalidRequest)
	}

	if len(req.Products) == 0 && len(req.Memberships) == 0 {
		return nil, fmt.Errorf("sale needs at least one line: %w", store.ErrInvalidRequest)
	}

	channel, err := domain.ParsePaymentChannel(req.PaymentChannel)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, store.ErrInvalidRequest)
	}

	customerID := strings.TrimSpace(req.CustomerID)
	if customerID != "" {
		customer, err := s.repo.GetCustomerByID(ctx, customerID)
		if err != nil {
			return nil, err
		}
		if !customer.Active {
			return nil, fmt.Errorf("customer %s is inactive: %w", customer.FullName, store.ErrInvalidRequest)
		}
	}

	now := s.now()
	saleID := xid.New("sale")

	subtotal := decimal.Zero
	discountTotal := decimal.Zero
	total := decimal.Zero

	productLines := make([]domain.SaleProductLine, 0, len(req.Products))
	if len(req.Products) > 0 {
		ids := make([]string, 0, len(req.Products))
		for _, line := range req.Products {
			ids = append(ids, line.ProductID)
		}
		products, err := s.repo.GetProductsByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}

		for _, line := range req.Products {
			product, ok := products[line.ProductID]
			if !ok {
				return nil, fmt.Errorf("product %s: %w", line.ProductID, store.ErrNotFound)
			}
			if !product.Active {
				return nil, fmt.Errorf("product %s is inactive: %w", product.Name, store.ErrInvalidRequest)
			}
			if line.Quantity < 1 {
				return nil, fmt.Errorf("product %s: quantity must be positive: %w", product.Name, store.ErrInvalidRequest)
			}
			if line.DiscountPercent.IsNegative() || line.DiscountPercent.GreaterThan(oneHundred) {
				return nil, fmt.Errorf("product %s: discount must be between 0 and 100: %w", product.Name, store.ErrInvalidRequest)
			}
			if product.CurrentStock < line.Quantity {
				return nil, fmt.Errorf("product %s has %d in stock, requested %d: %w",
					product.Name, product.CurrentStock, line.Quantity, store.ErrInsufficientStock)
			}

			unitPrice := product.SellingPrice
			if line.UnitPrice != nil {
				if line.UnitPrice.IsNegative() {
					return nil, fmt.Errorf("product %s: unit price override must not be negative: %w", product.Name, store.ErrInvalidRequest)
				}
				unitPrice = line.UnitPrice.Round(2)
			}

			qty := decimal.NewFromInt(int64(line.Quantity))
			gross := unitPrice.Mul(qty)
			factor := decimal.NewFromInt(1).Sub(line.DiscountPercent.Div(oneHundred))
			lineTotal := gross.Mul(factor).Round(2)

			subtotal = subtotal.Add(gross)
			discountTotal = discountTotal.Add(gross.Sub(lineTotal))
			total = total.Add(lineTotal)

			productLines = append(productLines, domain.SaleProductLine{
				ID:              xid.New("sline"),
				SaleID:          saleID,
				ProductID:       product.ID,
				ProductName:     product.Name,
				Quantity:        line.Quantity,
				UnitPrice:       unitPrice,
				DiscountPercent: line.DiscountPercent,
				LineTotal:       lineTotal,
			})
		}
	}

	membershipLines := make([]domain.SaleMembershipLine, 0, len(req.Memberships))
	allDailyAccess := len(req.Memberships) > 0
	for _, line := range req.Memberships {
		plan, err := s.repo.GetMembershipPlanByID(ctx, line.PlanID)
		if err != nil {
			return nil, err
		}
		if !plan.Active {
			return nil, fmt.Errorf("plan %s is inactive: %w", plan.Name, store.ErrInvalidRequest)
		}
		customer, err := s.repo.GetCustomerByID(ctx, line.CustomerID)
		if err != nil {
			return nil, err
		}
		if !customer.Active {
			return nil, fmt.Errorf("customer %s is inactive: %w", customer.FullName, store.ErrInvalidRequest)
		}
		if plan.DurationDays != 1 {
			allDailyAccess = false
		}

		price := plan.EffectivePrice().Round(2)
		subtotal = subtotal.Add(price)
		total = total.Add(price)

		membershipLines = append(membershipLines, domain.SaleMembershipLine{
			ID:           xid.New("mline"),
			SaleID:       saleID,
			PlanID:       plan.ID,
			PlanName:     plan.Name,
			CustomerID:   customer.ID,
			MembershipID: xid.New("mem"),
			UnitPrice:    price,
			LineTotal:    price,
		})
	}

	// Flat sale-level discount applied after the per-line percentage discounts.
	if req.DiscountAmount.IsNegative() {
		return nil, fmt.Errorf("discount must not be negative: %w", store.ErrInvalidRequest)
	}
	if req.DiscountAmount.GreaterThan(total) {
		return nil, fmt.Errorf("discount %s exceeds sale total %s: %w",
			req.DiscountAmount.StringFixed(2), total.StringFixed(2), store.ErrInvalidRequest)
	}
	total = total.Sub(req.DiscountAmount)
	discountTotal = discountTotal.Add(req.DiscountAmount)

	if req.AmountPaid.LessThan(total) {
		return nil, fmt.Errorf("paid %s for a total of %s: %w",
			req.AmountPaid.StringFixed(2), total.StringFixed(2), store.ErrInsufficientPayment)
	}

	sale := domain.Sale{
		ID:             saleID,
		SellerID:       actor.UserID,
		CustomerID:     customerID,
		Type:           saleTypeFor(len(productLines) > 0, len(membershipLines) > 0, allDailyAccess),
		Status:         domain.SaleStatusCompleted,
		PaymentChannel: channel,
		Subtotal:       subtotal.Round(2),
		DiscountTotal:  discountTotal.Round(2),
		Tax:            decimal.Zero,
		Total:          total.Round(2),
		AmountPaid:     req.AmountPaid.Round(2),
		Change:         req.AmountPaid.Sub(total).Round(2),
		Notes:          strings.TrimSpace(req.Notes),
		Products:       productLines,
		Memberships:    membershipLines,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "sale_create", "sale", created.ID,
		fmt.Sprintf("number=%s,total=%s,channel=%s", created.SaleNumber, created.Total.StringFixed(2), created.PaymentChannel))
	s.logger.Info("sale created",
		zap.String("sale_id", created.ID),
		zap.String("sale_number", created.SaleNumber),
		zap.String("seller_id", created.SellerID),
		zap.String("channel", string(created.PaymentChannel)),
		zap.String("total", created.Total.StringFixed(2)),
	)
	return created, nil
}

func saleTypeFor(hasProducts, hasMemberships, allDailyAccess bool) domain.SaleType {
	switch {
	case hasProducts && hasMemberships:
		return domain.SaleTypeMixed
	case hasMemberships && allDailyAccess:
		return domain.SaleTypeDailyAccess
	case hasMemberships:
		return domain.SaleTypeMembership
	default:
		return domain.SaleTypeProduct
	}
}

func (s *Service) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return s.repo.GetSaleByID(ctx, id)
}

func (s *Service) ListSales(ctx context.Context, filter domain.SaleListFilter) ([]domain.Sale, int, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	return s.repo.ListSales(ctx, filter)
}

// ReverseSale undoes a completed sale on the day it was made. The store does
// the status and same-day checks inside its transaction; this layer supplies
// the clock, the actor, and the audit trail.
func (s *Service) ReverseSale(ctx context.Context, saleID string, req domain.SaleReversalRequest) (*domain.ReversalRecord, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("missing actor: %w", store.ErrInvalidRequest)
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, fmt.Errorf("reversal reason is required: %w", store.ErrInvalidRequest)
	}

	record, err := s.repo.ReverseSale(ctx, saleID, reason, actor.UserID, s.now())
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "sale_reverse", "sale", saleID,
		fmt.Sprintf("number=%s,refunded=%s,reason=%s", record.SaleNumber, record.RefundedAmount.StringFixed(2), reason))
	s.logger.Info("sale reversed",
		zap.String("sale_id", saleID),
		zap.String("sale_number", record.SaleNumber),
		zap.String("refunded", record.RefundedAmount.StringFixed(2)),
		zap.Int("restocked_products", len(record.RestockedProducts)),
		zap.Int("cancelled_memberships", len(record.CancelledMemberships)),
	)
	return record, nil
}

func (s *Service) GetReversal(ctx context.Context, saleID string) (*domain.ReversalRecord, error) {
	return s.repo.GetReversalBySaleID(ctx, saleID)
}

func (s *Service) GetSalesSummary(ctx context.Context, from time.Time, to time.Time) (domain.SalesSummary, error) {
	if !to.After(from) {
		return domain.SalesSummary{}, fmt.Errorf("empty range: %w", store.ErrInvalidRequest)
	}
	return s.repo.GetSalesSummary(ctx, from, to)
}

// --- shift aggregation ---

// ShiftSummary aggregates a seller's completed sales from shiftStart to now.
// Summaries are cached briefly for dashboard polling; a cache failure only
// logs, it never fails the request.
func (s *Service) ShiftSummary(ctx context.Context, sellerID string, shiftStart time.Time) (*domain.ShiftSummary, error) {
	if sellerID == "" {
		return nil, fmt.Errorf("seller id is required: %w", store.ErrInvalidRequest)
	}
	shiftStart = shiftStart.UTC()
	key := fmt.Sprintf("shift-summary:%s:%s", sellerID, shiftStart.Format(time.RFC3339))

	if cached, found, err := s.summaries.Get(ctx, key); err != nil {
		s.logger.Warn("shift summary cache read failed", zap.Error(err))
	} else if found {
		return cached, nil
	}

	end := s.now()
	sales, err := s.repo.ListSalesBetween(ctx, sellerID, shiftStart, end)
	if err != nil {
		return nil, err
	}

	summary := &domain.ShiftSummary{
		SellerID:     sellerID,
		ShiftStart:   shiftStart,
		ShiftEnd:     end,
		TotalRevenue: decimal.Zero,
	}
	for _, sale := range sales {
		if sale.Status != domain.SaleStatusCompleted {
			continue
		}
		summary.SalesCount++
		summary.TotalRevenue = summary.TotalRevenue.Add(sale.Total)
		summary.ByChannel.Add(sale.PaymentChannel, sale.Total)

		switch sale.Type {
		case domain.SaleTypeProduct:
			summary.ProductSalesCount++
		case domain.SaleTypeMembership:
			summary.MembershipSalesCount++
		case domain.SaleTypeDailyAccess:
			summary.DailyAccessCount++
		case domain.SaleTypeMixed:
			// A mixed ticket counts toward both sides of the register.
			summary.ProductSalesCount++
			summary.MembershipSalesCount++
		}
	}

	if err := s.summaries.Set(ctx, key, summary, s.summaryTTL); err != nil {
		s.logger.Warn("shift summary cache write failed", zap.Error(err))
	}
	return summary, nil
}

// ShiftItemsSold groups the product lines of a seller's completed sales and
// joins them with live stock so the closer can eyeball the shelf.
func (s *Service) ShiftItemsSold(ctx context.Context, sellerID string, shiftStart time.Time) ([]domain.ShiftItem, error) {
	if sellerID == "" {
		return nil, fmt.Errorf("seller id is required: %w", store.ErrInvalidRequest)
	}

	sales, err := s.repo.ListSalesBetween(ctx, sellerID, shiftStart.UTC(), s.now())
	if err != nil {
		return nil, err
	}

	grouped := make(map[string]*domain.ShiftItem)
	for _, sale := range sales {
		if sale.Status != domain.SaleStatusCompleted {
			continue
		}
		for _, line := range sale.Products {
			item, ok := grouped[line.ProductID]
			if !ok {
				item = &domain.ShiftItem{
					ProductID:   line.ProductID,
					ProductName: line.ProductName,
					UnitPrice:   line.UnitPrice,
					TotalAmount: decimal.Zero,
				}
				grouped[line.ProductID] = item
			}
			item.QuantitySold += line.Quantity
			item.TotalAmount = item.TotalAmount.Add(line.LineTotal)
		}
	}

	ids := make([]string, 0, len(grouped))
	for id := range grouped {
		ids = append(ids, id)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	items := make([]domain.ShiftItem, 0, len(grouped))
	for id, item := range grouped {
		if product, ok := products[id]; ok {
			item.CurrentStock = product.CurrentStock
		}
		items = append(items, *item)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].QuantitySold > items[j].QuantitySold
	})
	return items, nil
}

// --- cash closures ---

// CloseShift creates or updates the acting seller's closure for a shift date.
// Recorded totals are always recomputed from stored sales, never taken from
// the client, so resubmitting after a late sale refreshes both sides of the
// comparison.
func (s *Service) CloseShift(ctx context.Context, req domain.ClosureRequest) (*domain.CashClosure, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("missing actor: %w", store.ErrInvalidRequest)
	}

	shiftDate, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(req.ShiftDate), time.UTC)
	if err != nil {
		return nil, fmt.Errorf("shift_date must be YYYY-MM-DD: %w", store.ErrInvalidRequest)
	}

	today := dateOf(s.now())
	if shiftDate.Before(today.AddDate(0, 0, -closureWindowPastDays)) ||
		shiftDate.After(today.AddDate(0, 0, closureWindowFutureDays)) {
		return nil, fmt.Errorf("shift date %s: %w", req.ShiftDate, store.ErrInvalidDateRange)
	}

	existing, err := s.repo.GetClosureBySellerAndDate(ctx, actor.UserID, shiftDate)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if existing != nil && (existing.Status == domain.ClosureReviewed || existing.Status == domain.ClosureCancelled) {
		return nil, fmt.Errorf("closure for %s already %s: %w", req.ShiftDate, existing.Status, store.ErrInvalidRequest)
	}

	totals, err := s.recordedTotals(ctx, actor.UserID, shiftDate)
	if err != nil {
		return nil, err
	}

	counted := req.Counted.Amounts()
	result := reconcile.Compare(totals.recorded, counted)

	now := s.now()
	closure := domain.CashClosure{
		ID:                   xid.New("cc"),
		SellerID:             actor.UserID,
		SellerName:           actor.Username,
		ShiftDate:            shiftDate,
		ShiftStart:           totals.shiftStart,
		ShiftEnd:             totals.shiftEnd,
		Recorded:             totals.recorded,
		Counted:              counted,
		Differences:          result.Differences,
		TotalRecorded:        result.TotalRecorded,
		TotalCounted:         result.TotalCounted,
		TotalDifferences:     result.TotalDifferences,
		HasDiscrepancies:     result.HasDiscrepancies,
		DiscrepancyNotes:     result.Narrative,
		Notes:                strings.TrimSpace(req.Notes),
		Status:               domain.ClosurePending,
		SalesCount:           totals.salesCount,
		TotalProductsSold:    totals.productsSold,
		TotalMembershipsSold: totals.membershipsSold,
		TotalDailyAccessSold: totals.dailyAccessSold,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	saved, err := s.repo.UpsertClosure(ctx, closure)
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "closure_submit", "cash_closure", saved.ID,
		fmt.Sprintf("shift_date=%s,counted=%s,discrepancies=%t", req.ShiftDate, saved.TotalCounted.StringFixed(2), saved.HasDiscrepancies))
	s.logger.Info("cash closure submitted",
		zap.String("closure_id", saved.ID),
		zap.String("seller_id", saved.SellerID),
		zap.String("shift_date", req.ShiftDate),
		zap.String("total_recorded", saved.TotalRecorded.StringFixed(2)),
		zap.String("total_counted", saved.TotalCounted.StringFixed(2)),
		zap.Bool("has_discrepancies", saved.HasDiscrepancies),
	)
	return saved, nil
}

type shiftTotals struct {
	recorded        domain.ChannelAmounts
	salesCount      int
	productsSold    int
	membershipsSold int
	dailyAccessSold int
	shiftStart      time.Time
	shiftEnd        time.Time
}

// recordedTotals sums the seller's completed sales per channel over the given
// shift date (UTC midnight to midnight). The closure path always reads the
// store directly, bypassing the shift summary cache. Shift start and end are
// the first and last completed sale times; a shift with no sales spans the
// whole day.
func (s *Service) recordedTotals(ctx context.Context, sellerID string, shiftDate time.Time) (shiftTotals, error) {
	dayStart := dateOf(shiftDate)
	dayEnd := dayStart.AddDate(0, 0, 1)

	sales, err := s.repo.ListSalesBetween(ctx, sellerID, dayStart, dayEnd)
	if err != nil {
		return shiftTotals{}, err
	}

	totals := shiftTotals{shiftStart: dayStart, shiftEnd: dayEnd}
	for _, sale := range sales {
		if sale.Status != domain.SaleStatusCompleted {
			continue
		}
		if totals.salesCount == 0 {
			totals.shiftStart = sale.CreatedAt
		}
		totals.shiftEnd = sale.CreatedAt
		totals.recorded.Add(sale.PaymentChannel, sale.Total)
		totals.salesCount++

		switch sale.Type {
		case domain.SaleTypeProduct:
			totals.productsSold++
		case domain.SaleTypeMembership:
			totals.membershipsSold++
		case domain.SaleTypeDailyAccess:
			totals.dailyAccessSold++
		case domain.SaleTypeMixed:
			totals.productsSold++
			totals.membershipsSold++
		}
	}
	return totals, nil
}

// TodayClosure looks up the closure for exactly today's UTC date. There is no
// adjacent-day fallback: a shift that straddles midnight belongs to the date
// it was registered under.
func (s *Service) TodayClosure(ctx context.Context, sellerID string) (*domain.CashClosure, error) {
	if sellerID == "" {
		return nil, fmt.Errorf("seller id is required: %w", store.ErrInvalidRequest)
	}
	return s.repo.GetClosureBySellerAndDate(ctx, sellerID, dateOf(s.now()))
}

func (s *Service) GetClosure(ctx context.Context, id string) (*domain.CashClosure, error) {
	return s.repo.GetClosureByID(ctx, id)
}

func (s *Service) ListClosures(ctx context.Context, filter domain.ClosureListFilter) ([]domain.CashClosure, int, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	return s.repo.ListClosures(ctx, filter)
}

func (s *Service) ReviewClosure(ctx context.Context, closureID string, req domain.ClosureReviewRequest) (*domain.CashClosure, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("missing actor: %w", store.ErrInvalidRequest)
	}

	status, err := domain.ParseClosureStatus(req.Status)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, store.ErrInvalidRequest)
	}
	if status != domain.ClosureReviewed && status != domain.ClosureCancelled {
		return nil, fmt.Errorf("review status must be reviewed or cancelled: %w", store.ErrInvalidRequest)
	}

	saved, err := s.repo.ReviewClosure(ctx, closureID, actor.UserID, status, strings.TrimSpace(req.Notes), s.now())
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "closure_review", "cash_closure", closureID, fmt.Sprintf("status=%s", status))
	s.logger.Info("cash closure reviewed",
		zap.String("closure_id", closureID),
		zap.String("status", string(status)),
		zap.String("reviewer_id", actor.UserID),
	)
	return saved, nil
}

// --- staff & audit ---

func (s *Service) ListStaff(ctx context.Context) ([]domain.StaffUser, error) {
	return s.repo.ListUsers(ctx)
}

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entity string, entityID string, details string) {
	actorID := "system"
	if actor, ok := ActorFromContext(ctx); ok {
		actorID = actor.UserID
	}

	err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:        xid.New("audit"),
		ActorID:   actorID,
		Action:    action,
		Entity:    entity,
		EntityID:  entityID,
		Details:   details,
		CreatedAt: s.now(),
	})
	if err != nil {
		s.logger.Warn("audit log write failed", zap.String("action", action), zap.Error(err))
	}
}
