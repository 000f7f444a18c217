package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"fitpos/backend/internal/domain"
	"fitpos/backend/internal/store"
	"fitpos/backend/internal/store/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	svc := New(repo, nil, zaptest.NewLogger(t), 5*time.Second)
	return svc, repo
}

func sellerContext() context.Context {
	return WithActor(context.Background(), domain.Actor{
		UserID:   "user-seller",
		Username: "reception",
		Role:     "receptionist",
	})
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCreateSaleMixedComputesTotals(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := sellerContext()

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		PaymentChannel: "nequi",
		AmountPaid:     decimal.NewFromInt(100000),
		Products: []domain.SaleProductLineRequest{
			{ProductID: "prod-water", Quantity: 2, DiscountPercent: decimal.NewFromInt(10)},
		},
		Memberships: []domain.SaleMembershipLineRequest{
			{PlanID: "plan-month", CustomerID: "cust-1"},
		},
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	// Water: 2 x 3000 = 6000 gross, 10% off = 5400. Monthly plan: 90000.
	if got := sale.Subtotal.StringFixed(2); got != "96000.00" {
		t.Fatalf("subtotal = %s, want 96000.00", got)
	}
	if got := sale.DiscountTotal.StringFixed(2); got != "600.00" {
		t.Fatalf("discount total = %s, want 600.00", got)
	}
	if got := sale.Total.StringFixed(2); got != "95400.00" {
		t.Fatalf("total = %s, want 95400.00", got)
	}
	if got := sale.Change.StringFixed(2); got != "4600.00" {
		t.Fatalf("change = %s, want 4600.00", got)
	}
	if sale.Type != domain.SaleTypeMixed {
		t.Fatalf("sale type = %s, want mixed", sale.Type)
	}
	if sale.Status != domain.SaleStatusCompleted {
		t.Fatalf("sale status = %s, want completed", sale.Status)
	}
	if !strings.HasPrefix(sale.SaleNumber, "SALE-") || !strings.HasSuffix(sale.SaleNumber, "-0001") {
		t.Fatalf("unexpected sale number %s", sale.SaleNumber)
	}

	product, err := repo.GetProductByID(context.Background(), "prod-water")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.CurrentStock != 118 {
		t.Fatalf("stock = %d, want 118", product.CurrentStock)
	}

	membership, err := repo.GetMembershipByID(sale.Memberships[0].MembershipID)
	if err != nil {
		t.Fatalf("membership was not issued: %v", err)
	}
	if !membership.Active {
		t.Fatalf("expected issued membership to be active")
	}
	if got := membership.EndDate.Sub(membership.StartDate); got != 30*24*time.Hour {
		t.Fatalf("membership duration = %v, want 720h", got)
	}
}

func TestCreateSaleAppliesFlatDiscount(t *testing.T) {
	svc, _ := newTestService(t)

	// Two waters at 10% off bring the ticket to 5400; the flat 400 discount
	// lands on top of that.
	sale, err := svc.CreateSale(sellerContext(), domain.SaleCreateRequest{
		PaymentChannel: "cash",
		AmountPaid:     decimal.NewFromInt(5000),
		DiscountAmount: decimal.NewFromInt(400),
		Products: []domain.SaleProductLineRequest{
			{ProductID: "prod-water", Quantity: 2, DiscountPercent: decimal.NewFromInt(10)},
		},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if got := sale.Total.StringFixed(2); got != "5000.00" {
		t.Fatalf("total = %s, want 5000.00", got)
	}
	if got := sale.DiscountTotal.StringFixed(2); got != "1000.00" {
		t.Fatalf("discount total = %s, want 1000.00 (600 line + 400 flat)", got)
	}
	if !sale.Change.IsZero() {
		t.Fatalf("change = %s, want 0", sale.Change)
	}
}

func TestCreateSaleRejectsBadFlatDiscount(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateSale(sellerContext(), domain.SaleCreateRequest{
		PaymentChannel: "cash",
		AmountPaid:     decimal.NewFromInt(10000),
		DiscountAmount: decimal.NewFromInt(-100),
		Products:       []domain.SaleProductLineRequest{{ProductID: "prod-water", Quantity: 1}},
	})
	if !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for negative discount, got %v", err)
	}

	// Discount larger than the ticket would drive the total negative.
	_, err = svc.CreateSale(sellerContext(), domain.SaleCreateRequest{
		PaymentChannel: "cash",
		AmountPaid:     decimal.NewFromInt(10000),
		DiscountAmount: decimal.NewFromInt(5000),
		Products:       []domain.SaleProductLineRequest{{ProductID: "prod-water", Quantity: 1}},
	})
	if !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for oversized discount, got %v", err)
	}
}

func TestCreateSaleUnitPriceOverride(t *testing.T) {
	svc, _ := newTestService(t)

	negotiated := decimal.NewFromInt(2500)
	sale, err := svc.CreateSale(sellerContext(), domain.SaleCreateRequest{
		PaymentChannel: "cash",
		AmountPaid:     decimal.NewFromInt(5000),
		Products: []domain.SaleProductLineRequest{
			{ProductID: "prod-water", Quantity: 2, UnitPrice: &negotiated},
		},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if got := sale.Total.StringFixed(2); got != "5000.00" {
		t.Fatalf("total = %s, want 5000.00 (2 x 2500 override)", got)
	}
	if !sale.Products[0].UnitPrice.Equal(negotiated) {
		t.Fatalf("line unit price = %s, want override %s", sale.Products[0].UnitPrice, negotiated)
	}

	bad := decimal.NewFromInt(-1)
	_, err = svc.CreateSale(sellerContext(), domain.SaleCreateRequest{
		PaymentChannel: "cash",
		AmountPaid:     decimal.NewFromInt(5000),
		Products: []domain.SaleProductLineRequest{
			{ProductID: "prod-water", Quantity: 1, UnitPrice: &bad},
		},
	})
	if !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for negative override, got %v", err)
	}
}

func TestCreateSaleWithCustomerReference(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := sellerContext()

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		PaymentChannel: "cash",
		AmountPaid:     decimal.NewFromInt(3000),
		CustomerID:     "cust-1",
		Products:       []domain.SaleProductLineRequest{{ProductID: "prod-water", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if sale.CustomerID != "cust-1" {
		t.Fatalf("customer id = %q, want cust-1", sale.CustomerID)
	}

	fetched, err := svc.GetSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if fetched.CustomerID != "cust-1" {
		t.Fatalf("stored customer id = %q, want cust-1", fetched.CustomerID)
	}

	_, err = svc.CreateSale(ctx, domain.SaleCreateRequest{
		PaymentChannel: "cash",
		AmountPaid:     decimal.NewFromInt(3000),
		CustomerID:     "cust-nobody",
		Products:       []domain.SaleProductLineRequest{{ProductID: "prod-water", Quantity: 1}},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown customer, got %v", err)
	}
}

func TestCreateSaleInsufficientStockLeavesNothingBehind(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := sellerContext()

	_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		PaymentChannel: "cash",
		AmountPaid:     decimal.NewFromInt(10000000),
		Products: []domain.SaleProductLineRequest{
			{ProductID: "prod-water", Quantity: 1},
			{ProductID: "prod-gloves", Quantity: 100},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	water, _ := repo.GetProductByID(context.Background(), "prod-water")
	if water.CurrentStock != 120 {
		t.Fatalf("water stock = %d, want untouched 120", water.CurrentStock)
	}
	sales, total, err := svc.ListSales(ctx, domain.SaleListFilter{})
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if total != 0 || len(sales) != 0 {
		t.Fatalf("expected no sale to be recorded, got %d", total)
	}
}

func TestCreateSaleInsufficientPayment(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateSale(sellerContext(), domain.SaleCreateRequest{
		PaymentChannel: "cash",
		AmountPaid:     decimal.NewFromInt(1000),
		Products: []domain.SaleProductLineRequest{
			{ProductID: "prod-water", Quantity: 1},
		},
	})
	if !errors.Is(err, store.ErrInsufficientPayment) {
		t.Fatalf("expected ErrInsufficientPayment, got %v", err)
	}
}

func TestCreateSaleRejectsUnknownChannel(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateSale(sellerContext(), domain.SaleCreateRequest{
		PaymentChannel: "bitcoin",
		AmountPaid:     decimal.NewFromInt(10000),
		Products: []domain.SaleProductLineRequest{
			{ProductID: "prod-water", Quantity: 1},
		},
	})
	if !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestCreateSaleRequiresActor(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateSale(context.Background(), domain.SaleCreateRequest{
		PaymentChannel: "cash",
		AmountPaid:     decimal.NewFromInt(10000),
		Products: []domain.SaleProductLineRequest{
			{ProductID: "prod-water", Quantity: 1},
		},
	})
	if !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestSaleNumbersSequencePerDay(t *testing.T) {
	svc, _ := newTestService(t)
	svc.now = fixedClock(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	ctx := sellerContext()

	first, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		PaymentChannel: "cash",
		AmountPaid:     decimal.NewFromInt(3000),
		Products:       []domain.SaleProductLineRequest{{ProductID: "prod-water", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("first sale: %v", err)
	}
	second, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		PaymentChannel: "cash",
		AmountPaid:     decimal.NewFromInt(3000),
		Products:       []domain.SaleProductLineRequest{{ProductID: "prod-water", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("second sale: %v", err)
	}

	if first.SaleNumber != "SALE-20260314-0001" {
		t.Fatalf("first sale number = %s", first.SaleNumber)
	}
	if second.SaleNumber != "SALE-20260314-0002" {
		t.Fatalf("second sale number = %s", second.SaleNumber)
	}
}

func TestDayPassOnlySaleIsDailyAccess(t *testing.T) {
	svc, _ := newTestService(t)

	sale, err := svc.CreateSale(sellerContext(), domain.SaleCreateRequest{
		PaymentChannel: "cash",
		AmountPaid:     decimal.NewFromInt(15000),
		Memberships: []domain.SaleMembershipLineRequest{
			{PlanID: "plan-day", CustomerID: "cust-2"},
		},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if sale.Type != domain.SaleTypeDailyAccess {
		t.Fatalf("sale type = %s, want daily_access", sale.Type)
	}
}

func TestReverseSaleSameDay(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := sellerContext()

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		PaymentChannel: "cash",
		AmountPaid:     decimal.NewFromInt(200000),
		Products: []domain.SaleProductLineRequest{
			{ProductID: "prod-shaker", Quantity: 2},
		},
		Memberships: []domain.SaleMembershipLineRequest{
			{PlanID: "plan-month", CustomerID: "cust-3"},
		},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	record, err := svc.ReverseSale(ctx, sale.ID, domain.SaleReversalRequest{Reason: "customer changed mind"})
	if err != nil {
		t.Fatalf("reverse sale: %v", err)
	}
	if !record.RefundedAmount.Equal(sale.Total) {
		t.Fatalf("refunded %s, want %s", record.RefundedAmount, sale.Total)
	}
	if len(record.RestockedProducts) != 1 || record.RestockedProducts[0].Quantity != 2 {
		t.Fatalf("unexpected restocked products: %+v", record.RestockedProducts)
	}
	if len(record.CancelledMemberships) != 1 {
		t.Fatalf("expected one cancelled membership, got %d", len(record.CancelledMemberships))
	}

	shaker, _ := repo.GetProductByID(context.Background(), "prod-shaker")
	if shaker.CurrentStock != 25 {
		t.Fatalf("shaker stock = %d, want restored 25", shaker.CurrentStock)
	}

	membership, err := repo.GetMembershipByID(sale.Memberships[0].MembershipID)
	if err != nil {
		t.Fatalf("membership lookup: %v", err)
	}
	if membership.Active {
		t.Fatalf("expected membership to be deactivated")
	}

	reversed, err := svc.GetSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if reversed.Status != domain.SaleStatusRefunded || reversed.ReversedAt == nil {
		t.Fatalf("expected refunded sale with reversed_at set, got %s", reversed.Status)
	}

	if _, err := svc.ReverseSale(ctx, sale.ID, domain.SaleReversalRequest{Reason: "again"}); !errors.Is(err, store.ErrAlreadyReversed) {
		t.Fatalf("expected ErrAlreadyReversed on second reversal, got %v", err)
	}

	lookup, err := svc.GetReversal(ctx, sale.ID)
	if err != nil {
		t.Fatalf("get reversal: %v", err)
	}
	if lookup.SaleNumber != sale.SaleNumber {
		t.Fatalf("reversal sale number = %s, want %s", lookup.SaleNumber, sale.SaleNumber)
	}
}

func TestReverseSaleNextDayRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := sellerContext()
	svc.now = fixedClock(time.Date(2026, 3, 14, 23, 50, 0, 0, time.UTC))

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		PaymentChannel: "cash",
		AmountPaid:     decimal.NewFromInt(3000),
		Products:       []domain.SaleProductLineRequest{{ProductID: "prod-water", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	svc.now = fixedClock(time.Date(2026, 3, 15, 0, 10, 0, 0, time.UTC))
	_, err = svc.ReverseSale(ctx, sale.ID, domain.SaleReversalRequest{Reason: "too late"})
	if !errors.Is(err, store.ErrReversalWindowExpired) {
		t.Fatalf("expected ErrReversalWindowExpired, got %v", err)
	}
}

func TestReverseSaleRequiresReason(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ReverseSale(sellerContext(), "sale-whatever", domain.SaleReversalRequest{Reason: "   "})
	if !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestShiftSummaryCountsByType(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := sellerContext()
	start := time.Date(2026, 3, 14, 6, 0, 0, 0, time.UTC)
	svc.now = fixedClock(start.Add(2 * time.Hour))

	mustSale := func(req domain.SaleCreateRequest) *domain.Sale {
		t.Helper()
		sale, err := svc.CreateSale(ctx, req)
		if err != nil {
			t.Fatalf("create sale: %v", err)
		}
		return sale
	}

	mustSale(domain.SaleCreateRequest{
		PaymentChannel: "cash",
		AmountPaid:     decimal.NewFromInt(6000),
		Products:       []domain.SaleProductLineRequest{{ProductID: "prod-water", Quantity: 2}},
	})
	mustSale(domain.SaleCreateRequest{
		PaymentChannel: "nequi",
		AmountPaid:     decimal.NewFromInt(90000),
		Memberships:    []domain.SaleMembershipLineRequest{{PlanID: "plan-month", CustomerID: "cust-1"}},
	})
	mustSale(domain.SaleCreateRequest{
		PaymentChannel: "card",
		AmountPaid:     decimal.NewFromInt(100000),
		Products:       []domain.SaleProductLineRequest{{ProductID: "prod-energy", Quantity: 1}},
		Memberships:    []domain.SaleMembershipLineRequest{{PlanID: "plan-day", CustomerID: "cust-2"}},
	})
	mustSale(domain.SaleCreateRequest{
		PaymentChannel: "cash",
		AmountPaid:     decimal.NewFromInt(15000),
		Memberships:    []domain.SaleMembershipLineRequest{{PlanID: "plan-day", CustomerID: "cust-3"}},
	})
	refunded := mustSale(domain.SaleCreateRequest{
		PaymentChannel: "cash",
		AmountPaid:     decimal.NewFromInt(3000),
		Products:       []domain.SaleProductLineRequest{{ProductID: "prod-water", Quantity: 1}},
	})
	if _, err := svc.ReverseSale(ctx, refunded.ID, domain.SaleReversalRequest{Reason: "wrong item"}); err != nil {
		t.Fatalf("reverse: %v", err)
	}

	svc.now = fixedClock(start.Add(3 * time.Hour))
	summary, err := svc.ShiftSummary(ctx, "user-seller", start)
	if err != nil {
		t.Fatalf("shift summary: %v", err)
	}

	if summary.SalesCount != 4 {
		t.Fatalf("sales count = %d, want 4 (refunded excluded)", summary.SalesCount)
	}
	// The mixed ticket counts toward both product and membership tallies.
	if summary.ProductSalesCount != 2 {
		t.Fatalf("product sales count = %d, want 2", summary.ProductSalesCount)
	}
	if summary.MembershipSalesCount != 2 {
		t.Fatalf("membership sales count = %d, want 2", summary.MembershipSalesCount)
	}
	if summary.DailyAccessCount != 1 {
		t.Fatalf("daily access count = %d, want 1", summary.DailyAccessCount)
	}
	// cash: 6000 (water x2) + 15000 (day pass) = 21000; refunded sale excluded.
	if got := summary.ByChannel.Cash.StringFixed(2); got != "21000.00" {
		t.Fatalf("cash channel = %s, want 21000.00", got)
	}
	if got := summary.ByChannel.Nequi.StringFixed(2); got != "90000.00" {
		t.Fatalf("nequi channel = %s, want 90000.00", got)
	}
	// card: energy 7000 + day pass 15000 = 22000.
	if got := summary.ByChannel.Card.StringFixed(2); got != "22000.00" {
		t.Fatalf("card channel = %s, want 22000.00", got)
	}
	wantRevenue := decimal.NewFromInt(6000 + 90000 + 22000 + 15000)
	if !summary.TotalRevenue.Equal(wantRevenue) {
		t.Fatalf("total revenue = %s, want %s", summary.TotalRevenue, wantRevenue)
	}
}

func TestShiftItemsSoldGroupsAndSorts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := sellerContext()
	start := time.Date(2026, 3, 14, 6, 0, 0, 0, time.UTC)
	svc.now = fixedClock(start.Add(time.Hour))

	for i := 0; i < 2; i++ {
		_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
			PaymentChannel: "cash",
			AmountPaid:     decimal.NewFromInt(50000),
			Products: []domain.SaleProductLineRequest{
				{ProductID: "prod-water", Quantity: 3},
				{ProductID: "prod-energy", Quantity: 1},
			},
		})
		if err != nil {
			t.Fatalf("create sale: %v", err)
		}
	}

	svc.now = fixedClock(start.Add(2 * time.Hour))
	items, err := svc.ShiftItemsSold(ctx, "user-seller", start)
	if err != nil {
		t.Fatalf("shift items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 grouped items, got %d", len(items))
	}
	if items[0].ProductID != "prod-water" || items[0].QuantitySold != 6 {
		t.Fatalf("top item = %+v, want prod-water x6", items[0])
	}
	if items[0].CurrentStock != 114 {
		t.Fatalf("water live stock = %d, want 114", items[0].CurrentStock)
	}
	if items[1].QuantitySold != 2 {
		t.Fatalf("energy quantity = %d, want 2", items[1].QuantitySold)
	}
}

func TestCloseShiftRecomputesAndUpserts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := sellerContext()
	svc.now = fixedClock(time.Date(2026, 3, 14, 21, 0, 0, 0, time.UTC))

	_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		PaymentChannel: "cash",
		AmountPaid:     decimal.NewFromInt(6000),
		Products:       []domain.SaleProductLineRequest{{ProductID: "prod-water", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	_, err = svc.CreateSale(ctx, domain.SaleCreateRequest{
		PaymentChannel: "nequi",
		AmountPaid:     decimal.NewFromInt(90000),
		Memberships:    []domain.SaleMembershipLineRequest{{PlanID: "plan-month", CustomerID: "cust-1"}},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	closure, err := svc.CloseShift(ctx, domain.ClosureRequest{
		ShiftDate: "2026-03-14",
		Counted: domain.ChannelAmountsRequest{
			Cash:  decimal.NewFromInt(6000),
			Nequi: decimal.NewFromInt(90000),
		},
	})
	if err != nil {
		t.Fatalf("close shift: %v", err)
	}
	if closure.Status != domain.ClosurePending {
		t.Fatalf("closure status = %s, want pending", closure.Status)
	}
	if closure.HasDiscrepancies {
		t.Fatalf("expected clean closure, got discrepancies: %s", closure.DiscrepancyNotes)
	}
	if closure.SalesCount != 2 {
		t.Fatalf("sales count = %d, want 2", closure.SalesCount)
	}
	if got := closure.TotalRecorded.StringFixed(2); got != "96000.00" {
		t.Fatalf("total recorded = %s, want 96000.00", got)
	}
	if closure.TotalProductsSold != 1 || closure.TotalMembershipsSold != 1 || closure.TotalDailyAccessSold != 0 {
		t.Fatalf("per-type totals = %d/%d/%d, want 1/1/0",
			closure.TotalProductsSold, closure.TotalMembershipsSold, closure.TotalDailyAccessSold)
	}
	saleTime := time.Date(2026, 3, 14, 21, 0, 0, 0, time.UTC)
	if !closure.ShiftStart.Equal(saleTime) || !closure.ShiftEnd.Equal(saleTime) {
		t.Fatalf("shift span = %s..%s, want both %s", closure.ShiftStart, closure.ShiftEnd, saleTime)
	}

	// Resubmitting with a cash shortfall updates the same closure in place.
	resubmitted, err := svc.CloseShift(ctx, domain.ClosureRequest{
		ShiftDate: "2026-03-14",
		Counted: domain.ChannelAmountsRequest{
			Cash:  decimal.NewFromInt(5000),
			Nequi: decimal.NewFromInt(90000),
		},
	})
	if err != nil {
		t.Fatalf("resubmit closure: %v", err)
	}
	if resubmitted.ID != closure.ID {
		t.Fatalf("resubmission created a new closure: %s vs %s", resubmitted.ID, closure.ID)
	}
	if !resubmitted.HasDiscrepancies {
		t.Fatalf("expected discrepancy on short cash")
	}
	if !strings.Contains(resubmitted.DiscrepancyNotes, "CASH: system $6000 vs physical $5000 (diff: $-1000)") {
		t.Fatalf("unexpected narrative: %s", resubmitted.DiscrepancyNotes)
	}
	if got := resubmitted.TotalDifferences.StringFixed(2); got != "-1000.00" {
		t.Fatalf("total differences = %s, want -1000.00", got)
	}

	today, err := svc.TodayClosure(ctx, "user-seller")
	if err != nil {
		t.Fatalf("today closure: %v", err)
	}
	if today.ID != closure.ID {
		t.Fatalf("today closure = %s, want %s", today.ID, closure.ID)
	}
}

func TestCloseShiftRejectsDatesOutsideWindow(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := sellerContext()
	svc.now = fixedClock(time.Date(2026, 3, 14, 21, 0, 0, 0, time.UTC))

	_, err := svc.CloseShift(ctx, domain.ClosureRequest{ShiftDate: "2026-03-01"})
	if !errors.Is(err, store.ErrInvalidDateRange) {
		t.Fatalf("expected ErrInvalidDateRange for stale date, got %v", err)
	}

	_, err = svc.CloseShift(ctx, domain.ClosureRequest{ShiftDate: "2026-03-20"})
	if !errors.Is(err, store.ErrInvalidDateRange) {
		t.Fatalf("expected ErrInvalidDateRange for future date, got %v", err)
	}

	_, err = svc.CloseShift(ctx, domain.ClosureRequest{ShiftDate: "14/03/2026"})
	if !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for bad format, got %v", err)
	}
}

func TestReviewClosureLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	sellerCtx := sellerContext()
	managerCtx := WithActor(context.Background(), domain.Actor{
		UserID:   "user-manager",
		Username: "manager",
		Role:     "manager",
	})
	svc.now = fixedClock(time.Date(2026, 3, 14, 21, 0, 0, 0, time.UTC))

	closure, err := svc.CloseShift(sellerCtx, domain.ClosureRequest{ShiftDate: "2026-03-14"})
	if err != nil {
		t.Fatalf("close shift: %v", err)
	}

	if _, err := svc.ReviewClosure(managerCtx, closure.ID, domain.ClosureReviewRequest{Status: "pending"}); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for non-final status, got %v", err)
	}

	reviewed, err := svc.ReviewClosure(managerCtx, closure.ID, domain.ClosureReviewRequest{Status: "reviewed", Notes: "balanced"})
	if err != nil {
		t.Fatalf("review closure: %v", err)
	}
	if reviewed.Status != domain.ClosureReviewed || reviewed.ReviewedBy != "user-manager" || reviewed.ReviewedAt == nil {
		t.Fatalf("unexpected reviewed closure: %+v", reviewed)
	}

	if _, err := svc.ReviewClosure(managerCtx, closure.ID, domain.ClosureReviewRequest{Status: "cancelled"}); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest on double review, got %v", err)
	}

	// A finalized closure can no longer be resubmitted by the seller.
	if _, err := svc.CloseShift(sellerCtx, domain.ClosureRequest{ShiftDate: "2026-03-14"}); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest after review, got %v", err)
	}
}

func TestSalesSummarySeparatesRefunds(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := sellerContext()
	svc.now = fixedClock(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))

	kept, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		PaymentChannel: "card",
		AmountPaid:     decimal.NewFromInt(7000),
		Products:       []domain.SaleProductLineRequest{{ProductID: "prod-energy", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	refunded, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		PaymentChannel: "cash",
		AmountPaid:     decimal.NewFromInt(3000),
		Products:       []domain.SaleProductLineRequest{{ProductID: "prod-water", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if _, err := svc.ReverseSale(ctx, refunded.ID, domain.SaleReversalRequest{Reason: "refund"}); err != nil {
		t.Fatalf("reverse: %v", err)
	}

	from := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	summary, err := svc.GetSalesSummary(ctx, from, from.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("sales summary: %v", err)
	}
	if summary.SalesCount != 2 || summary.RefundedCount != 1 {
		t.Fatalf("counts = %d/%d, want 2/1", summary.SalesCount, summary.RefundedCount)
	}
	if got := summary.GrossRevenue.StringFixed(2); got != "10000.00" {
		t.Fatalf("gross = %s, want 10000.00", got)
	}
	if got := summary.NetRevenue.StringFixed(2); got != "7000.00" {
		t.Fatalf("net = %s, want 7000.00", got)
	}
	if !summary.ByChannel.Card.Equal(kept.Total) {
		t.Fatalf("card channel = %s, want %s", summary.ByChannel.Card, kept.Total)
	}

	if _, err := svc.GetSalesSummary(ctx, from, from); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty range, got %v", err)
	}
}
