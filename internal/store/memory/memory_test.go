package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fitpos/backend/internal/domain"
	"fitpos/backend/internal/store"
)

func TestCreateSaleUnknownPlanLeavesStockUntouched(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	_, err := repo.CreateSale(ctx, domain.Sale{
		ID:             "sale-1",
		SellerID:       "user-seller",
		Type:           domain.SaleTypeMixed,
		Status:         domain.SaleStatusCompleted,
		PaymentChannel: domain.ChannelCash,
		Total:          decimal.NewFromInt(93000),
		AmountPaid:     decimal.NewFromInt(93000),
		Products: []domain.SaleProductLine{
			{ProductID: "prod-water", ProductName: "Bottled Water 600ml", Quantity: 2,
				UnitPrice: decimal.NewFromInt(3000), LineTotal: decimal.NewFromInt(6000)},
		},
		Memberships: []domain.SaleMembershipLine{
			{PlanID: "plan-nonexistent", CustomerID: "cust-1", UnitPrice: decimal.NewFromInt(90000)},
		},
		CreatedAt: now,
		UpdatedAt: now,
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown plan, got %v", err)
	}

	water, err := repo.GetProductByID(ctx, "prod-water")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if water.CurrentStock != 120 {
		t.Fatalf("water stock = %d, want untouched 120", water.CurrentStock)
	}
	movements, err := repo.ListStockMovements(ctx, "prod-water", 10)
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(movements) != 0 {
		t.Fatalf("expected no stock movements, got %d", len(movements))
	}
	if _, err := repo.GetSaleByID(ctx, "sale-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no sale to be stored, got %v", err)
	}
}

func TestUpsertClosureDoesNotReopenFinalized(t *testing.T) {
	repo := New()
	ctx := context.Background()
	shiftDate := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	now := shiftDate.Add(21 * time.Hour)

	closure := domain.CashClosure{
		ID:        "cc-1",
		SellerID:  "user-seller",
		ShiftDate: shiftDate,
		Status:    domain.ClosurePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := repo.UpsertClosure(ctx, closure); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if _, err := repo.ReviewClosure(ctx, "cc-1", "user-manager", domain.ClosureReviewed, "balanced", now.Add(time.Hour)); err != nil {
		t.Fatalf("review closure: %v", err)
	}

	// A concurrent submission that read the closure before the review must
	// not reset it to pending.
	late := closure
	late.ID = "cc-2"
	late.UpdatedAt = now.Add(2 * time.Hour)
	if _, err := repo.UpsertClosure(ctx, late); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for finalized closure, got %v", err)
	}

	kept, err := repo.GetClosureByID(ctx, "cc-1")
	if err != nil {
		t.Fatalf("get closure: %v", err)
	}
	if kept.Status != domain.ClosureReviewed {
		t.Fatalf("closure status = %s, want reviewed kept", kept.Status)
	}
}
