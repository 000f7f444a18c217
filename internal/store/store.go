package store

import (
	"context"
	"errors"
	"time"

	"fitpos/backend/internal/domain"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrInsufficientPayment   = errors.New("insufficient payment")
	ErrInvalidRequest        = errors.New("invalid request")
	ErrInvalidDateRange      = errors.New("shift date outside allowed range")
	ErrAlreadyReversed       = errors.New("sale already reversed")
	ErrReversalWindowExpired = errors.New("sale can only be reversed on the day it was created")
)

type Repository interface {
	ListProducts(ctx context.Context, search string, activeOnly bool) ([]domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	ListStockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error)

	ListMembershipPlans(ctx context.Context, activeOnly bool) ([]domain.MembershipPlan, error)
	GetMembershipPlanByID(ctx context.Context, id string) (*domain.MembershipPlan, error)
	CreateMembershipPlan(ctx context.Context, plan domain.MembershipPlan) (*domain.MembershipPlan, error)

	GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)

	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleListFilter) ([]domain.Sale, int, error)
	ListSalesBetween(ctx context.Context, sellerID string, from time.Time, to time.Time) ([]domain.Sale, error)
	ReverseSale(ctx context.Context, saleID string, reason string, actorID string, at time.Time) (*domain.ReversalRecord, error)
	GetReversalBySaleID(ctx context.Context, saleID string) (*domain.ReversalRecord, error)
	GetSalesSummary(ctx context.Context, from time.Time, to time.Time) (domain.SalesSummary, error)

	UpsertClosure(ctx context.Context, closure domain.CashClosure) (*domain.CashClosure, error)
	GetClosureByID(ctx context.Context, id string) (*domain.CashClosure, error)
	GetClosureBySellerAndDate(ctx context.Context, sellerID string, shiftDate time.Time) (*domain.CashClosure, error)
	ListClosures(ctx context.Context, filter domain.ClosureListFilter) ([]domain.CashClosure, int, error)
	ReviewClosure(ctx context.Context, closureID string, reviewerID string, status domain.ClosureStatus, notes string, at time.Time) (*domain.CashClosure, error)

	GetUserByUsername(ctx context.Context, username string) (*domain.StaffUser, error)
	GetUserByID(ctx context.Context, id string) (*domain.StaffUser, error)
	CreateUser(ctx context.Context, user domain.StaffUser) (*domain.StaffUser, error)
	ListUsers(ctx context.Context) ([]domain.StaffUser, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}
