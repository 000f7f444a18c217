package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"fitpos/backend/internal/domain"
	"fitpos/backend/internal/store"
	"fitpos/backend/internal/xid"
)

// Store is the in-memory Repository used for tests and demo mode. A single
// mutex serializes every write, which makes the stock decrement and the
// per-day sale sequence trivially race-free.
type Store struct {
	mu           sync.RWMutex
	products     map[string]domain.Product
	plans        map[string]domain.MembershipPlan
	customers    map[string]domain.Customer
	salesByID    map[string]*domain.Sale
	saleSeqByDay map[string]int
	memberships  map[string]domain.Membership
	movements    []domain.StockMovement
	reversals    map[string]domain.ReversalRecord
	closuresByID map[string]*domain.CashClosure
	closureByKey map[string]string
	usersByID    map[string]domain.StaffUser
	usersByName  map[string]string
	auditLogs    []domain.AuditLog
}

func New() *Store {
	return &Store{
		products:     make(map[string]domain.Product),
		plans:        make(map[string]domain.MembershipPlan),
		customers:    make(map[string]domain.Customer),
		salesByID:    make(map[string]*domain.Sale),
		saleSeqByDay: make(map[string]int),
		memberships:  make(map[string]domain.Membership),
		movements:    make([]domain.StockMovement, 0, 128),
		reversals:    make(map[string]domain.ReversalRecord),
		closuresByID: make(map[string]*domain.CashClosure),
		closureByKey: make(map[string]string),
		usersByID:    make(map[string]domain.StaffUser),
		usersByName:  make(map[string]string),
		auditLogs:    make([]domain.AuditLog, 0, 128),
	}
}

// seedUsers builds the initial staff accounts for dev/demo mode. Credentials
// come from SEED_ADMIN_PASSWORD and SEED_RECEPTION_PASSWORD; hardcoded dev
// defaults are used (with a warning) when unset. Production deployments run
// against PostgreSQL and never hit this path.
func seedUsers(s *Store) {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	receptionPwd := envOr("SEED_RECEPTION_PASSWORD", "reception123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_RECEPTION_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_RECEPTION_PASSWORD to override.")
	}

	for _, u := range []struct {
		username string
		fullName string
		password string
		role     string
	}{
		{"admin", "Administrator", adminPwd, "admin"},
		{"reception", "Front Desk", receptionPwd, "receptionist"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		user := domain.StaffUser{
			ID:           xid.New("user"),
			Username:     u.username,
			FullName:     u.fullName,
			Role:         u.role,
			PasswordHash: string(hash),
			Active:       true,
		}
		s.usersByID[user.ID] = user
		s.usersByName[user.Username] = user.ID
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	s := New()

	now := time.Now().UTC()
	products := []domain.Product{
		{ID: "prod-water", Name: "Bottled Water 600ml", Category: "beverage", SellingPrice: decimal.NewFromInt(3000), CurrentStock: 120, Active: true},
		{ID: "prod-energy", Name: "Energy Drink", Category: "beverage", SellingPrice: decimal.NewFromInt(7000), CurrentStock: 80, Active: true},
		{ID: "prod-protein-bar", Name: "Protein Bar", Category: "supplement", SellingPrice: decimal.NewFromInt(8500), CurrentStock: 60, Active: true},
		{ID: "prod-protein-shake", Name: "Protein Shake", Category: "supplement", SellingPrice: decimal.NewFromInt(12000), CurrentStock: 40, Active: true},
		{ID: "prod-shaker", Name: "Shaker Bottle", Category: "gear", SellingPrice: decimal.NewFromInt(25000), CurrentStock: 25, Active: true},
		{ID: "prod-towel", Name: "Gym Towel", Category: "gear", SellingPrice: decimal.NewFromInt(18000), CurrentStock: 30, Active: true},
		{ID: "prod-gloves", Name: "Training Gloves", Category: "gear", SellingPrice: decimal.NewFromInt(45000), CurrentStock: 15, Active: true},
	}
	for i := range products {
		products[i].CreatedAt = now
		products[i].UpdatedAt = now
		s.products[products[i].ID] = products[i]
	}

	quarterly := decimal.NewFromInt(240000)
	plans := []domain.MembershipPlan{
		{ID: "plan-day", Name: "Day Pass", Price: decimal.NewFromInt(15000), DurationDays: 1, Active: true},
		{ID: "plan-month", Name: "Monthly", Price: decimal.NewFromInt(90000), DurationDays: 30, Active: true},
		{ID: "plan-quarter", Name: "Quarterly", Price: decimal.NewFromInt(255000), DiscountPrice: &quarterly, DurationDays: 90, Active: true},
		{ID: "plan-year", Name: "Annual", Price: decimal.NewFromInt(900000), DurationDays: 365, Active: true},
	}
	for _, p := range plans {
		s.plans[p.ID] = p
	}

	customers := []domain.Customer{
		{ID: "cust-1", FullName: "Laura Gomez", Document: "CC-1001", Active: true},
		{ID: "cust-2", FullName: "Andres Rios", Document: "CC-1002", Active: true},
		{ID: "cust-3", FullName: "Maria Fernanda Diaz", Document: "CC-1003", Active: true},
	}
	for _, c := range customers {
		s.customers[c.ID] = c
	}

	seedUsers(s)
	return s
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func sameDay(a, b time.Time) bool {
	return dayKey(a) == dayKey(b)
}

func cloneSale(sale *domain.Sale) *domain.Sale {
	cp := *sale
	cp.Products = slices.Clone(sale.Products)
	cp.Memberships = slices.Clone(sale.Memberships)
	return &cp
}

func cloneClosure(closure *domain.CashClosure) *domain.CashClosure {
	cp := *closure
	return &cp
}

// --- products ---

func (s *Store) ListProducts(_ context.Context, search string, activeOnly bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(search))
	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if activeOnly && !p.Active {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(p.Name), needle) {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", id, store.ErrNotFound)
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, fmt.Errorf("product %s already exists: %w", product.ID, store.ErrInvalidRequest)
	}
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now
	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) ListStockMovements(_ context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.StockMovement, 0, limit)
	for i := len(s.movements) - 1; i >= 0; i-- {
		if productID != "" && s.movements[i].ProductID != productID {
			continue
		}
		out = append(out, s.movements[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// --- membership plans / customers ---

func (s *Store) ListMembershipPlans(_ context.Context, activeOnly bool) ([]domain.MembershipPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plans := make([]domain.MembershipPlan, 0, len(s.plans))
	for _, p := range s.plans {
		if activeOnly && !p.Active {
			continue
		}
		plans = append(plans, p)
	}
	slices.SortFunc(plans, func(a, b domain.MembershipPlan) int {
		return a.DurationDays - b.DurationDays
	})
	return plans, nil
}

func (s *Store) GetMembershipPlanByID(_ context.Context, id string) (*domain.MembershipPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.plans[id]
	if !ok {
		return nil, fmt.Errorf("membership plan %s: %w", id, store.ErrNotFound)
	}
	return &p, nil
}

func (s *Store) CreateMembershipPlan(_ context.Context, plan domain.MembershipPlan) (*domain.MembershipPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if plan.ID == "" {
		plan.ID = xid.New("plan")
	}
	if _, exists := s.plans[plan.ID]; exists {
		return nil, fmt.Errorf("membership plan %s already exists: %w", plan.ID, store.ErrInvalidRequest)
	}
	s.plans[plan.ID] = plan
	return &plan, nil
}

func (s *Store) GetCustomerByID(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[id]
	if !ok {
		return nil, fmt.Errorf("customer %s: %w", id, store.ErrNotFound)
	}
	return &c, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	s.customers[customer.ID] = customer
	return &customer, nil
}

// --- sales ---

// CreateSale performs the whole write atomically: stock validation and
// decrement, movement trail, membership issuance, sale number allocation and
// the sale itself all happen under one lock so no partial sale is ever
// observable.
func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate every line before touching any stock so a failure further
	// down the ticket never leaves partial writes behind.
	for _, line := range sale.Products {
		p, ok := s.products[line.ProductID]
		if !ok {
			return nil, fmt.Errorf("product %s: %w", line.ProductID, store.ErrNotFound)
		}
		if p.CurrentStock < line.Quantity {
			return nil, fmt.Errorf("product %s has %d in stock, requested %d: %w",
				p.Name, p.CurrentStock, line.Quantity, store.ErrInsufficientStock)
		}
	}
	for _, line := range sale.Memberships {
		if _, ok := s.plans[line.PlanID]; !ok {
			return nil, fmt.Errorf("membership plan %s: %w", line.PlanID, store.ErrNotFound)
		}
	}

	day := sale.CreatedAt.UTC().Format("20060102")
	seq := s.saleSeqByDay[day] + 1
	s.saleSeqByDay[day] = seq
	sale.SaleNumber = fmt.Sprintf("SALE-%s-%04d", day, seq)

	for i, line := range sale.Products {
		p := s.products[line.ProductID]
		before := p.CurrentStock
		p.CurrentStock -= line.Quantity
		p.UpdatedAt = sale.CreatedAt
		s.products[line.ProductID] = p

		s.movements = append(s.movements, domain.StockMovement{
			ID:          xid.New("mov"),
			ProductID:   line.ProductID,
			Type:        "sale",
			Quantity:    line.Quantity,
			StockBefore: before,
			StockAfter:  p.CurrentStock,
			Reference:   sale.SaleNumber,
			CreatedBy:   sale.SellerID,
			CreatedAt:   sale.CreatedAt,
		})
		if sale.Products[i].ID == "" {
			sale.Products[i].ID = xid.New("sline")
		}
		sale.Products[i].SaleID = sale.ID
	}

	for i, line := range sale.Memberships {
		plan := s.plans[line.PlanID]
		membership := domain.Membership{
			ID:         line.MembershipID,
			CustomerID: line.CustomerID,
			PlanID:     plan.ID,
			PlanName:   plan.Name,
			Price:      line.UnitPrice,
			StartDate:  sale.CreatedAt,
			EndDate:    sale.CreatedAt.AddDate(0, 0, plan.DurationDays),
			Active:     true,
			SaleID:     sale.ID,
			CreatedAt:  sale.CreatedAt,
		}
		if membership.ID == "" {
			membership.ID = xid.New("mem")
			sale.Memberships[i].MembershipID = membership.ID
		}
		s.memberships[membership.ID] = membership
		if sale.Memberships[i].ID == "" {
			sale.Memberships[i].ID = xid.New("mline")
		}
		sale.Memberships[i].SaleID = sale.ID
	}

	stored := cloneSale(&sale)
	s.salesByID[sale.ID] = stored
	return cloneSale(stored), nil
}

func (s *Store) GetSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, fmt.Errorf("sale %s: %w", id, store.ErrNotFound)
	}
	return cloneSale(sale), nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleListFilter) ([]domain.Sale, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.Sale, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		if filter.SellerID != "" && sale.SellerID != filter.SellerID {
			continue
		}
		if filter.Status != "" && sale.Status != filter.Status {
			continue
		}
		if !filter.From.IsZero() && sale.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !sale.CreatedAt.Before(filter.To) {
			continue
		}
		matched = append(matched, *cloneSale(sale))
	}

	slices.SortFunc(matched, func(a, b domain.Sale) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	total := len(matched)
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size < 1 {
		size = 20
	}
	start := (page - 1) * size
	if start >= total {
		return []domain.Sale{}, total, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *Store) ListSalesBetween(_ context.Context, sellerID string, from time.Time, to time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Sale, 0, 32)
	for _, sale := range s.salesByID {
		if sellerID != "" && sale.SellerID != sellerID {
			continue
		}
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		out = append(out, *cloneSale(sale))
	}
	slices.SortFunc(out, func(a, b domain.Sale) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

// ReverseSale undoes a same-day sale: restocks product lines, deactivates the
// memberships the sale issued (and any later ones for the same customers),
// and flips the sale to refunded. The reversal record it returns is the
// immutable audit artifact of the operation.
func (s *Store) ReverseSale(_ context.Context, saleID string, reason string, actorID string, at time.Time) (*domain.ReversalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[saleID]
	if !ok {
		return nil, fmt.Errorf("sale %s: %w", saleID, store.ErrNotFound)
	}
	if sale.Status == domain.SaleStatusRefunded {
		return nil, fmt.Errorf("sale %s: %w", sale.SaleNumber, store.ErrAlreadyReversed)
	}
	if sale.Status != domain.SaleStatusCompleted {
		return nil, fmt.Errorf("sale %s has status %s: %w", sale.SaleNumber, sale.Status, store.ErrInvalidRequest)
	}
	if !sameDay(sale.CreatedAt, at) {
		return nil, fmt.Errorf("sale %s created %s: %w", sale.SaleNumber,
			dayKey(sale.CreatedAt), store.ErrReversalWindowExpired)
	}

	restocked := make([]domain.RestockedProduct, 0, len(sale.Products))
	for _, line := range sale.Products {
		p, ok := s.products[line.ProductID]
		if !ok {
			continue
		}
		before := p.CurrentStock
		p.CurrentStock += line.Quantity
		p.UpdatedAt = at
		s.products[line.ProductID] = p

		s.movements = append(s.movements, domain.StockMovement{
			ID:          xid.New("mov"),
			ProductID:   line.ProductID,
			Type:        "return",
			Quantity:    line.Quantity,
			StockBefore: before,
			StockAfter:  p.CurrentStock,
			Reference:   sale.SaleNumber,
			Notes:       reason,
			CreatedBy:   actorID,
			CreatedAt:   at,
		})
		restocked = append(restocked, domain.RestockedProduct{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Quantity:    line.Quantity,
		})
	}

	cancelled := make([]domain.CancelledMembership, 0, len(sale.Memberships))
	for _, line := range sale.Memberships {
		for id, membership := range s.memberships {
			if !membership.Active || membership.CustomerID != line.CustomerID {
				continue
			}
			if membership.StartDate.Before(sale.CreatedAt) {
				continue
			}
			membership.Active = false
			s.memberships[id] = membership
			cancelled = append(cancelled, domain.CancelledMembership{
				MembershipID: membership.ID,
				CustomerID:   membership.CustomerID,
				PlanName:     membership.PlanName,
			})
		}
	}

	sale.Status = domain.SaleStatusRefunded
	sale.ReversedAt = &at
	sale.UpdatedAt = at

	record := domain.ReversalRecord{
		ID:                   xid.New("rev"),
		SaleID:               sale.ID,
		SaleNumber:           sale.SaleNumber,
		Reason:               reason,
		RefundedAmount:       sale.Total,
		RestockedProducts:    restocked,
		CancelledMemberships: cancelled,
		ReversedBy:           actorID,
		CreatedAt:            at,
	}
	s.reversals[sale.ID] = record
	return &record, nil
}

func (s *Store) GetReversalBySaleID(_ context.Context, saleID string) (*domain.ReversalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.reversals[saleID]
	if !ok {
		return nil, fmt.Errorf("reversal for sale %s: %w", saleID, store.ErrNotFound)
	}
	return &record, nil
}

func (s *Store) GetSalesSummary(_ context.Context, from time.Time, to time.Time) (domain.SalesSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := domain.SalesSummary{
		From:           from,
		To:             to,
		GrossRevenue:   decimal.Zero,
		RefundedAmount: decimal.Zero,
		NetRevenue:     decimal.Zero,
	}
	for _, sale := range s.salesByID {
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		switch sale.Status {
		case domain.SaleStatusCompleted:
			summary.SalesCount++
			summary.GrossRevenue = summary.GrossRevenue.Add(sale.Total)
			summary.ByChannel.Add(sale.PaymentChannel, sale.Total)
		case domain.SaleStatusRefunded:
			summary.SalesCount++
			summary.RefundedCount++
			summary.GrossRevenue = summary.GrossRevenue.Add(sale.Total)
			summary.RefundedAmount = summary.RefundedAmount.Add(sale.Total)
		}
	}
	summary.NetRevenue = summary.GrossRevenue.Sub(summary.RefundedAmount)
	return summary, nil
}

// --- cash closures ---

func closureKey(sellerID string, shiftDate time.Time) string {
	return sellerID + "|" + dayKey(shiftDate)
}

// UpsertClosure inserts or replaces the closure for (seller, shift date).
// On update the original ID and CreatedAt are preserved so the closure stays
// a single record per shift. A closure that was reviewed or cancelled in the
// meantime is never reopened.
func (s *Store) UpsertClosure(_ context.Context, closure domain.CashClosure) (*domain.CashClosure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := closureKey(closure.SellerID, closure.ShiftDate)
	if existingID, ok := s.closureByKey[key]; ok {
		existing := s.closuresByID[existingID]
		if existing.Status == domain.ClosureReviewed || existing.Status == domain.ClosureCancelled {
			return nil, fmt.Errorf("cash closure for %s on %s already finalized: %w",
				closure.SellerID, dayKey(closure.ShiftDate), store.ErrInvalidRequest)
		}
		closure.ID = existing.ID
		closure.CreatedAt = existing.CreatedAt
	} else {
		s.closureByKey[key] = closure.ID
	}
	stored := cloneClosure(&closure)
	s.closuresByID[closure.ID] = stored
	return cloneClosure(stored), nil
}

func (s *Store) GetClosureByID(_ context.Context, id string) (*domain.CashClosure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	closure, ok := s.closuresByID[id]
	if !ok {
		return nil, fmt.Errorf("cash closure %s: %w", id, store.ErrNotFound)
	}
	return cloneClosure(closure), nil
}

func (s *Store) GetClosureBySellerAndDate(_ context.Context, sellerID string, shiftDate time.Time) (*domain.CashClosure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.closureByKey[closureKey(sellerID, shiftDate)]
	if !ok {
		return nil, fmt.Errorf("cash closure for %s on %s: %w", sellerID, dayKey(shiftDate), store.ErrNotFound)
	}
	return cloneClosure(s.closuresByID[id]), nil
}

func (s *Store) ListClosures(_ context.Context, filter domain.ClosureListFilter) ([]domain.CashClosure, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.CashClosure, 0, len(s.closuresByID))
	for _, closure := range s.closuresByID {
		if filter.SellerID != "" && closure.SellerID != filter.SellerID {
			continue
		}
		if filter.Status != "" && closure.Status != filter.Status {
			continue
		}
		if !filter.From.IsZero() && closure.ShiftDate.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && closure.ShiftDate.After(filter.To) {
			continue
		}
		matched = append(matched, *cloneClosure(closure))
	}

	slices.SortFunc(matched, func(a, b domain.CashClosure) int {
		return b.ShiftDate.Compare(a.ShiftDate)
	})

	total := len(matched)
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size < 1 {
		size = 20
	}
	start := (page - 1) * size
	if start >= total {
		return []domain.CashClosure{}, total, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *Store) ReviewClosure(_ context.Context, closureID string, reviewerID string, status domain.ClosureStatus, notes string, at time.Time) (*domain.CashClosure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	closure, ok := s.closuresByID[closureID]
	if !ok {
		return nil, fmt.Errorf("cash closure %s: %w", closureID, store.ErrNotFound)
	}
	if closure.Status == domain.ClosureReviewed || closure.Status == domain.ClosureCancelled {
		return nil, fmt.Errorf("cash closure %s already %s: %w", closureID, closure.Status, store.ErrInvalidRequest)
	}

	closure.Status = status
	closure.ReviewedBy = reviewerID
	closure.ReviewedAt = &at
	closure.ReviewNotes = notes
	closure.UpdatedAt = at
	return cloneClosure(closure), nil
}

// --- users / audit ---

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.StaffUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByName[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", username, store.ErrNotFound)
	}
	user := s.usersByID[id]
	return &user, nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (*domain.StaffUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByID[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
	}
	return &user, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.StaffUser) (*domain.StaffUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == "" {
		user.ID = xid.New("user")
	}
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if _, exists := s.usersByName[username]; exists {
		return nil, fmt.Errorf("username %s taken: %w", username, store.ErrInvalidRequest)
	}
	user.Username = username
	s.usersByID[user.ID] = user
	s.usersByName[username] = user.ID
	return &user, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.StaffUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.StaffUser, 0, len(s.usersByID))
	for _, u := range s.usersByID {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.StaffUser) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && entry.CreatedAt.After(to) {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// GetMembershipByID is not part of the Repository contract but is handy in
// tests to assert issuance and deactivation.
func (s *Store) GetMembershipByID(id string) (*domain.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.memberships[id]
	if !ok {
		return nil, fmt.Errorf("membership %s: %w", id, store.ErrNotFound)
	}
	return &m, nil
}
