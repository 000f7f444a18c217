package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"fitpos/backend/internal/domain"
	"fitpos/backend/internal/store"
	"fitpos/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// --- products ---

func (s *Store) ListProducts(ctx context.Context, search string, activeOnly bool) ([]domain.Product, error) {
	conditions := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if activeOnly {
		conditions = append(conditions, "active = true")
	}
	if needle := strings.TrimSpace(search); needle != "" {
		args = append(args, "%"+strings.ToLower(needle)+"%")
		conditions = append(conditions, fmt.Sprintf("lower(name) LIKE $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, name, category, selling_price, current_stock, active, created_at, updated_at
		FROM products
		%s
		ORDER BY category, name
	`, where), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.SellingPrice, &p.CurrentStock, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, selling_price, current_stock, active, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Category, &p.SellingPrice, &p.CurrentStock, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	if len(ids) == 0 {
		return map[string]domain.Product{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, selling_price, current_stock, active, created_at, updated_at
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.Product, len(ids))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.SellingPrice, &p.CurrentStock, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, category, selling_price, current_stock, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, product.ID, product.Name, product.Category, product.SellingPrice, product.CurrentStock, product.Active, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("product %s already exists: %w", product.ID, store.ErrInvalidRequest)
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) ListStockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	if limit < 1 {
		limit = 50
	}
	conditions := ""
	args := []any{limit}
	if productID != "" {
		args = append(args, productID)
		conditions = "WHERE product_id = $2"
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, product_id, type, quantity, stock_before, stock_after, reference, COALESCE(notes, ''), created_by, created_at
		FROM stock_movements
		%s
		ORDER BY created_at DESC
		LIMIT $1
	`, conditions), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, limit)
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Type, &m.Quantity, &m.StockBefore, &m.StockAfter, &m.Reference, &m.Notes, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// --- membership plans / customers ---

func (s *Store) ListMembershipPlans(ctx context.Context, activeOnly bool) ([]domain.MembershipPlan, error) {
	where := ""
	if activeOnly {
		where = "WHERE active = true"
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, name, price, discount_price, duration_days, active
		FROM membership_plans
		%s
		ORDER BY duration_days
	`, where))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	plans := make([]domain.MembershipPlan, 0, 8)
	for rows.Next() {
		var p domain.MembershipPlan
		var discount decimal.NullDecimal
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &discount, &p.DurationDays, &p.Active); err != nil {
			return nil, err
		}
		if discount.Valid {
			d := discount.Decimal
			p.DiscountPrice = &d
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func (s *Store) GetMembershipPlanByID(ctx context.Context, id string) (*domain.MembershipPlan, error) {
	var p domain.MembershipPlan
	var discount decimal.NullDecimal
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, price, discount_price, duration_days, active
		FROM membership_plans
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Price, &discount, &p.DurationDays, &p.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("membership plan %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if discount.Valid {
		d := discount.Decimal
		p.DiscountPrice = &d
	}
	return &p, nil
}

func (s *Store) CreateMembershipPlan(ctx context.Context, plan domain.MembershipPlan) (*domain.MembershipPlan, error) {
	if plan.ID == "" {
		plan.ID = xid.New("plan")
	}
	var discount any
	if plan.DiscountPrice != nil {
		discount = *plan.DiscountPrice
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO membership_plans (id, name, price, discount_price, duration_days, active)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, plan.ID, plan.Name, plan.Price, discount, plan.DurationDays, plan.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("membership plan %s already exists: %w", plan.ID, store.ErrInvalidRequest)
		}
		return nil, err
	}
	return &plan, nil
}

func (s *Store) GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, full_name, document, active
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.FullName, &c.Document, &c.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("customer %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, full_name, document, active)
		VALUES ($1,$2,$3,$4)
	`, customer.ID, customer.FullName, customer.Document, customer.Active)
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// --- sales ---

// CreateSale writes the whole sale in one serializable transaction: the
// per-day sequence row, the locked stock decrement per product line, the
// movement trail, membership issuance, and the sale header and lines.
// Any failure rolls everything back.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	day := sale.CreatedAt.UTC().Format("20060102")
	var seq int
	err = tx.QueryRowContext(ctx, `
		INSERT INTO sale_counters (day, seq)
		VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET seq = sale_counters.seq + 1
		RETURNING seq
	`, day).Scan(&seq)
	if err != nil {
		return nil, err
	}
	sale.SaleNumber = fmt.Sprintf("SALE-%s-%04d", day, seq)

	for i, line := range sale.Products {
		var name string
		var stock int
		err := tx.QueryRowContext(ctx, `
			SELECT name, current_stock
			FROM products
			WHERE id = $1 AND active = true
			FOR UPDATE
		`, line.ProductID).Scan(&name, &stock)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("product %s: %w", line.ProductID, store.ErrNotFound)
		}
		if err != nil {
			return nil, err
		}
		if stock < line.Quantity {
			return nil, fmt.Errorf("product %s has %d in stock, requested %d: %w",
				name, stock, line.Quantity, store.ErrInsufficientStock)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE products
			SET current_stock = current_stock - $1, updated_at = $2
			WHERE id = $3
		`, line.Quantity, sale.CreatedAt, line.ProductID)
		if err != nil {
			return nil, err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_movements (id, product_id, type, quantity, stock_before, stock_after, reference, created_by, created_at)
			VALUES ($1,$2,'sale',$3,$4,$5,$6,$7,$8)
		`, xid.New("mov"), line.ProductID, line.Quantity, stock, stock-line.Quantity, sale.SaleNumber, sale.SellerID, sale.CreatedAt)
		if err != nil {
			return nil, err
		}

		if sale.Products[i].ID == "" {
			sale.Products[i].ID = xid.New("sline")
		}
		sale.Products[i].SaleID = sale.ID
	}

	for i, line := range sale.Memberships {
		var planName string
		var durationDays int
		err := tx.QueryRowContext(ctx, `
			SELECT name, duration_days
			FROM membership_plans
			WHERE id = $1
		`, line.PlanID).Scan(&planName, &durationDays)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("membership plan %s: %w", line.PlanID, store.ErrNotFound)
		}
		if err != nil {
			return nil, err
		}

		if line.MembershipID == "" {
			line.MembershipID = xid.New("mem")
			sale.Memberships[i].MembershipID = line.MembershipID
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO memberships (id, customer_id, plan_id, plan_name, price, start_date, end_date, active, sale_id, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,true,$8,$9)
		`, line.MembershipID, line.CustomerID, line.PlanID, planName, line.UnitPrice,
			sale.CreatedAt, sale.CreatedAt.AddDate(0, 0, durationDays), sale.ID, sale.CreatedAt)
		if err != nil {
			return nil, err
		}

		if sale.Memberships[i].ID == "" {
			sale.Memberships[i].ID = xid.New("mline")
		}
		sale.Memberships[i].SaleID = sale.ID
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, sale_number, seller_id, customer_id, sale_type, status, payment_channel,
			subtotal, discount_total, tax, total, amount_paid, change,
			notes, created_at, updated_at, reversed_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, sale.ID, sale.SaleNumber, sale.SellerID, nullIfEmpty(sale.CustomerID), sale.Type, sale.Status, sale.PaymentChannel,
		sale.Subtotal, sale.DiscountTotal, sale.Tax, sale.Total, sale.AmountPaid, sale.Change,
		nullIfEmpty(sale.Notes), sale.CreatedAt, sale.UpdatedAt, nullTime(sale.ReversedAt))
	if err != nil {
		return nil, err
	}

	for _, line := range sale.Products {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_product_lines (id, sale_id, product_id, product_name, quantity, unit_price, discount_percent, line_total)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, line.ID, line.SaleID, line.ProductID, line.ProductName, line.Quantity, line.UnitPrice, line.DiscountPercent, line.LineTotal)
		if err != nil {
			return nil, err
		}
	}
	for _, line := range sale.Memberships {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_membership_lines (id, sale_id, plan_id, plan_name, customer_id, membership_id, unit_price, line_total)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, line.ID, line.SaleID, line.PlanID, line.PlanName, line.CustomerID, line.MembershipID, line.UnitPrice, line.LineTotal)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &sale, nil
}

const saleColumns = `
	id, sale_number, seller_id, COALESCE(customer_id, ''), sale_type, status, payment_channel,
	subtotal, discount_total, tax, total, amount_paid, change,
	COALESCE(notes, ''), created_at, updated_at, reversed_at
`

func scanSale(scanner interface{ Scan(...any) error }) (domain.Sale, error) {
	var sale domain.Sale
	var reversedAt sql.NullTime
	err := scanner.Scan(
		&sale.ID, &sale.SaleNumber, &sale.SellerID, &sale.CustomerID, &sale.Type, &sale.Status, &sale.PaymentChannel,
		&sale.Subtotal, &sale.DiscountTotal, &sale.Tax, &sale.Total, &sale.AmountPaid, &sale.Change,
		&sale.Notes, &sale.CreatedAt, &sale.UpdatedAt, &reversedAt,
	)
	if err != nil {
		return domain.Sale{}, err
	}
	if reversedAt.Valid {
		t := reversedAt.Time.UTC()
		sale.ReversedAt = &t
	}
	return sale, nil
}

func (s *Store) loadSaleLines(ctx context.Context, sale *domain.Sale) error {
	productRows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, product_id, product_name, quantity, unit_price, discount_percent, line_total
		FROM sale_product_lines
		WHERE sale_id = $1
	`, sale.ID)
	if err != nil {
		return err
	}
	for productRows.Next() {
		var line domain.SaleProductLine
		if err := productRows.Scan(&line.ID, &line.SaleID, &line.ProductID, &line.ProductName, &line.Quantity, &line.UnitPrice, &line.DiscountPercent, &line.LineTotal); err != nil {
			_ = productRows.Close()
			return err
		}
		sale.Products = append(sale.Products, line)
	}
	if err := productRows.Err(); err != nil {
		_ = productRows.Close()
		return err
	}
	_ = productRows.Close()

	membershipRows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, plan_id, plan_name, customer_id, membership_id, unit_price, line_total
		FROM sale_membership_lines
		WHERE sale_id = $1
	`, sale.ID)
	if err != nil {
		return err
	}
	defer membershipRows.Close()
	for membershipRows.Next() {
		var line domain.SaleMembershipLine
		if err := membershipRows.Scan(&line.ID, &line.SaleID, &line.PlanID, &line.PlanName, &line.CustomerID, &line.MembershipID, &line.UnitPrice, &line.LineTotal); err != nil {
			return err
		}
		sale.Memberships = append(sale.Memberships, line)
	}
	return membershipRows.Err()
}

func (s *Store) GetSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id)
	sale, err := scanSale(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sale %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadSaleLines(ctx, &sale); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleListFilter) ([]domain.Sale, int, error) {
	conditions := make([]string, 0, 4)
	args := make([]any, 0, 4)
	if filter.SellerID != "" {
		args = append(args, filter.SellerID)
		conditions = append(conditions, fmt.Sprintf("seller_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM sales %s`, where), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size < 1 {
		size = 20
	}
	args = append(args, size, (page-1)*size)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM sales %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, saleColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, size)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, 0, err
		}
		sales = append(sales, sale)
	}
	return sales, total, rows.Err()
}

func (s *Store) ListSalesBetween(ctx context.Context, sellerID string, from time.Time, to time.Time) ([]domain.Sale, error) {
	conditions := []string{"created_at >= $1", "created_at < $2"}
	args := []any{from, to}
	if sellerID != "" {
		args = append(args, sellerID)
		conditions = append(conditions, fmt.Sprintf("seller_id = $%d", len(args)))
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM sales
		WHERE %s
		ORDER BY created_at
	`, saleColumns, strings.Join(conditions, " AND ")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 32)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sales {
		if err := s.loadSaleLines(ctx, &sales[i]); err != nil {
			return nil, err
		}
	}
	return sales, nil
}

// ReverseSale runs the entire reversal as one serializable transaction:
// header lock and checks, locked restock with movement rows, membership
// deactivation, status flip, and the reversal record.
func (s *Store) ReverseSale(ctx context.Context, saleID string, reason string, actorID string, at time.Time) (*domain.ReversalRecord, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var saleNumber string
	var status domain.SaleStatus
	var total decimal.Decimal
	var createdAt time.Time
	err = tx.QueryRowContext(ctx, `
		SELECT sale_number, status, total, created_at
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, saleID).Scan(&saleNumber, &status, &total, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sale %s: %w", saleID, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if status == domain.SaleStatusRefunded {
		return nil, fmt.Errorf("sale %s: %w", saleNumber, store.ErrAlreadyReversed)
	}
	if status != domain.SaleStatusCompleted {
		return nil, fmt.Errorf("sale %s has status %s: %w", saleNumber, status, store.ErrInvalidRequest)
	}
	if createdAt.UTC().Format("2006-01-02") != at.UTC().Format("2006-01-02") {
		return nil, fmt.Errorf("sale %s created %s: %w", saleNumber,
			createdAt.UTC().Format("2006-01-02"), store.ErrReversalWindowExpired)
	}

	lineRows, err := tx.QueryContext(ctx, `
		SELECT product_id, product_name, quantity
		FROM sale_product_lines
		WHERE sale_id = $1
	`, saleID)
	if err != nil {
		return nil, err
	}
	restocked := make([]domain.RestockedProduct, 0, 4)
	for lineRows.Next() {
		var line domain.RestockedProduct
		if err := lineRows.Scan(&line.ProductID, &line.ProductName, &line.Quantity); err != nil {
			_ = lineRows.Close()
			return nil, err
		}
		restocked = append(restocked, line)
	}
	if err := lineRows.Err(); err != nil {
		_ = lineRows.Close()
		return nil, err
	}
	_ = lineRows.Close()

	for _, line := range restocked {
		var stock int
		err := tx.QueryRowContext(ctx, `
			SELECT current_stock FROM products WHERE id = $1 FOR UPDATE
		`, line.ProductID).Scan(&stock)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE products
			SET current_stock = current_stock + $1, updated_at = $2
			WHERE id = $3
		`, line.Quantity, at, line.ProductID)
		if err != nil {
			return nil, err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_movements (id, product_id, type, quantity, stock_before, stock_after, reference, notes, created_by, created_at)
			VALUES ($1,$2,'return',$3,$4,$5,$6,$7,$8,$9)
		`, xid.New("mov"), line.ProductID, line.Quantity, stock, stock+line.Quantity, saleNumber, reason, actorID, at)
		if err != nil {
			return nil, err
		}
	}

	cancelRows, err := tx.QueryContext(ctx, `
		UPDATE memberships
		SET active = false
		WHERE active = true
		  AND start_date >= $1
		  AND customer_id IN (SELECT customer_id FROM sale_membership_lines WHERE sale_id = $2)
		RETURNING id, customer_id, plan_name
	`, createdAt, saleID)
	if err != nil {
		return nil, err
	}
	cancelled := make([]domain.CancelledMembership, 0, 2)
	for cancelRows.Next() {
		var m domain.CancelledMembership
		if err := cancelRows.Scan(&m.MembershipID, &m.CustomerID, &m.PlanName); err != nil {
			_ = cancelRows.Close()
			return nil, err
		}
		cancelled = append(cancelled, m)
	}
	if err := cancelRows.Err(); err != nil {
		_ = cancelRows.Close()
		return nil, err
	}
	_ = cancelRows.Close()

	_, err = tx.ExecContext(ctx, `
		UPDATE sales
		SET status = $1, reversed_at = $2, updated_at = $2
		WHERE id = $3
	`, domain.SaleStatusRefunded, at, saleID)
	if err != nil {
		return nil, err
	}

	record := domain.ReversalRecord{
		ID:                   xid.New("rev"),
		SaleID:               saleID,
		SaleNumber:           saleNumber,
		Reason:               reason,
		RefundedAmount:       total,
		RestockedProducts:    restocked,
		CancelledMemberships: cancelled,
		ReversedBy:           actorID,
		CreatedAt:            at,
	}
	restockedJSON, err := json.Marshal(record.RestockedProducts)
	if err != nil {
		return nil, err
	}
	cancelledJSON, err := json.Marshal(record.CancelledMemberships)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sale_reversals (id, sale_id, sale_number, reason, refunded_amount, restocked_products, cancelled_memberships, reversed_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, record.ID, record.SaleID, record.SaleNumber, record.Reason, record.RefundedAmount, restockedJSON, cancelledJSON, record.ReversedBy, record.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("sale %s: %w", saleNumber, store.ErrAlreadyReversed)
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Store) GetReversalBySaleID(ctx context.Context, saleID string) (*domain.ReversalRecord, error) {
	var record domain.ReversalRecord
	var restockedJSON, cancelledJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sale_id, sale_number, reason, refunded_amount, restocked_products, cancelled_memberships, reversed_by, created_at
		FROM sale_reversals
		WHERE sale_id = $1
	`, saleID).Scan(&record.ID, &record.SaleID, &record.SaleNumber, &record.Reason, &record.RefundedAmount, &restockedJSON, &cancelledJSON, &record.ReversedBy, &record.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reversal for sale %s: %w", saleID, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(restockedJSON, &record.RestockedProducts); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(cancelledJSON, &record.CancelledMemberships); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Store) GetSalesSummary(ctx context.Context, from time.Time, to time.Time) (domain.SalesSummary, error) {
	summary := domain.SalesSummary{
		From:           from,
		To:             to,
		GrossRevenue:   decimal.Zero,
		RefundedAmount: decimal.Zero,
		NetRevenue:     decimal.Zero,
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, payment_channel, count(*), COALESCE(sum(total), 0)
		FROM sales
		WHERE created_at >= $1 AND created_at < $2 AND status IN ('completed', 'refunded')
		GROUP BY status, payment_channel
	`, from, to)
	if err != nil {
		return domain.SalesSummary{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var status domain.SaleStatus
		var channel domain.PaymentChannel
		var count int
		var total decimal.Decimal
		if err := rows.Scan(&status, &channel, &count, &total); err != nil {
			return domain.SalesSummary{}, err
		}
		summary.SalesCount += count
		summary.GrossRevenue = summary.GrossRevenue.Add(total)
		switch status {
		case domain.SaleStatusCompleted:
			summary.ByChannel.Add(channel, total)
		case domain.SaleStatusRefunded:
			summary.RefundedCount += count
			summary.RefundedAmount = summary.RefundedAmount.Add(total)
		}
	}
	if err := rows.Err(); err != nil {
		return domain.SalesSummary{}, err
	}
	summary.NetRevenue = summary.GrossRevenue.Sub(summary.RefundedAmount)
	return summary, nil
}

// --- cash closures ---

const closureColumns = `
	id, seller_id, seller_name, shift_date, shift_start, shift_end,
	cash_recorded, nequi_recorded, bancolombia_recorded, daviplata_recorded, card_recorded, transfer_recorded,
	cash_counted, nequi_counted, bancolombia_counted, daviplata_counted, card_counted, transfer_counted,
	cash_diff, nequi_diff, bancolombia_diff, daviplata_diff, card_diff, transfer_diff,
	total_recorded, total_counted, total_differences, has_discrepancies,
	COALESCE(discrepancy_notes, ''), COALESCE(notes, ''), status, sales_count,
	total_products_sold, total_memberships_sold, total_daily_access_sold,
	COALESCE(reviewed_by, ''), reviewed_at, COALESCE(review_notes, ''), created_at, updated_at
`

func scanClosure(scanner interface{ Scan(...any) error }) (domain.CashClosure, error) {
	var c domain.CashClosure
	var reviewedAt sql.NullTime
	err := scanner.Scan(
		&c.ID, &c.SellerID, &c.SellerName, &c.ShiftDate, &c.ShiftStart, &c.ShiftEnd,
		&c.Recorded.Cash, &c.Recorded.Nequi, &c.Recorded.Bancolombia, &c.Recorded.Daviplata, &c.Recorded.Card, &c.Recorded.Transfer,
		&c.Counted.Cash, &c.Counted.Nequi, &c.Counted.Bancolombia, &c.Counted.Daviplata, &c.Counted.Card, &c.Counted.Transfer,
		&c.Differences.Cash, &c.Differences.Nequi, &c.Differences.Bancolombia, &c.Differences.Daviplata, &c.Differences.Card, &c.Differences.Transfer,
		&c.TotalRecorded, &c.TotalCounted, &c.TotalDifferences, &c.HasDiscrepancies,
		&c.DiscrepancyNotes, &c.Notes, &c.Status, &c.SalesCount,
		&c.TotalProductsSold, &c.TotalMembershipsSold, &c.TotalDailyAccessSold,
		&c.ReviewedBy, &reviewedAt, &c.ReviewNotes, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return domain.CashClosure{}, err
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time.UTC()
		c.ReviewedAt = &t
	}
	c.ShiftDate = c.ShiftDate.UTC()
	c.ShiftStart = c.ShiftStart.UTC()
	c.ShiftEnd = c.ShiftEnd.UTC()
	return c, nil
}

// UpsertClosure inserts or refreshes the closure for (seller, shift date) in
// a single statement. The unique constraint makes concurrent submissions for
// the same shift converge on one row; id and created_at survive updates. The
// DO UPDATE carries a status guard so a closure reviewed or cancelled between
// the caller's read and this write is never reopened; that case returns no
// row and maps to ErrInvalidRequest.
func (s *Store) UpsertClosure(ctx context.Context, closure domain.CashClosure) (*domain.CashClosure, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO cash_closures (
			id, seller_id, seller_name, shift_date, shift_start, shift_end,
			cash_recorded, nequi_recorded, bancolombia_recorded, daviplata_recorded, card_recorded, transfer_recorded,
			cash_counted, nequi_counted, bancolombia_counted, daviplata_counted, card_counted, transfer_counted,
			cash_diff, nequi_diff, bancolombia_diff, daviplata_diff, card_diff, transfer_diff,
			total_recorded, total_counted, total_differences, has_discrepancies,
			discrepancy_notes, notes, status, sales_count,
			total_products_sold, total_memberships_sold, total_daily_access_sold,
			created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33,$34,$35,$36,$37)
		ON CONFLICT (seller_id, shift_date) DO UPDATE SET
			seller_name = EXCLUDED.seller_name,
			shift_start = EXCLUDED.shift_start,
			shift_end = EXCLUDED.shift_end,
			cash_recorded = EXCLUDED.cash_recorded,
			nequi_recorded = EXCLUDED.nequi_recorded,
			bancolombia_recorded = EXCLUDED.bancolombia_recorded,
			daviplata_recorded = EXCLUDED.daviplata_recorded,
			card_recorded = EXCLUDED.card_recorded,
			transfer_recorded = EXCLUDED.transfer_recorded,
			cash_counted = EXCLUDED.cash_counted,
			nequi_counted = EXCLUDED.nequi_counted,
			bancolombia_counted = EXCLUDED.bancolombia_counted,
			daviplata_counted = EXCLUDED.daviplata_counted,
			card_counted = EXCLUDED.card_counted,
			transfer_counted = EXCLUDED.transfer_counted,
			cash_diff = EXCLUDED.cash_diff,
			nequi_diff = EXCLUDED.nequi_diff,
			bancolombia_diff = EXCLUDED.bancolombia_diff,
			daviplata_diff = EXCLUDED.daviplata_diff,
			card_diff = EXCLUDED.card_diff,
			transfer_diff = EXCLUDED.transfer_diff,
			total_recorded = EXCLUDED.total_recorded,
			total_counted = EXCLUDED.total_counted,
			total_differences = EXCLUDED.total_differences,
			has_discrepancies = EXCLUDED.has_discrepancies,
			discrepancy_notes = EXCLUDED.discrepancy_notes,
			notes = EXCLUDED.notes,
			status = EXCLUDED.status,
			sales_count = EXCLUDED.sales_count,
			total_products_sold = EXCLUDED.total_products_sold,
			total_memberships_sold = EXCLUDED.total_memberships_sold,
			total_daily_access_sold = EXCLUDED.total_daily_access_sold,
			updated_at = EXCLUDED.updated_at
		WHERE cash_closures.status NOT IN ('reviewed', 'cancelled')
		RETURNING `+closureColumns,
		closure.ID, closure.SellerID, closure.SellerName, closure.ShiftDate, closure.ShiftStart, closure.ShiftEnd,
		closure.Recorded.Cash, closure.Recorded.Nequi, closure.Recorded.Bancolombia, closure.Recorded.Daviplata, closure.Recorded.Card, closure.Recorded.Transfer,
		closure.Counted.Cash, closure.Counted.Nequi, closure.Counted.Bancolombia, closure.Counted.Daviplata, closure.Counted.Card, closure.Counted.Transfer,
		closure.Differences.Cash, closure.Differences.Nequi, closure.Differences.Bancolombia, closure.Differences.Daviplata, closure.Differences.Card, closure.Differences.Transfer,
		closure.TotalRecorded, closure.TotalCounted, closure.TotalDifferences, closure.HasDiscrepancies,
		nullIfEmpty(closure.DiscrepancyNotes), nullIfEmpty(closure.Notes), closure.Status, closure.SalesCount,
		closure.TotalProductsSold, closure.TotalMembershipsSold, closure.TotalDailyAccessSold,
		closure.CreatedAt, closure.UpdatedAt,
	)

	saved, err := scanClosure(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cash closure for %s on %s already finalized: %w",
			closure.SellerID, closure.ShiftDate.UTC().Format("2006-01-02"), store.ErrInvalidRequest)
	}
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

func (s *Store) GetClosureByID(ctx context.Context, id string) (*domain.CashClosure, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+closureColumns+` FROM cash_closures WHERE id = $1`, id)
	closure, err := scanClosure(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cash closure %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &closure, nil
}

func (s *Store) GetClosureBySellerAndDate(ctx context.Context, sellerID string, shiftDate time.Time) (*domain.CashClosure, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+closureColumns+`
		FROM cash_closures
		WHERE seller_id = $1 AND shift_date = $2
	`, sellerID, shiftDate.UTC().Format("2006-01-02"))
	closure, err := scanClosure(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cash closure for %s on %s: %w", sellerID, shiftDate.UTC().Format("2006-01-02"), store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &closure, nil
}

func (s *Store) ListClosures(ctx context.Context, filter domain.ClosureListFilter) ([]domain.CashClosure, int, error) {
	conditions := make([]string, 0, 4)
	args := make([]any, 0, 4)
	if filter.SellerID != "" {
		args = append(args, filter.SellerID)
		conditions = append(conditions, fmt.Sprintf("seller_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From.UTC().Format("2006-01-02"))
		conditions = append(conditions, fmt.Sprintf("shift_date >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To.UTC().Format("2006-01-02"))
		conditions = append(conditions, fmt.Sprintf("shift_date <= $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM cash_closures %s`, where), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size < 1 {
		size = 20
	}
	args = append(args, size, (page-1)*size)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM cash_closures %s
		ORDER BY shift_date DESC, seller_id
		LIMIT $%d OFFSET $%d
	`, closureColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	closures := make([]domain.CashClosure, 0, size)
	for rows.Next() {
		closure, err := scanClosure(rows)
		if err != nil {
			return nil, 0, err
		}
		closures = append(closures, closure)
	}
	return closures, total, rows.Err()
}

func (s *Store) ReviewClosure(ctx context.Context, closureID string, reviewerID string, status domain.ClosureStatus, notes string, at time.Time) (*domain.CashClosure, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE cash_closures
		SET status = $1, reviewed_by = $2, reviewed_at = $3, review_notes = $4, updated_at = $3
		WHERE id = $5 AND status NOT IN ('reviewed', 'cancelled')
		RETURNING `+closureColumns,
		status, reviewerID, at, nullIfEmpty(notes), closureID)

	closure, err := scanClosure(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Either the closure does not exist or it is already finalized.
		if _, lookupErr := s.GetClosureByID(ctx, closureID); lookupErr != nil {
			return nil, lookupErr
		}
		return nil, fmt.Errorf("cash closure %s already finalized: %w", closureID, store.ErrInvalidRequest)
	}
	if err != nil {
		return nil, err
	}
	return &closure, nil
}

// --- users / audit ---

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.StaffUser, error) {
	var u domain.StaffUser
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, full_name, role, password_hash, active
		FROM staff_users
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username))).Scan(&u.ID, &u.Username, &u.FullName, &u.Role, &u.PasswordHash, &u.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", username, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.StaffUser, error) {
	var u domain.StaffUser
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, full_name, role, password_hash, active
		FROM staff_users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.Username, &u.FullName, &u.Role, &u.PasswordHash, &u.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.StaffUser) (*domain.StaffUser, error) {
	if user.ID == "" {
		user.ID = xid.New("user")
	}
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO staff_users (id, username, full_name, role, password_hash, active)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, user.ID, user.Username, user.FullName, user.Role, user.PasswordHash, user.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("username %s taken: %w", user.Username, store.ErrInvalidRequest)
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.StaffUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, full_name, role, password_hash, active
		FROM staff_users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.StaffUser, 0, 16)
	for rows.Next() {
		var u domain.StaffUser
		if err := rows.Scan(&u.ID, &u.Username, &u.FullName, &u.Role, &u.PasswordHash, &u.Active); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_id, action, entity, entity_id, details, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, entry.ID, entry.ActorID, entry.Action, entry.Entity, entry.EntityID, nullIfEmpty(entry.Details), entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	conditions := make([]string, 0, 2)
	args := []any{limit}
	if !from.IsZero() {
		args = append(args, from)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !to.IsZero() {
		args = append(args, to)
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, actor_id, action, entity, entity_id, COALESCE(details, ''), created_at
		FROM audit_logs
		%s
		ORDER BY created_at DESC
		LIMIT $1
	`, where), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorID, &entry.Action, &entry.Entity, &entry.EntityID, &entry.Details, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// --- helpers ---

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
