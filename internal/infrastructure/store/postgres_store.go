package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/example/ec-order-engine/internal/domain/order"
	"github.com/example/ec-order-engine/internal/domain/product"
	"github.com/example/ec-order-engine/internal/domain/user"
)

// PostgresStore is the relational alternative to the DynamoDB backend.
// The conditional decrement is expressed as a guarded UPDATE, which the
// database applies atomically per row.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// ConnectPostgres opens and pings a PostgreSQL connection.
func ConnectPostgres(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (s *PostgresStore) PutProduct(ctx context.Context, p *product.Product) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (id, name, price_cents, stock, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE
		 SET name = EXCLUDED.name, price_cents = EXCLUDED.price_cents,
		     active = EXCLUDED.active, updated_at = EXCLUDED.updated_at`,
		p.ID, p.Name, p.PriceCents, p.Stock, p.Active, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put product: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProduct(ctx context.Context, id string) (*product.Product, error) {
	var p product.Product
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, price_cents, stock, active, created_at, updated_at
		 FROM products WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Name, &p.PriceCents, &p.Stock, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, product.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &p, nil
}

// DecrementStock decrements only when stock covers the quantity. Zero rows
// affected means the guard rejected the write.
func (s *PostgresStore) DecrementStock(ctx context.Context, productID string, qty int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET stock = stock - $1, updated_at = $2
		 WHERE id = $3 AND stock >= $1`,
		qty, time.Now().UTC(), productID,
	)
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrInsufficientStock
	}
	return nil
}

func (s *PostgresStore) IncrementStock(ctx context.Context, productID string, qty int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET stock = stock + $1, updated_at = $2 WHERE id = $3`,
		qty, time.Now().UTC(), productID,
	)
	if err != nil {
		return fmt.Errorf("failed to increment stock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return product.ErrProductNotFound
	}
	return nil
}

func (s *PostgresStore) CreateOrder(ctx context.Context, o *order.Order) error {
	lines, err := json.Marshal(o.Lines)
	if err != nil {
		return fmt.Errorf("failed to marshal order lines: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, lines, shipping_address, subtotal_cents, tax_cents,
		                     shipping_cents, total_cents, payment_method, payment_status, status,
		                     tracking_number, estimated_delivery, external_payment_ref, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		o.ID, o.UserID, lines, o.ShippingAddress, o.SubtotalCents, o.TaxCents,
		o.ShippingCents, o.TotalCents, o.PaymentMethod, o.PaymentStatus, o.Status,
		nullString(o.TrackingNumber), o.EstimatedDelivery, nullString(o.ExternalPaymentRef),
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveOrder(ctx context.Context, o *order.Order) error {
	lines, err := json.Marshal(o.Lines)
	if err != nil {
		return fmt.Errorf("failed to marshal order lines: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET payment_status = $1, status = $2, tracking_number = $3,
		        estimated_delivery = $4, external_payment_ref = $5, lines = $6, updated_at = $7
		 WHERE id = $8`,
		o.PaymentStatus, o.Status, nullString(o.TrackingNumber),
		o.EstimatedDelivery, nullString(o.ExternalPaymentRef), lines, o.UpdatedAt, o.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return order.ErrOrderNotFound
	}
	return nil
}

// SaveOrderFrom adds the prior status to the WHERE clause; zero rows
// affected means another transition won the race.
func (s *PostgresStore) SaveOrderFrom(ctx context.Context, o *order.Order, from order.Status) error {
	lines, err := json.Marshal(o.Lines)
	if err != nil {
		return fmt.Errorf("failed to marshal order lines: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET payment_status = $1, status = $2, tracking_number = $3,
		        estimated_delivery = $4, external_payment_ref = $5, lines = $6, updated_at = $7
		 WHERE id = $8 AND status = $9`,
		o.PaymentStatus, o.Status, nullString(o.TrackingNumber),
		o.EstimatedDelivery, nullString(o.ExternalPaymentRef), lines, o.UpdatedAt, o.ID, from,
	)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrStatusConflict
	}
	return nil
}

const orderColumns = `id, user_id, lines, shipping_address, subtotal_cents, tax_cents,
	shipping_cents, total_cents, payment_method, payment_status, status,
	tracking_number, estimated_delivery, external_payment_ref, created_at, updated_at`

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)

	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, order.ErrOrderNotFound
	}
	return o, err
}

func (s *PostgresStore) ListOrdersByUser(ctx context.Context, userID string) ([]*order.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *PostgresStore) ListOrders(ctx context.Context) ([]*order.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *PostgresStore) DeleteOrder(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*order.Order, error) {
	var (
		o        order.Order
		lines    []byte
		tracking sql.NullString
		extRef   sql.NullString
		eta      sql.NullTime
	)
	err := row.Scan(&o.ID, &o.UserID, &lines, &o.ShippingAddress, &o.SubtotalCents, &o.TaxCents,
		&o.ShippingCents, &o.TotalCents, &o.PaymentMethod, &o.PaymentStatus, &o.Status,
		&tracking, &eta, &extRef, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(lines, &o.Lines); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order lines: %w", err)
	}
	o.TrackingNumber = tracking.String
	o.ExternalPaymentRef = extRef.String
	if eta.Valid {
		t := eta.Time
		o.EstimatedDelivery = &t
	}

	return &o, nil
}

func scanOrders(rows *sql.Rows) ([]*order.Order, error) {
	var orders []*order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *user.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, name, role, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Email, u.PasswordHash, u.Name, u.Role, u.IsActive, u.CreatedAt, u.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*user.User, error) {
	return s.getUser(ctx, `SELECT id, email, password_hash, name, role, is_active, created_at, updated_at
		FROM users WHERE id = $1`, id)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	return s.getUser(ctx, `SELECT id, email, password_hash, name, role, is_active, created_at, updated_at
		FROM users WHERE email = $1`, email)
}

func (s *PostgresStore) getUser(ctx context.Context, query, arg string) (*user.User, error) {
	var u user.User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, user.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
