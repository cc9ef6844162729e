package products

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ariefcatur/go-cached-orders/internal/apperr"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var _ Store = (*Storage)(nil)

const uniqueViolation = "23505"

// Storage is the products persistence on PostgreSQL.
type Storage struct {
	DB *sqlx.DB
}

func (s *Storage) Get(ctx context.Context, id string) (Product, error) {
	var p Product
	err := s.DB.GetContext(ctx, &p, `
		SELECT id, title, passenger_capacity, maximum_speed, in_stock
		FROM products WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Product{}, apperr.NotFound(KindProduct, id)
	}
	return p, err
}

func (s *Storage) List(ctx context.Context) ([]Product, error) {
	out := []Product{}
	err := s.DB.SelectContext(ctx, &out, `
		SELECT id, title, passenger_capacity, maximum_speed, in_stock
		FROM products ORDER BY id`)
	return out, err
}

func (s *Storage) Create(ctx context.Context, p Product) error {
	_, err := s.DB.NamedExecContext(ctx, `
		INSERT INTO products(id, title, passenger_capacity, maximum_speed, in_stock)
		VALUES (:id, :title, :passenger_capacity, :maximum_speed, :in_stock)`, p)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return apperr.Invalid("id", "product %s already exists", p.ID)
	}
	return err
}

func (s *Storage) Delete(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM products WHERE id=$1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound(KindProduct, id)
	}
	return nil
}

// DecrementStock lowers in_stock by qty, clamped at zero, and returns the new level.
func (s *Storage) DecrementStock(ctx context.Context, id string, qty int) (int, error) {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var left int
	err = tx.GetContext(ctx, &left, `
		UPDATE products SET in_stock = GREATEST(in_stock - $2, 0)
		WHERE id=$1
		RETURNING in_stock`, id, qty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperr.NotFound(KindProduct, id)
	}
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return left, nil
}
