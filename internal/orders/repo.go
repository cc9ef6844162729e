package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-cached-orders/internal/apperr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var _ Store = (*Repo)(nil)

// Repo is the orders persistence on PostgreSQL. Every write runs in a single transaction.
type Repo struct{ DB *pgxpool.Pool }

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *Repo) Get(ctx context.Context, id int64) (Order, error) {
	return getOrder(ctx, r.DB, id, false)
}

func (r *Repo) List(ctx context.Context) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT o.id, d.id, d.product_id, d.price::text, d.quantity
		FROM orders o
		LEFT JOIN order_details d ON d.order_id = o.id
		ORDER BY o.id, d.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Order{}
	for rows.Next() {
		var (
			orderID   int64
			detailID  *int64
			productID *string
			price     *string
			qty       *int
		)
		if err := rows.Scan(&orderID, &detailID, &productID, &price, &qty); err != nil {
			return nil, err
		}
		if len(out) == 0 || out[len(out)-1].ID != orderID {
			out = append(out, Order{ID: orderID, OrderDetails: []OrderDetail{}})
		}
		if detailID == nil {
			continue
		}
		p, err := decimal.NewFromString(*price)
		if err != nil {
			return nil, fmt.Errorf("order %d detail %d price: %w", orderID, *detailID, err)
		}
		cur := &out[len(out)-1]
		cur.OrderDetails = append(cur.OrderDetails, OrderDetail{
			ID: *detailID, OrderID: orderID, ProductID: *productID, Price: p, Quantity: *qty,
		})
	}
	return out, rows.Err()
}

// Create inserts the order and all of its details atomically.
func (r *Repo) Create(ctx context.Context, details []DetailInput) (Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var o Order
	if err := tx.QueryRow(ctx, `INSERT INTO orders DEFAULT VALUES RETURNING id`).Scan(&o.ID); err != nil {
		return Order{}, err
	}

	o.OrderDetails = make([]OrderDetail, 0, len(details))
	for _, in := range details {
		d := OrderDetail{OrderID: o.ID, ProductID: in.ProductID, Price: in.Price, Quantity: in.Quantity}
		err := tx.QueryRow(ctx, `
			INSERT INTO order_details(order_id, product_id, price, quantity)
			VALUES ($1, $2, $3::numeric, $4)
			RETURNING id`,
			o.ID, in.ProductID, in.Price.String(), in.Quantity,
		).Scan(&d.ID)
		if err != nil {
			return Order{}, err
		}
		o.OrderDetails = append(o.OrderDetails, d)
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	return o, nil
}

// Update locks the order, lets apply mutate it in memory and writes back the price and
// quantity of every detail. If apply fails nothing is written.
func (r *Repo) Update(ctx context.Context, id int64, apply func(*Order) error) (Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := getOrder(ctx, tx, id, true)
	if err != nil {
		return Order{}, err
	}
	if err := apply(&o); err != nil {
		return Order{}, err
	}

	for _, d := range o.OrderDetails {
		ct, err := tx.Exec(ctx, `
			UPDATE order_details SET price = $3::numeric, quantity = $4
			WHERE id = $1 AND order_id = $2`,
			d.ID, o.ID, d.Price.String(), d.Quantity,
		)
		if err != nil {
			return Order{}, err
		}
		if ct.RowsAffected() != 1 {
			return Order{}, fmt.Errorf("order %d detail %d vanished during update", o.ID, d.ID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	return o, nil
}

// Delete removes the order; details go with it through ON DELETE CASCADE.
func (r *Repo) Delete(ctx context.Context, id int64) error {
	ct, err := r.DB.Exec(ctx, `DELETE FROM orders WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return apperr.NotFound(KindOrder, id)
	}
	return nil
}

func getOrder(ctx context.Context, q querier, id int64, forUpdate bool) (Order, error) {
	lock := ""
	if forUpdate {
		lock = " FOR UPDATE"
	}
	o := Order{OrderDetails: []OrderDetail{}}
	if err := q.QueryRow(ctx, `SELECT id FROM orders WHERE id=$1`+lock, id).Scan(&o.ID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, apperr.NotFound(KindOrder, id)
		}
		return Order{}, err
	}

	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, price::text, quantity
		FROM order_details WHERE order_id=$1 ORDER BY id`+lock, id)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			d     OrderDetail
			price string
		)
		if err := rows.Scan(&d.ID, &d.OrderID, &d.ProductID, &price, &d.Quantity); err != nil {
			return Order{}, err
		}
		if d.Price, err = decimal.NewFromString(price); err != nil {
			return Order{}, fmt.Errorf("order %d detail %d price: %w", id, d.ID, err)
		}
		o.OrderDetails = append(o.OrderDetails, d)
	}
	return o, rows.Err()
}
