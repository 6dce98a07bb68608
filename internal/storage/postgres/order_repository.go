package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
)

type orderRepository struct {
	store *Store
	db    *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
// Документ заказа разложен по таблицам orders, order_items, order_messages и order_status_history.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{store: store, db: store.DB()}
}

// deliveryRecord: JSONB-представление DeliveryDetails.
type deliveryRecord struct {
	Option               string `json:"option"`
	PortName             string `json:"portName,omitempty"`
	ExpectedShippingDate string `json:"expectedShippingDate,omitempty"`
	Address              string `json:"address,omitempty"`
	PostalCode           string `json:"postalCode,omitempty"`
}

const selectOrderColumns = `
	SELECT id, user_id, user_email, customer_name, status, delivery,
	       subtotal, shipping_fee, tax, total_amount,
	       payment_method, paypal_order_id, paypal_capture_id, actual_delivery_date,
	       version, created_at, updated_at
	FROM orders`

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	delivery, err := encodeDelivery(order.Delivery)
	if err != nil {
		return err
	}

	return r.store.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (
				id, user_id, user_email, customer_name, status, delivery,
				subtotal, shipping_fee, tax, total_amount,
				payment_method, paypal_order_id, paypal_capture_id, actual_delivery_date,
				version, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		`,
			order.ID, order.UserID, order.UserEmail, order.CustomerName, order.Status.String(), delivery,
			order.Subtotal, order.ShippingFee, order.Tax, order.TotalAmount,
			string(order.PaymentMethod), order.PayPalOrderID, order.PayPalCaptureID, order.ActualDeliveryDate,
			order.Version, order.CreatedAt, order.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderExists
			}
			return fmt.Errorf("insert order: %w", err)
		}
		if err := insertHistory(ctx, tx, order.ID, order.StatusHistory, 0); err != nil {
			return err
		}
		return replaceChildren(ctx, tx, order)
	})
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, selectOrderColumns+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	if err := r.loadChildren(ctx, &order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) ListByUser(ctx context.Context, userID string, filter domain.ListFilter) ([]domain.Order, error) {
	return r.list(ctx, userID, filter)
}

func (r *orderRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Order, error) {
	return r.list(ctx, "", filter)
}

func (r *orderRepository) list(ctx context.Context, userID string, filter domain.ListFilter) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		where []string
		args  []any
	)
	if userID != "" {
		args = append(args, userID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		tags := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			tags = append(tags, s.String())
		}
		args = append(args, tags)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	query := selectOrderColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}

	for i := range orders {
		if err := r.loadChildren(ctx, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// Save заменяет документ заказа целиком. История только дописывается: уже сохранённые записи не трогаем.
func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	delivery, err := encodeDelivery(order.Delivery)
	if err != nil {
		return err
	}

	return r.store.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $3,
			    delivery = $4,
			    subtotal = $5,
			    shipping_fee = $6,
			    tax = $7,
			    total_amount = $8,
			    payment_method = $9,
			    paypal_order_id = $10,
			    paypal_capture_id = $11,
			    actual_delivery_date = $12,
			    updated_at = $13,
			    version = version + 1
			WHERE id = $1 AND version = $2
		`,
			order.ID, order.Version, order.Status.String(), delivery,
			order.Subtotal, order.ShippingFee, order.Tax, order.TotalAmount,
			string(order.PaymentMethod), order.PayPalOrderID, order.PayPalCaptureID, order.ActualDeliveryDate,
			order.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, order.ID).Scan(&exists); err != nil {
				return fmt.Errorf("check order exists: %w", err)
			}
			if !exists {
				return domain.ErrOrderNotFound
			}
			return domain.ErrOrderVersionConflict
		}

		var stored int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM order_status_history WHERE order_id = $1`, order.ID).Scan(&stored); err != nil {
			return fmt.Errorf("count status history: %w", err)
		}
		if len(order.StatusHistory) < stored {
			return domain.ErrStatusHistoryRewrite
		}
		if err := insertHistory(ctx, tx, order.ID, order.StatusHistory[stored:], stored); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, order.ID); err != nil {
			return fmt.Errorf("delete order items: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM order_messages WHERE order_id = $1`, order.ID); err != nil {
			return fmt.Errorf("delete order messages: %w", err)
		}
		return replaceChildren(ctx, tx, order)
	})
}

func (r *orderRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order    domain.Order
		status   string
		delivery []byte
		method   string
		actual   sql.NullTime
	)
	if err := row.Scan(
		&order.ID, &order.UserID, &order.UserEmail, &order.CustomerName, &status, &delivery,
		&order.Subtotal, &order.ShippingFee, &order.Tax, &order.TotalAmount,
		&method, &order.PayPalOrderID, &order.PayPalCaptureID, &actual,
		&order.Version, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}

	parsed, err := domain.ParseOrderStatus(status)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = parsed
	order.PaymentMethod = domain.PaymentMethod(method)
	if actual.Valid {
		t := actual.Time.UTC()
		order.ActualDeliveryDate = &t
	}
	order.Delivery, err = decodeDelivery(delivery)
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) loadChildren(ctx context.Context, order *domain.Order) error {
	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return err
	}
	messages, err := r.loadMessages(ctx, order.ID)
	if err != nil {
		return err
	}
	history, err := r.loadHistory(ctx, order.ID)
	if err != nil {
		return err
	}
	order.Items, order.Messages, order.StatusHistory = items, messages, history
	return nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, name, image_url, quantity, unit_price, discount, admin_status, admin_quantity, selected
		FROM order_items
		WHERE order_id = $1
		ORDER BY position
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderLine, 0)
	for rows.Next() {
		var (
			line        domain.OrderLine
			adminStatus string
		)
		if err := rows.Scan(
			&line.ProductID, &line.Name, &line.ImageURL, &line.Quantity,
			&line.UnitPrice, &line.Discount, &adminStatus, &line.AdminQuantity, &line.Selected,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		line.AdminStatus = domain.AdminStatus(adminStatus)
		items = append(items, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

func (r *orderRepository) loadMessages(ctx context.Context, orderID string) ([]domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, sender, text, image_url, read, created_at
		FROM order_messages
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("select order messages: %w", err)
	}
	defer rows.Close()

	messages := make([]domain.Message, 0)
	for rows.Next() {
		var (
			msg    domain.Message
			sender string
		)
		if err := rows.Scan(&msg.ID, &sender, &msg.Text, &msg.ImageURL, &msg.Read, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("scan order message: %w", err)
		}
		msg.Sender = domain.Sender(sender)
		msg.Timestamp = msg.Timestamp.UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order messages: %w", err)
	}
	return messages, nil
}

func (r *orderRepository) loadHistory(ctx context.Context, orderID string) ([]domain.StatusChange, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT old_status, new_status, changed_by, occurred_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY seq
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("select status history: %w", err)
	}
	defer rows.Close()

	history := make([]domain.StatusChange, 0)
	for rows.Next() {
		var (
			change    domain.StatusChange
			oldStatus sql.NullString
			newStatus string
		)
		if err := rows.Scan(&oldStatus, &newStatus, &change.ChangedBy, &change.Timestamp); err != nil {
			return nil, fmt.Errorf("scan status history: %w", err)
		}
		if oldStatus.Valid {
			if change.OldStatus, err = domain.ParseOrderStatus(oldStatus.String); err != nil {
				return nil, err
			}
		}
		if change.NewStatus, err = domain.ParseOrderStatus(newStatus); err != nil {
			return nil, err
		}
		change.Timestamp = change.Timestamp.UTC()
		history = append(history, change)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status history: %w", err)
	}
	return history, nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, orderID string, entries []domain.StatusChange, offset int) error {
	for i, change := range entries {
		var oldStatus sql.NullString
		if change.OldStatus.Valid() {
			oldStatus = sql.NullString{String: change.OldStatus.String(), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_status_history (order_id, seq, old_status, new_status, changed_by, occurred_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, orderID, offset+i, oldStatus, change.NewStatus.String(), change.ChangedBy, change.Timestamp); err != nil {
			return fmt.Errorf("insert status history: %w", err)
		}
	}
	return nil
}

func replaceChildren(ctx context.Context, tx *sql.Tx, order domain.Order) error {
	for i, line := range order.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (
				order_id, position, product_id, name, image_url, quantity,
				unit_price, discount, admin_status, admin_quantity, selected
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`,
			order.ID, i, line.ProductID, line.Name, line.ImageURL, line.Quantity,
			line.UnitPrice, line.Discount, string(line.AdminStatus), line.AdminQuantity, line.Selected,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	for _, msg := range order.Messages {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_messages (order_id, id, sender, text, image_url, read, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, order.ID, msg.ID, string(msg.Sender), msg.Text, msg.ImageURL, msg.Read, msg.Timestamp); err != nil {
			return fmt.Errorf("insert order message: %w", err)
		}
	}
	return nil
}

func encodeDelivery(d domain.DeliveryDetails) ([]byte, error) {
	payload, err := json.Marshal(deliveryRecord{
		Option:               string(d.Option),
		PortName:             d.PortName,
		ExpectedShippingDate: d.ExpectedShippingDate,
		Address:              d.Address,
		PostalCode:           d.PostalCode,
	})
	if err != nil {
		return nil, fmt.Errorf("encode delivery details: %w", err)
	}
	return payload, nil
}

func decodeDelivery(raw []byte) (domain.DeliveryDetails, error) {
	var rec deliveryRecord
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &rec); err != nil {
			return domain.DeliveryDetails{}, fmt.Errorf("decode delivery details: %w", err)
		}
	}
	return domain.DeliveryDetails{
		Option:               domain.DeliveryOption(rec.Option),
		PortName:             rec.PortName,
		ExpectedShippingDate: rec.ExpectedShippingDate,
		Address:              rec.Address,
		PostalCode:           rec.PostalCode,
	}, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
