package webhooks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/mbd888/tiltcheck/internal/apperr"
)

const subscriptionsTable = "webhook_subscriptions"

// PostgresStore keeps subscriptions in the webhook_subscriptions table
// created by the goose migrations. Event types are a TEXT[] column.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns a store on db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectSubscription = `
	SELECT id, user_id, url, secret, events, active, created_at,
	       last_success, COALESCE(last_error, ''), consecutive_failures
	FROM webhook_subscriptions`

func (p *PostgresStore) Create(ctx context.Context, sub *Subscription) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions (id, user_id, url, secret, events, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sub.ID, sub.UserID, sub.URL, sub.Secret, pq.Array(eventNames(sub.Events)), sub.Active, sub.CreatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("webhook %s: %w", sub.ID, ErrDuplicate)
	}
	return storageErr("create", sub.ID, err)
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Subscription, error) {
	sub, err := scanSubscription(p.db.QueryRowContext(ctx, selectSubscription+` WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("webhook %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get", id, err)
	}
	return sub, nil
}

// ListByUser returns the user's subscriptions, newest first.
func (p *PostgresStore) ListByUser(ctx context.Context, userID string) ([]*Subscription, error) {
	rows, err := p.db.QueryContext(ctx, selectSubscription+` WHERE user_id = $1 ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, storageErr("list", userID, err)
	}
	defer func() { _ = rows.Close() }()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, storageErr("list", userID, err)
		}
		subs = append(subs, sub)
	}
	return subs, storageErr("list", userID, rows.Err())
}

// Update writes the event list and delivery state. URL and secret are
// immutable.
func (p *PostgresStore) Update(ctx context.Context, sub *Subscription) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE webhook_subscriptions
		SET events = $2, active = $3, last_success = $4,
		    last_error = NULLIF($5, ''), consecutive_failures = $6
		WHERE id = $1`,
		sub.ID, pq.Array(eventNames(sub.Events)), sub.Active, sub.LastSuccess,
		sub.LastError, sub.ConsecutiveFailures)
	return affected("update", sub.ID, res, err)
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1`, id)
	return affected("delete", id, res, err)
}

func affected(op, id string, res sql.Result, err error) error {
	if err != nil {
		return storageErr(op, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(op, id, err)
	}
	if n == 0 {
		return fmt.Errorf("webhook %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

func storageErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &apperr.StorageError{Op: op, Table: subscriptionsTable, Key: key, Err: err}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*Subscription, error) {
	var (
		sub         Subscription
		events      pq.StringArray
		lastSuccess sql.NullTime
	)
	err := row.Scan(&sub.ID, &sub.UserID, &sub.URL, &sub.Secret, &events, &sub.Active,
		&sub.CreatedAt, &lastSuccess, &sub.LastError, &sub.ConsecutiveFailures)
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		sub.Events = append(sub.Events, EventType(e))
	}
	if lastSuccess.Valid {
		t := lastSuccess.Time
		sub.LastSuccess = &t
	}
	return &sub, nil
}

func eventNames(events []EventType) []string {
	names := make([]string, len(events))
	for i, e := range events {
		names[i] = string(e)
	}
	return names
}
